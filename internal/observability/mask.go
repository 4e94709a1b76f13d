package observability

import (
	"regexp"
	"strings"
)

var (
	rePassword = regexp.MustCompile(`(?i)(password=)([^\s;&]+)`)
	reDSNPass  = regexp.MustCompile(`(?i)(://)([^:/@]+):([^@]+)(@)`)
	reUserPass = regexp.MustCompile(`^([^:/@()]+):([^@]*)(@)`)
	reAPIKey   = regexp.MustCompile(`(?i)(apikey=|api_key=|bearer\s+)([^\s;&]+)`)
)

// MaskDSN hides credentials in URL-style and go-sql-driver style DSNs
// (user:pass@tcp(host:3306)/db) before they reach logs or status payloads.
func MaskDSN(s string) string {
	out := strings.TrimSpace(s)
	out = reDSNPass.ReplaceAllString(out, "$1*:*$4")
	if !strings.Contains(out, "://") {
		out = reUserPass.ReplaceAllString(out, "$1:***$3")
	}
	out = rePassword.ReplaceAllString(out, "$1***")
	out = reAPIKey.ReplaceAllString(out, "$1***")
	return out
}
