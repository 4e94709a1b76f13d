// Package querygatectl implements the operator CLI. Remote commands talk to
// the querygate API; validate and repair run the dialect checker locally.
package querygatectl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/querygate/querygate/internal/dialect"
)

type Options struct {
	BaseURL      string
	Timeout      time.Duration
	DefaultLimit int
	HTTPClient   *http.Client
	Stdout       io.Writer
	Stderr       io.Writer
}

// exitError carries a non-usage failure. Anything else returned by the
// command tree is a usage error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func failure(format string, args ...any) error {
	return &exitError{code: 1, err: fmt.Errorf(format, args...)}
}

// Run executes one command and returns the process exit code: 0 on success,
// 1 on request or verdict failure, 2 on usage errors.
func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	root := newRootCommand(defaults, stdout)
	if args == nil {
		// cobra falls back to os.Args when handed nil.
		args = []string{}
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var exit *exitError
	if errors.As(err, &exit) {
		_, _ = fmt.Fprintln(stderr, exit.Error())
		return exit.code
	}
	_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
	_, _ = fmt.Fprint(stderr, root.UsageString())
	return 2
}

type remote struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

func newRootCommand(defaults Options, stdout io.Writer) *cobra.Command {
	r := &remote{}
	root := &cobra.Command{
		Use:           "querygatectl",
		Short:         "Operate a querygate deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(*cobra.Command, []string) error {
			return errors.New("a command is required")
		},
		PersistentPreRun: func(*cobra.Command, []string) {
			r.client = defaults.HTTPClient
			if r.client == nil {
				r.client = &http.Client{Timeout: r.timeout}
			}
		},
	}
	root.PersistentFlags().StringVar(&r.baseURL, "base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "querygate API base URL")
	root.PersistentFlags().DurationVar(&r.timeout, "timeout", durationOr(defaults.Timeout, 10*time.Second), "HTTP timeout (e.g. 10s)")

	for _, simple := range []struct{ use, short, path string }{
		{"health", "GET /v1/health", "/v1/health"},
		{"ready", "GET /v1/ready", "/v1/ready"},
		{"status", "GET /v1/status", "/v1/status"},
		{"tools", "GET /v1/tools", "/v1/tools"},
	} {
		path := simple.path
		root.AddCommand(&cobra.Command{
			Use:   simple.use,
			Short: simple.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				body, err := r.do(cmd.Context(), http.MethodGet, path, nil)
				if err != nil {
					return err
				}
				printJSON(stdout, body)
				return nil
			},
		})
	}

	var historyLimit int
	history := &cobra.Command{
		Use:   "history",
		Short: "GET /v1/history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/v1/history"
			if historyLimit > 0 {
				path += "?limit=" + strconv.Itoa(historyLimit)
			}
			body, err := r.do(cmd.Context(), http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			printJSON(stdout, body)
			return nil
		},
	}
	history.Flags().IntVar(&historyLimit, "limit", 0, "maximum number of entries")
	root.AddCommand(history)

	var callArgs string
	call := &cobra.Command{
		Use:   "call <tool>",
		Short: "POST /v1/tools/{tool}",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := []byte(strings.TrimSpace(callArgs))
			if len(payload) == 0 {
				payload = []byte("{}")
			}
			if !json.Valid(payload) {
				return fmt.Errorf("--args must be a JSON object")
			}
			body, err := r.do(cmd.Context(), http.MethodPost, "/v1/tools/"+url.PathEscape(args[0]), payload)
			if err != nil {
				return err
			}
			printJSON(stdout, body)
			var outcome struct {
				Success bool   `json:"success"`
				Error   string `json:"error"`
			}
			if err := json.Unmarshal(body, &outcome); err == nil && !outcome.Success {
				return failure("tool %s failed: %s", args[0], outcome.Error)
			}
			return nil
		},
	}
	call.Flags().StringVar(&callArgs, "args", "{}", "tool arguments as a JSON object")
	root.AddCommand(call)

	checker := dialect.New(dialect.Options{DefaultLimit: defaults.DefaultLimit})
	root.AddCommand(&cobra.Command{
		Use:   "validate <sql>",
		Short: "Validate SQL against the MySQL dialect and security rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			verdict := checker.Validate(args[0])
			writeJSON(stdout, verdict)
			if !verdict.IsValid {
				return failure("sql is not valid: %s", strings.Join(verdict.Messages(), "; "))
			}
			return nil
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "repair <sql>",
		Short: "Rewrite foreign-dialect SQL into MySQL",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			verdict := checker.Validate(args[0])
			if verdict.HasSecurityError() {
				writeJSON(stdout, map[string]any{"repaired_sql": args[0], "repairs": []any{}, "validation": verdict})
				return failure("sql rejected by security rules")
			}
			repaired := checker.Repair(args[0])
			after := checker.Validate(repaired.RepairedText)
			writeJSON(stdout, map[string]any{
				"repaired_sql": repaired.RepairedText,
				"repairs":      repaired.Repairs,
				"applied_any":  repaired.AppliedAny,
				"validation":   after,
			})
			if !after.IsValid {
				return failure("sql is still not valid after repair")
			}
			return nil
		},
	})
	return root
}

func (r *remote) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	endpoint := strings.TrimRight(r.baseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, failure("request failed: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, failure("request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, failure("read response: %v", err)
	}
	if resp.StatusCode >= 400 {
		return nil, failure("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func printJSON(w io.Writer, raw []byte) {
	if pretty, ok := prettyJSON(raw); ok {
		_, _ = fmt.Fprintln(w, pretty)
		return
	}
	if len(raw) > 0 {
		_, _ = fmt.Fprintln(w, string(raw))
	}
}

func writeJSON(w io.Writer, value any) {
	formatted, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintf(w, "%+v\n", value)
		return
	}
	_, _ = fmt.Fprintln(w, string(formatted))
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
