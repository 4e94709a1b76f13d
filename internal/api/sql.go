package api

import (
	"net/http"
	"strings"
)

type sqlRequest struct {
	SQL string `json:"sql"`
}

func readSQL(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req sqlRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid sql request body", false, map[string]any{"details": err.Error()})
		return "", false
	}
	if strings.TrimSpace(req.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return "", false
	}
	return req.SQL, true
}

// handleValidate reports the verdict without touching the store.
func handleValidate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	sqlText, ok := readSQL(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, deps.Checker.Validate(sqlText))
}

// handleRepair repairs and re-validates. Text that fails a security rule is
// returned unchanged with no repairs.
func handleRepair(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	sqlText, ok := readSQL(w, r)
	if !ok {
		return
	}
	verdict := deps.Checker.Validate(sqlText)
	if verdict.HasSecurityError() {
		writeJSON(w, http.StatusOK, map[string]any{
			"repaired_sql": sqlText,
			"repairs":      []any{},
			"applied_any":  false,
			"validation":   verdict,
		})
		return
	}
	repaired := deps.Checker.Repair(sqlText)
	writeJSON(w, http.StatusOK, map[string]any{
		"repaired_sql": repaired.RepairedText,
		"repairs":      repaired.Repairs,
		"applied_any":  repaired.AppliedAny,
		"validation":   deps.Checker.Validate(repaired.RepairedText),
	})
}
