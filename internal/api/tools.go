package api

import (
	"encoding/json"
	"io"
	"net/http"
	"slices"

	"github.com/querygate/querygate/internal/pipeline"
)

// handleToolCall dispatches the request body as the tool's arguments. Tool
// failures are part of the payload and still answer 200; only an unknown
// tool or an unreadable body changes the status.
func handleToolCall(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Tools == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TOOLS_NOT_CONFIGURED", "tool dispatcher is not configured", false, nil)
		return
	}
	name := r.PathValue("name")
	if !slices.Contains(deps.Tools.Names(), name) {
		writeError(r.Context(), w, http.StatusNotFound, "UNKNOWN_TOOL", "unknown tool "+name, false, map[string]any{"valid_tools": deps.Tools.Names()})
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body is too large", false, nil)
		return
	}
	if len(raw) > 0 && !json.Valid(raw) {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "tool arguments must be a JSON object", false, nil)
		return
	}

	result := deps.Tools.Dispatch(r.Context(), name, raw)
	status := http.StatusOK
	if result.ErrorClass == pipeline.ClassTransient {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, result)
}
