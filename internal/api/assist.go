package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/querygate/querygate/internal/generator"
)

const maxPromptTables = 20

type generateRequest struct {
	Question string `json:"question"`
}

// handleGenerate asks the candidate generator for a query answering a
// natural-language question, using the store's schema as context. The query
// is validated and repaired but not executed.
func handleGenerate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Generator == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "GENERATE_NOT_CONFIGURED", "query generation is not configured", false, nil)
		return
	}

	var req generateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid generate request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	tables, err := buildTableContexts(r.Context(), deps)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "SCHEMA_FETCH_FAILED", "failed to load schema context", true, map[string]any{"details": err.Error()})
		return
	}
	prompt, err := generator.QuestionPrompt(req.Question, tables)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "PROMPT_FAILED", err.Error(), false, nil)
		return
	}
	raw, err := deps.Generator.Generate(r.Context(), prompt)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "GENERATE_FAILED", "failed to generate query", true, map[string]any{"details": err.Error()})
		return
	}

	candidate := generator.Extract(raw)
	verdict := deps.Checker.Validate(candidate)
	response := map[string]any{
		"sql":        candidate,
		"repairs":    []any{},
		"validation": verdict,
	}
	if !verdict.IsValid && !verdict.HasSecurityError() {
		repaired := deps.Checker.Repair(candidate)
		response["sql"] = repaired.RepairedText
		response["repairs"] = repaired.Repairs
		response["validation"] = deps.Checker.Validate(repaired.RepairedText)
	}
	writeJSON(w, http.StatusOK, response)
}

func buildTableContexts(ctx context.Context, deps Dependencies) ([]generator.TableContext, error) {
	if deps.Schema == nil {
		return []generator.TableContext{}, nil
	}
	list, err := deps.Schema.ListTables(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	contexts := make([]generator.TableContext, 0, min(len(list.Tables), maxPromptTables))
	for _, table := range list.Tables {
		if len(contexts) == maxPromptTables {
			break
		}
		desc, err := deps.Schema.DescribeTable(ctx, table.Name, false)
		if err != nil {
			continue
		}
		columns := make([]string, 0, len(desc.Columns))
		for _, c := range desc.Columns {
			columns = append(columns, c.Name+" "+c.Type)
		}
		contexts = append(contexts, generator.TableContext{TableName: table.Name, Columns: columns})
	}
	return contexts, nil
}
