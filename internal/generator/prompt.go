package generator

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TableContext is the schema excerpt shown to the generator for one table.
type TableContext struct {
	TableName string   `json:"table_name"`
	Columns   []string `json:"columns"`
}

// QuestionPrompt builds the first request for a natural-language question.
func QuestionPrompt(question string, tables []TableContext) (string, error) {
	tablesJSON, err := json.Marshal(tables)
	if err != nil {
		return "", fmt.Errorf("marshal table context: %w", err)
	}
	return fmt.Sprintf(
		"Schema context (JSON):\n%s\n\nUser request:\n%s\n\nRules:\n- Use only listed tables and columns.\n- Prefer explicit columns over SELECT *.\n- Add LIMIT 100 unless the user asks for fewer rows.\n- Output a single MySQL SELECT statement only.",
		string(tablesJSON),
		strings.TrimSpace(question),
	), nil
}
