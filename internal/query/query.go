// Package query defines statement execution against the analytics store.
package query

import "context"

const DefaultRowCap = 100

type Request struct {
	SQL         string
	Explain     bool
	AllowWrites bool
}

// Result is always returned, on failure as well: Success is false and
// Error, Code and Hints describe what the store reported.
type Result struct {
	Success         bool     `json:"success"`
	Columns         []string `json:"columns,omitempty"`
	Rows            [][]any  `json:"rows,omitempty"`
	RowCount        int      `json:"row_count"`
	Truncated       bool     `json:"truncated"`
	RowsAffected    *int64   `json:"rows_affected,omitempty"`
	LastInsertID    *int64   `json:"last_insert_id,omitempty"`
	ExecutionTimeMs int64    `json:"execution_time_ms"`
	ExplainPlan     any      `json:"explain_plan,omitempty"`
	Error           string   `json:"error,omitempty"`
	Code            string   `json:"code,omitempty"`
	SQLState        string   `json:"sql_state,omitempty"`
	Hints           []string `json:"hints,omitempty"`
	Transient       bool     `json:"transient,omitempty"`
}

type Engine interface {
	Execute(ctx context.Context, request Request) Result
}
