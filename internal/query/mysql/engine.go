package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/querygate/querygate/internal/dialect"
	"github.com/querygate/querygate/internal/observability"
	"github.com/querygate/querygate/internal/pool"
	"github.com/querygate/querygate/internal/query"
)

// Pool is the part of *pool.Manager the engine needs.
type Pool interface {
	WithConnection(ctx context.Context, opts pool.CallOptions, work func(ctx context.Context, q pool.Querier) error) error
}

type Config struct {
	RowCap      int
	AllowWrites bool
}

type Engine struct {
	pool        Pool
	rowCap      int
	allowWrites bool
	logger      *slog.Logger
}

func NewEngine(p Pool, cfg Config, logger *slog.Logger) *Engine {
	if cfg.RowCap <= 0 {
		cfg.RowCap = query.DefaultRowCap
	}
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Engine{pool: p, rowCap: cfg.RowCap, allowWrites: cfg.AllowWrites, logger: logger}
}

// Execute runs an already validated statement. The read-only whitelist is
// enforced again here unless writes are enabled both on the engine and on
// the request.
func (e *Engine) Execute(ctx context.Context, request query.Request) query.Result {
	start := time.Now()
	result := e.execute(ctx, request)
	elapsed := time.Since(start)
	result.ExecutionTimeMs = elapsed.Milliseconds()
	observability.ObserveExecution(result.Success, result.Truncated, elapsed)
	if !result.Success {
		observability.LoggerWithTrace(ctx, e.logger).WarnContext(ctx, "statement execution failed",
			slog.String("code", result.Code),
			slog.String("sql_state", result.SQLState),
			slog.String("error", result.Error),
		)
	}
	return result
}

func (e *Engine) execute(ctx context.Context, request query.Request) query.Result {
	sqlText := stripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return query.Result{Error: "sql is required", Code: "EMPTY_QUERY"}
	}
	isRead := dialect.IsReadStatement(sqlText)
	if !isRead && !(e.allowWrites && request.AllowWrites) {
		return query.Result{
			Error: fmt.Sprintf("statement type %s is not allowed in read-only mode", firstKeywordOr(sqlText)),
			Code:  "READ_ONLY_VIOLATION",
			Hints: []string{"only SELECT, WITH, EXPLAIN, DESCRIBE and SHOW statements can be executed"},
		}
	}

	var result query.Result
	err := e.pool.WithConnection(ctx, pool.CallOptions{ReadOnly: isRead}, func(ctx context.Context, q pool.Querier) error {
		result = query.Result{}
		if request.Explain && explainable(sqlText) {
			result.ExplainPlan = e.explain(ctx, q, sqlText)
		}
		if isRead {
			return e.read(ctx, q, sqlText, &result)
		}
		return write(ctx, q, sqlText, &result)
	})
	if err != nil {
		return failure(err, result.ExplainPlan)
	}
	result.Success = true
	return result
}

func (e *Engine) read(ctx context.Context, q pool.Querier, sqlText string, result *query.Result) error {
	rows, err := q.QueryContext(ctx, sqlText)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("query columns: %w", err)
	}
	resultRows := make([][]any, 0)
	for rows.Next() {
		if len(resultRows) == e.rowCap {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return err
	}
	result.Columns = columns
	result.Rows = resultRows
	result.RowCount = len(resultRows)
	return nil
}

func write(ctx context.Context, q pool.Querier, sqlText string, result *query.Result) error {
	res, err := q.ExecContext(ctx, sqlText)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil {
		result.RowsAffected = &affected
		result.RowCount = int(affected)
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		result.LastInsertID = &id
	}
	return nil
}

// explain is best effort: the JSON plan first, then the tabular plan, then
// nothing.
func (e *Engine) explain(ctx context.Context, q pool.Querier, sqlText string) any {
	var raw string
	err := q.QueryRowContext(ctx, "EXPLAIN FORMAT=JSON "+sqlText).Scan(&raw)
	if err == nil {
		var plan any
		if json.Unmarshal([]byte(raw), &plan) == nil {
			return plan
		}
		return raw
	}
	e.logger.DebugContext(ctx, "json explain unavailable", slog.String("error", err.Error()))

	rows, err := q.QueryContext(ctx, "EXPLAIN "+sqlText)
	if err != nil {
		e.logger.DebugContext(ctx, "explain unavailable", slog.String("error", err.Error()))
		return nil
	}
	defer func() { _ = rows.Close() }()
	columns, err := rows.Columns()
	if err != nil {
		return nil
	}
	plan := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil
		}
		step := make(map[string]any, len(columns))
		for i, value := range normalizeValues(values) {
			step[columns[i]] = value
		}
		plan = append(plan, step)
	}
	if rows.Err() != nil {
		return nil
	}
	return plan
}

func failure(err error, plan any) query.Result {
	result := query.Result{Error: err.Error(), ExplainPlan: plan}
	if number, state, ok := pool.StoreError(err); ok {
		result.Code = strconv.Itoa(int(number))
		result.SQLState = state
		result.Hints = hintsFor(number)
		return result
	}
	if code, ok := pool.TransientCode(err); ok {
		result.Code = code
		result.Transient = true
		result.Hints = []string{"the store was unreachable or busy; retry the request later"}
		return result
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		result.Code = "DEADLINE_EXCEEDED"
		result.Hints = []string{"the request deadline expired before the statement finished"}
	case errors.Is(err, context.Canceled):
		result.Code = "CANCELED"
	default:
		result.Code = "EXECUTION_ERROR"
	}
	return result
}

func explainable(sqlText string) bool {
	switch dialect.FirstKeyword(sqlText) {
	case "SELECT", "WITH":
		return true
	}
	return false
}

func firstKeywordOr(sqlText string) string {
	if keyword := dialect.FirstKeyword(sqlText); keyword != "" {
		return keyword
	}
	return "unknown"
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
