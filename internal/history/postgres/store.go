// Package postgres stores query history in Postgres through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/querygate/querygate/internal/dialect"
	"github.com/querygate/querygate/internal/history"
)

const (
	DefaultRecentLimit = 50
	MaxRecentLimit     = 500
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping history db: %w", err)
	}
	return nil
}

const insertEntryQuery = `
INSERT INTO query_history (
	id, trace_id, tool, reasoning, user_question, original_sql, final_sql,
	success, error_class, error_message, error_code, repairs,
	regeneration_attempts, row_count, truncated, execution_time_ms, created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb, $13, $14, $15, $16, $17)`

func (s *Store) Record(ctx context.Context, entry history.Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	repairs := entry.Repairs
	if repairs == nil {
		repairs = []dialect.RepairAction{}
	}
	repairsJSON, err := json.Marshal(repairs)
	if err != nil {
		return fmt.Errorf("marshal repairs: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, insertEntryQuery,
		entry.ID,
		entry.TraceID,
		entry.Tool,
		entry.Reasoning,
		entry.UserQuestion,
		entry.OriginalSQL,
		entry.FinalSQL,
		entry.Success,
		entry.ErrorClass,
		entry.ErrorMessage,
		entry.ErrorCode,
		string(repairsJSON),
		entry.RegenerationAttempts,
		entry.RowCount,
		entry.Truncated,
		entry.ExecutionTimeMs,
		entry.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert query history: %w", err)
	}
	return nil
}

const recentEntriesQuery = `
SELECT id, trace_id, tool, reasoning, user_question, original_sql, final_sql,
	success, error_class, error_message, error_code, repairs,
	regeneration_attempts, row_count, truncated, execution_time_ms, created_at
FROM query_history
ORDER BY created_at DESC
LIMIT $1`

func (s *Store) Recent(ctx context.Context, limit int) ([]history.Entry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	limit = min(limit, MaxRecentLimit)

	rows, err := s.db.QueryContext(ctx, recentEntriesQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("list query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]history.Entry, 0)
	for rows.Next() {
		var (
			e       history.Entry
			repairs []byte
		)
		if err := rows.Scan(
			&e.ID, &e.TraceID, &e.Tool, &e.Reasoning, &e.UserQuestion, &e.OriginalSQL, &e.FinalSQL,
			&e.Success, &e.ErrorClass, &e.ErrorMessage, &e.ErrorCode, &repairs,
			&e.RegenerationAttempts, &e.RowCount, &e.Truncated, &e.ExecutionTimeMs, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan query history: %w", err)
		}
		if len(repairs) > 0 {
			if err := json.Unmarshal(repairs, &e.Repairs); err != nil {
				return nil, fmt.Errorf("decode repairs for %s: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list query history rows: %w", err)
	}
	return out, nil
}
