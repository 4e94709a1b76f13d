// Package history records one row per execute_sql call for later audit.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/querygate/querygate/internal/dialect"
)

var ErrDisabled = errors.New("query history is not enabled")

type Entry struct {
	ID                   string                 `json:"id"`
	TraceID              string                 `json:"trace_id,omitempty"`
	Tool                 string                 `json:"tool"`
	Reasoning            string                 `json:"reasoning,omitempty"`
	UserQuestion         string                 `json:"user_question,omitempty"`
	OriginalSQL          string                 `json:"original_sql,omitempty"`
	FinalSQL             string                 `json:"final_sql,omitempty"`
	Success              bool                   `json:"success"`
	ErrorClass           string                 `json:"error_class,omitempty"`
	ErrorMessage         string                 `json:"error,omitempty"`
	ErrorCode            string                 `json:"code,omitempty"`
	Repairs              []dialect.RepairAction `json:"repairs,omitempty"`
	RegenerationAttempts int                    `json:"regeneration_attempts"`
	RowCount             int                    `json:"row_count"`
	Truncated            bool                   `json:"truncated"`
	ExecutionTimeMs      int64                  `json:"execution_time_ms"`
	CreatedAt            time.Time              `json:"created_at"`
}

type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// Reader lists recent entries, newest first.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

// Nop discards entries. It is used when no history store is configured.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

func (Nop) Recent(context.Context, int) ([]Entry, error) { return nil, ErrDisabled }
