package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/querygate/querygate/internal/dialect"
	"github.com/querygate/querygate/internal/history"
)

func TestRecordAssignsIDAndTimestamp(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	var capturedID string
	mock.ExpectExec(regexp.QuoteMeta(insertEntryQuery)).
		WithArgs(
			uuidArg{&capturedID}, "trace-1", "execute_sql", "why", "", "SELECT a::int FROM t", "SELECT CAST(a AS SIGNED) FROM t LIMIT 100",
			true, "", "", "", `[{"kind":"cast","original":"a::int","replacement":"CAST(a AS SIGNED)","confidence":"high"}]`,
			0, 3, false, int64(12), now,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Record(context.Background(), history.Entry{
		TraceID:     "trace-1",
		Tool:        "execute_sql",
		Reasoning:   "why",
		OriginalSQL: "SELECT a::int FROM t",
		FinalSQL:    "SELECT CAST(a AS SIGNED) FROM t LIMIT 100",
		Success:     true,
		Repairs: []dialect.RepairAction{
			{Kind: "cast", Original: "a::int", Replacement: "CAST(a AS SIGNED)", Confidence: dialect.ConfidenceHigh},
		},
		RowCount:        3,
		ExecutionTimeMs: 12,
	})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if _, err := uuid.Parse(capturedID); err != nil {
		t.Fatalf("generated id %q is not a uuid", capturedID)
	}
	assertSQLMock(t, mock)
}

func TestRecordWrapsErrors(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db)

	mock.ExpectExec(regexp.QuoteMeta(insertEntryQuery)).WillReturnError(errors.New("relation does not exist"))

	err := store.Record(context.Background(), history.Entry{ID: "x", Tool: "execute_sql"})
	if err == nil || !strings.Contains(err.Error(), "insert query history") {
		t.Fatalf("Record() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestRecentDecodesRepairs(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	columns := []string{
		"id", "trace_id", "tool", "reasoning", "user_question", "original_sql", "final_sql",
		"success", "error_class", "error_message", "error_code", "repairs",
		"regeneration_attempts", "row_count", "truncated", "execution_time_ms", "created_at",
	}
	mock.ExpectQuery(regexp.QuoteMeta(recentEntriesQuery)).
		WithArgs(MaxRecentLimit).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("id-1", "", "execute_sql", "", "", "DROP TABLE t", "DROP TABLE t",
				false, "security", "statement type DROP is not allowed", "", []byte(`[]`),
				0, 0, false, int64(0), created).
			AddRow("id-2", "", "execute_sql", "", "", "SELECT a::int FROM t", "SELECT CAST(a AS SIGNED) FROM t LIMIT 100",
				true, "", "", "", []byte(`[{"kind":"cast","original":"a::int","replacement":"CAST(a AS SIGNED)","confidence":"high"}]`),
				1, 100, true, int64(40), created))

	entries, err := store.Recent(context.Background(), 10_000)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d", len(entries))
	}
	if entries[0].ErrorClass != "security" || entries[0].Success {
		t.Fatalf("entries[0] = %+v", entries[0])
	}
	if len(entries[1].Repairs) != 1 || entries[1].Repairs[0].Kind != "cast" {
		t.Fatalf("entries[1].Repairs = %+v", entries[1].Repairs)
	}
	if !entries[1].Truncated || entries[1].RegenerationAttempts != 1 {
		t.Fatalf("entries[1] = %+v", entries[1])
	}
	assertSQLMock(t, mock)
}

func TestRecentDefaultsLimit(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db)

	mock.ExpectQuery(regexp.QuoteMeta(recentEntriesQuery)).
		WithArgs(DefaultRecentLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	entries, err := store.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("len(entries) = %d", len(entries))
	}
	assertSQLMock(t, mock)
}

// uuidArg captures the generated id while matching any string argument.
type uuidArg struct{ dst *string }

func (a uuidArg) Match(v driver.Value) bool {
	s, ok := v.(string)
	if ok {
		*a.dst = s
	}
	return ok
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
