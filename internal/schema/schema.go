// Package schema exposes read-only metadata about the analytics store:
// table listings, column descriptions and row samples.
package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/querygate/querygate/internal/observability"
	"github.com/querygate/querygate/internal/pool"
)

const (
	MinSampleRows     = 1
	MaxSampleRows     = 50
	DefaultSampleRows = 5
)

var (
	ErrTableNotFound     = errors.New("table not found")
	ErrInvalidTableName  = errors.New("invalid table name")
	ErrInvalidSampleSize = fmt.Errorf("row sample size must be between %d and %d", MinSampleRows, MaxSampleRows)
)

var reTableName = regexp.MustCompile(`^[A-Za-z0-9_]+(\.[A-Za-z0-9_]+)?$`)

// Pool is the part of *pool.Manager the inspector needs.
type Pool interface {
	WithConnection(ctx context.Context, opts pool.CallOptions, work func(ctx context.Context, q pool.Querier) error) error
}

type Table struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Engine  string `json:"engine,omitempty"`
	Rows    *int64 `json:"estimated_rows,omitempty"`
	Comment string `json:"comment,omitempty"`
}

type Column struct {
	Name             string  `json:"name"`
	Type             string  `json:"type"`
	DataType         string  `json:"data_type"`
	Nullable         bool    `json:"nullable"`
	Key              string  `json:"key,omitempty"`
	Default          *string `json:"default,omitempty"`
	Extra            string  `json:"extra,omitempty"`
	MaxLength        *int64  `json:"max_length,omitempty"`
	NumericPrecision *int64  `json:"numeric_precision,omitempty"`
	NumericScale     *int64  `json:"numeric_scale,omitempty"`
}

type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
	Type    string   `json:"type"`
}

type TableDescription struct {
	Schema  string   `json:"schema,omitempty"`
	Table   string   `json:"table"`
	Columns []Column `json:"columns"`
	Indexes []Index  `json:"indexes,omitempty"`
}

type Sample struct {
	Table     string   `json:"table"`
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	RowCount  int      `json:"row_count"`
	TotalRows *int64   `json:"total_rows,omitempty"`
}

type TableList struct {
	Schema string  `json:"schema,omitempty"`
	Tables []Table `json:"tables"`
	Cached bool    `json:"cached"`
}

type Inspector struct {
	pool   Pool
	cache  *Cache
	logger *slog.Logger
}

func NewInspector(p Pool, cache *Cache, logger *slog.Logger) *Inspector {
	if cache == nil {
		cache = NewCache(DefaultCacheTTL, nil)
	}
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Inspector{pool: p, cache: cache, logger: logger}
}

// ParseTableName validates name against the safe identifier class and splits
// an optional schema qualifier.
func ParseTableName(name string) (schemaName, table string, err error) {
	name = strings.TrimSpace(name)
	if !reTableName.MatchString(name) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidTableName, name)
	}
	if before, after, ok := strings.Cut(name, "."); ok {
		return before, after, nil
	}
	return "", name, nil
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// schemaArg maps an empty schema to NULL so that COALESCE(?, DATABASE())
// falls back to the connection's database.
func schemaArg(schemaName string) any {
	if schemaName == "" {
		return nil
	}
	return schemaName
}

const listTablesQuery = `
SELECT TABLE_NAME, TABLE_TYPE, ENGINE, TABLE_ROWS, TABLE_COMMENT
FROM information_schema.TABLES
WHERE TABLE_SCHEMA = COALESCE(?, DATABASE())
ORDER BY TABLE_NAME`

func (i *Inspector) ListTables(ctx context.Context, schemaName string) (TableList, error) {
	schemaName = strings.TrimSpace(schemaName)
	if schemaName != "" && !reTableName.MatchString(schemaName) {
		return TableList{}, fmt.Errorf("%w: schema %q", ErrInvalidTableName, schemaName)
	}
	tables, hit, err := i.cache.GetOrLoad(schemaName, func() ([]Table, error) {
		return i.loadTables(ctx, schemaName)
	})
	observability.ObserveSchemaCache(hit)
	if err != nil {
		return TableList{}, err
	}
	return TableList{Schema: schemaName, Tables: tables, Cached: hit}, nil
}

func (i *Inspector) loadTables(ctx context.Context, schemaName string) ([]Table, error) {
	tables := make([]Table, 0)
	err := i.pool.WithConnection(ctx, pool.CallOptions{ReadOnly: true}, func(ctx context.Context, q pool.Querier) error {
		tables = tables[:0]
		rows, err := q.QueryContext(ctx, listTablesQuery, schemaArg(schemaName))
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var (
				t         Table
				engine    sql.NullString
				tableRows sql.NullInt64
				comment   sql.NullString
			)
			if err := rows.Scan(&t.Name, &t.Type, &engine, &tableRows, &comment); err != nil {
				return fmt.Errorf("scan table: %w", err)
			}
			t.Engine = engine.String
			t.Comment = comment.String
			if tableRows.Valid {
				value := tableRows.Int64
				t.Rows = &value
			}
			tables = append(tables, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	i.logger.DebugContext(ctx, "loaded table list", slog.String("schema", schemaName), slog.Int("tables", len(tables)))
	return tables, nil
}

// InvalidateTables drops the cached listing for schemaName.
func (i *Inspector) InvalidateTables(schemaName string) {
	i.cache.Invalidate(strings.TrimSpace(schemaName))
}

const describeColumnsQuery = `
SELECT COLUMN_NAME, COLUMN_TYPE, DATA_TYPE, IS_NULLABLE, COLUMN_KEY, COLUMN_DEFAULT, EXTRA,
       CHARACTER_MAXIMUM_LENGTH, NUMERIC_PRECISION, NUMERIC_SCALE
FROM information_schema.COLUMNS
WHERE TABLE_SCHEMA = COALESCE(?, DATABASE()) AND TABLE_NAME = ?
ORDER BY ORDINAL_POSITION`

const describeIndexesQuery = `
SELECT INDEX_NAME, NON_UNIQUE, COLUMN_NAME, INDEX_TYPE
FROM information_schema.STATISTICS
WHERE TABLE_SCHEMA = COALESCE(?, DATABASE()) AND TABLE_NAME = ?
ORDER BY INDEX_NAME, SEQ_IN_INDEX`

func (i *Inspector) DescribeTable(ctx context.Context, name string, includeIndexes bool) (TableDescription, error) {
	schemaName, table, err := ParseTableName(name)
	if err != nil {
		return TableDescription{}, err
	}
	desc := TableDescription{Schema: schemaName, Table: table}
	err = i.pool.WithConnection(ctx, pool.CallOptions{ReadOnly: true}, func(ctx context.Context, q pool.Querier) error {
		columns, err := describeColumns(ctx, q, schemaName, table)
		if err != nil {
			return err
		}
		desc.Columns = columns
		if !includeIndexes {
			return nil
		}
		indexes, err := describeIndexes(ctx, q, schemaName, table)
		if err != nil {
			return err
		}
		desc.Indexes = indexes
		return nil
	})
	if err != nil {
		return TableDescription{}, fmt.Errorf("describe table %s: %w", name, err)
	}
	return desc, nil
}

func describeColumns(ctx context.Context, q pool.Querier, schemaName, table string) ([]Column, error) {
	rows, err := q.QueryContext(ctx, describeColumnsQuery, schemaArg(schemaName), table)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	columns := make([]Column, 0)
	for rows.Next() {
		var (
			c                           Column
			nullable, key, extra        string
			def                         sql.NullString
			maxLength, precision, scale sql.NullInt64
		)
		if err := rows.Scan(&c.Name, &c.Type, &c.DataType, &nullable, &key, &def, &extra, &maxLength, &precision, &scale); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		c.Nullable = strings.EqualFold(nullable, "YES")
		c.Key = key
		c.Extra = extra
		c.Default = nullString(def)
		c.MaxLength = nullInt(maxLength)
		c.NumericPrecision = nullInt(precision)
		c.NumericScale = nullInt(scale)
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, ErrTableNotFound
	}
	return columns, nil
}

func describeIndexes(ctx context.Context, q pool.Querier, schemaName, table string) ([]Index, error) {
	rows, err := q.QueryContext(ctx, describeIndexesQuery, schemaArg(schemaName), table)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	indexes := make([]Index, 0)
	positions := map[string]int{}
	for rows.Next() {
		var (
			name, column, indexType string
			nonUnique               int
		)
		if err := rows.Scan(&name, &nonUnique, &column, &indexType); err != nil {
			return nil, fmt.Errorf("scan index: %w", err)
		}
		pos, ok := positions[name]
		if !ok {
			pos = len(indexes)
			positions[name] = pos
			indexes = append(indexes, Index{Name: name, Unique: nonUnique == 0, Type: indexType})
		}
		indexes[pos].Columns = append(indexes[pos].Columns, column)
	}
	return indexes, rows.Err()
}

// SampleTable returns up to n rows of the table, and its exact row count when
// includeStats is set.
func (i *Inspector) SampleTable(ctx context.Context, name string, n int, includeStats bool) (Sample, error) {
	schemaName, table, err := ParseTableName(name)
	if err != nil {
		return Sample{}, err
	}
	if n < MinSampleRows || n > MaxSampleRows {
		return Sample{}, fmt.Errorf("%w: got %d", ErrInvalidSampleSize, n)
	}
	target := quoteIdent(table)
	if schemaName != "" {
		target = quoteIdent(schemaName) + "." + target
	}

	sample := Sample{Table: name}
	err = i.pool.WithConnection(ctx, pool.CallOptions{ReadOnly: true}, func(ctx context.Context, q pool.Querier) error {
		sample = Sample{Table: name}
		rows, err := q.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", target, n))
		if err != nil {
			return err
		}
		columns, rowValues, err := scanAll(rows)
		if err != nil {
			return err
		}
		sample.Columns = columns
		sample.Rows = rowValues
		sample.RowCount = len(rowValues)
		if !includeStats {
			return nil
		}
		var total int64
		if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+target).Scan(&total); err != nil {
			return fmt.Errorf("count rows: %w", err)
		}
		sample.TotalRows = &total
		return nil
	})
	if err != nil {
		if number, _, ok := pool.StoreError(err); ok && number == 1146 {
			return Sample{}, fmt.Errorf("sample table %s: %w", name, ErrTableNotFound)
		}
		return Sample{}, fmt.Errorf("sample table %s: %w", name, err)
	}
	return sample, nil
}

func scanAll(rows *sql.Rows) ([]string, [][]any, error) {
	defer func() { _ = rows.Close() }()
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("query columns: %w", err)
	}
	out := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, nil, fmt.Errorf("scan row: %w", err)
		}
		for i, value := range values {
			if b, ok := value.([]byte); ok {
				values[i] = string(b)
			}
		}
		out = append(out, values)
	}
	return columns, out, rows.Err()
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}
