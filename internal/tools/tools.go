// Package tools routes named tool calls with JSON arguments to schema
// introspection and the execute_sql pipeline. Every call yields a Result,
// on failure as well.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/querygate/querygate/internal/observability"
	"github.com/querygate/querygate/internal/pipeline"
	"github.com/querygate/querygate/internal/pool"
	"github.com/querygate/querygate/internal/regen"
	"github.com/querygate/querygate/internal/schema"
)

const (
	ListTables    = "list_tables"
	DescribeTable = "describe_table"
	SampleTable   = "sample_table"
	ExecuteSQL    = "execute_sql"
)

var (
	ErrUnknownTool      = errors.New("unknown tool")
	ErrInvalidArguments = errors.New("invalid arguments")
)

type Result struct {
	Success    bool                `json:"success"`
	Tool       string              `json:"tool"`
	Data       any                 `json:"data,omitempty"`
	Error      string              `json:"error,omitempty"`
	ErrorClass pipeline.ErrorClass `json:"error_class,omitempty"`
}

// Schema is the introspection surface, satisfied by *schema.Inspector.
type Schema interface {
	ListTables(ctx context.Context, schemaName string) (schema.TableList, error)
	DescribeTable(ctx context.Context, name string, includeIndexes bool) (schema.TableDescription, error)
	SampleTable(ctx context.Context, name string, n int, includeStats bool) (schema.Sample, error)
}

// Executor runs execute_sql, satisfied by *pipeline.Pipeline.
type Executor interface {
	Run(ctx context.Context, req pipeline.Request) pipeline.Response
}

type Options struct {
	DefaultSampleRows int
	Logger            *slog.Logger
}

type handler func(ctx context.Context, args json.RawMessage) (any, error)

type Dispatcher struct {
	schema            Schema
	executor          Executor
	defaultSampleRows int
	logger            *slog.Logger
	handlers          map[string]handler
}

func NewDispatcher(s Schema, executor Executor, opts Options) *Dispatcher {
	if opts.DefaultSampleRows < schema.MinSampleRows || opts.DefaultSampleRows > schema.MaxSampleRows {
		opts.DefaultSampleRows = schema.DefaultSampleRows
	}
	if opts.Logger == nil {
		opts.Logger = observability.DiscardLogger()
	}
	d := &Dispatcher{
		schema:            s,
		executor:          executor,
		defaultSampleRows: opts.DefaultSampleRows,
		logger:            opts.Logger,
	}
	d.handlers = map[string]handler{
		ListTables:    d.listTables,
		DescribeTable: d.describeTable,
		SampleTable:   d.sampleTable,
		ExecuteSQL:    d.executeSQL,
	}
	return d
}

func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs one tool call. A panic inside a tool is recovered and
// reported as a failed Result.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args json.RawMessage) (res Result) {
	name = strings.TrimSpace(name)
	res = Result{Tool: name}
	logger := observability.LoggerWithTrace(ctx, d.logger)
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.ErrorContext(ctx, "tool panicked", slog.String("tool", name), slog.Any("panic", recovered))
			res = Result{Tool: name, Error: fmt.Sprintf("tool %s failed unexpectedly", name), ErrorClass: pipeline.ClassExecution}
		}
		observability.ObserveToolCall(name, res.Success)
	}()

	h, ok := d.handlers[name]
	if !ok {
		res.Error = fmt.Sprintf("%v %q; valid tools: %s", ErrUnknownTool, name, strings.Join(d.Names(), ", "))
		res.ErrorClass = pipeline.ClassValidation
		return res
	}

	data, err := h(ctx, args)
	if err != nil {
		res.Error = err.Error()
		res.ErrorClass = classify(err)
		logger.InfoContext(ctx, "tool call failed", slog.String("tool", name), slog.String("error", err.Error()))
		return res
	}
	if resp, ok := data.(pipeline.Response); ok {
		res.Success = resp.Success
		res.Error = resp.Error
		res.ErrorClass = resp.ErrorClass
	} else {
		res.Success = true
	}
	res.Data = data
	return res
}

func classify(err error) pipeline.ErrorClass {
	switch {
	case errors.Is(err, ErrInvalidArguments),
		errors.Is(err, schema.ErrInvalidTableName),
		errors.Is(err, schema.ErrInvalidSampleSize),
		errors.Is(err, regen.ErrInvalidMaxAttempts):
		return pipeline.ClassValidation
	case pool.IsTransient(err):
		return pipeline.ClassTransient
	default:
		return pipeline.ClassExecution
	}
}

func decodeArgs(raw json.RawMessage, dst any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

type listTablesArgs struct {
	Reasoning  string `json:"reasoning"`
	SchemaName string `json:"schema_name"`
}

func (d *Dispatcher) listTables(ctx context.Context, raw json.RawMessage) (any, error) {
	var args listTablesArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return d.schema.ListTables(ctx, args.SchemaName)
}

type describeTableArgs struct {
	Reasoning      string `json:"reasoning"`
	TableName      string `json:"table_name"`
	IncludeIndexes *bool  `json:"include_indexes"`
}

func (d *Dispatcher) describeTable(ctx context.Context, raw json.RawMessage) (any, error) {
	var args describeTableArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.TableName) == "" {
		return nil, fmt.Errorf("%w: table_name is required", ErrInvalidArguments)
	}
	includeIndexes := true
	if args.IncludeIndexes != nil {
		includeIndexes = *args.IncludeIndexes
	}
	return d.schema.DescribeTable(ctx, args.TableName, includeIndexes)
}

type sampleTableArgs struct {
	Reasoning     string `json:"reasoning"`
	TableName     string `json:"table_name"`
	RowSampleSize *int   `json:"row_sample_size"`
	IncludeStats  bool   `json:"include_stats"`
}

func (d *Dispatcher) sampleTable(ctx context.Context, raw json.RawMessage) (any, error) {
	var args sampleTableArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.TableName) == "" {
		return nil, fmt.Errorf("%w: table_name is required", ErrInvalidArguments)
	}
	n := d.defaultSampleRows
	if args.RowSampleSize != nil {
		n = *args.RowSampleSize
	}
	return d.schema.SampleTable(ctx, args.TableName, n, args.IncludeStats)
}

type executeSQLArgs struct {
	Reasoning               string `json:"reasoning"`
	SQLQuery                string `json:"sql_query"`
	ExplainPlan             bool   `json:"explain_plan"`
	UserQuestion            string `json:"user_question"`
	AttemptRegeneration     *bool  `json:"attempt_regeneration"`
	MaxRegenerationAttempts *int   `json:"max_regeneration_attempts"`
}

func (d *Dispatcher) executeSQL(ctx context.Context, raw json.RawMessage) (any, error) {
	var args executeSQLArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.SQLQuery) == "" {
		return nil, fmt.Errorf("%w: sql_query is required", ErrInvalidArguments)
	}
	attempts := -1
	if args.MaxRegenerationAttempts != nil {
		if *args.MaxRegenerationAttempts < 0 {
			return nil, fmt.Errorf("%w: got %d", regen.ErrInvalidMaxAttempts, *args.MaxRegenerationAttempts)
		}
		n, err := regen.ClampAttempts(*args.MaxRegenerationAttempts)
		if err != nil {
			return nil, err
		}
		attempts = n
	}
	regenerate := true
	if args.AttemptRegeneration != nil {
		regenerate = *args.AttemptRegeneration
	}
	return d.executor.Run(ctx, pipeline.Request{
		Reasoning:               args.Reasoning,
		SQL:                     args.SQLQuery,
		UserQuestion:            args.UserQuestion,
		Explain:                 args.ExplainPlan,
		AttemptRegeneration:     regenerate,
		MaxRegenerationAttempts: attempts,
	}), nil
}
