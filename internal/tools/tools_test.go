package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querygate/querygate/internal/pipeline"
	"github.com/querygate/querygate/internal/schema"
)

type fakeSchema struct {
	listErr     error
	describeArg struct {
		name    string
		indexes bool
	}
	sampleArg struct {
		name  string
		n     int
		stats bool
	}
	panicOn string
}

func (f *fakeSchema) ListTables(_ context.Context, schemaName string) (schema.TableList, error) {
	if f.panicOn == ListTables {
		panic("boom")
	}
	if f.listErr != nil {
		return schema.TableList{}, f.listErr
	}
	return schema.TableList{Schema: schemaName, Tables: []schema.Table{{Name: "orders", Type: "BASE TABLE"}}}, nil
}

func (f *fakeSchema) DescribeTable(_ context.Context, name string, includeIndexes bool) (schema.TableDescription, error) {
	f.describeArg.name, f.describeArg.indexes = name, includeIndexes
	return schema.TableDescription{Table: name}, nil
}

func (f *fakeSchema) SampleTable(_ context.Context, name string, n int, includeStats bool) (schema.Sample, error) {
	f.sampleArg.name, f.sampleArg.n, f.sampleArg.stats = name, n, includeStats
	if n < schema.MinSampleRows || n > schema.MaxSampleRows {
		return schema.Sample{}, fmt.Errorf("%w: got %d", schema.ErrInvalidSampleSize, n)
	}
	return schema.Sample{Table: name, RowCount: n}, nil
}

type fakeExecutor struct {
	requests []pipeline.Request
	response pipeline.Response
}

func (f *fakeExecutor) Run(_ context.Context, req pipeline.Request) pipeline.Response {
	f.requests = append(f.requests, req)
	return f.response
}

func newTestDispatcher() (*Dispatcher, *fakeSchema, *fakeExecutor) {
	s := &fakeSchema{}
	e := &fakeExecutor{response: pipeline.Response{Success: true, FinalSQL: "SELECT 1 LIMIT 1"}}
	return NewDispatcher(s, e, Options{}), s, e
}

func TestDispatchUnknownToolListsValidNames(t *testing.T) {
	d, _, _ := newTestDispatcher()
	res := d.Dispatch(context.Background(), "drop_everything", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unknown tool")
	for _, name := range []string{DescribeTable, ExecuteSQL, ListTables, SampleTable} {
		assert.Contains(t, res.Error, name)
	}
}

func TestDispatchListTables(t *testing.T) {
	d, _, _ := newTestDispatcher()
	res := d.Dispatch(context.Background(), ListTables, json.RawMessage(`{"reasoning":"explore","schema_name":"sales"}`))
	require.True(t, res.Success, res.Error)
	list, ok := res.Data.(schema.TableList)
	require.True(t, ok)
	assert.Equal(t, "sales", list.Schema)

	res = d.Dispatch(context.Background(), ListTables, nil)
	assert.True(t, res.Success, "missing arguments decode as an empty object")
}

func TestDispatchRejectsMalformedArguments(t *testing.T) {
	d, _, _ := newTestDispatcher()
	for _, args := range []string{`{"reasoning": 1}`, `{"unknown": true}`, `[1,2]`, `{`} {
		res := d.Dispatch(context.Background(), ListTables, json.RawMessage(args))
		assert.False(t, res.Success, args)
		assert.Equal(t, pipeline.ClassValidation, res.ErrorClass, args)
		assert.Contains(t, res.Error, "invalid arguments", args)
	}
}

func TestDispatchDescribeTableDefaults(t *testing.T) {
	d, s, _ := newTestDispatcher()
	res := d.Dispatch(context.Background(), DescribeTable, json.RawMessage(`{"reasoning":"r","table_name":"orders"}`))
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "orders", s.describeArg.name)
	assert.True(t, s.describeArg.indexes)

	res = d.Dispatch(context.Background(), DescribeTable, json.RawMessage(`{"table_name":"orders","include_indexes":false}`))
	require.True(t, res.Success)
	assert.False(t, s.describeArg.indexes)

	res = d.Dispatch(context.Background(), DescribeTable, json.RawMessage(`{"reasoning":"r"}`))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "table_name is required")
}

func TestDispatchSampleTable(t *testing.T) {
	d, s, _ := newTestDispatcher()
	res := d.Dispatch(context.Background(), SampleTable, json.RawMessage(`{"table_name":"orders"}`))
	require.True(t, res.Success, res.Error)
	assert.Equal(t, schema.DefaultSampleRows, s.sampleArg.n)

	res = d.Dispatch(context.Background(), SampleTable, json.RawMessage(`{"table_name":"orders","row_sample_size":20,"include_stats":true}`))
	require.True(t, res.Success)
	assert.Equal(t, 20, s.sampleArg.n)
	assert.True(t, s.sampleArg.stats)

	res = d.Dispatch(context.Background(), SampleTable, json.RawMessage(`{"table_name":"orders","row_sample_size":51}`))
	assert.False(t, res.Success)
	assert.Equal(t, pipeline.ClassValidation, res.ErrorClass)
}

func TestDispatchExecuteSQL(t *testing.T) {
	d, _, e := newTestDispatcher()
	res := d.Dispatch(context.Background(), ExecuteSQL, json.RawMessage(`{
		"reasoning": "answer the question",
		"sql_query": "SELECT 1",
		"explain_plan": true,
		"user_question": "how many?"
	}`))
	require.True(t, res.Success, res.Error)
	require.Len(t, e.requests, 1)
	req := e.requests[0]
	assert.Equal(t, "SELECT 1", req.SQL)
	assert.True(t, req.Explain)
	assert.True(t, req.AttemptRegeneration)
	assert.Equal(t, -1, req.MaxRegenerationAttempts)
	assert.Equal(t, "how many?", req.UserQuestion)

	res = d.Dispatch(context.Background(), ExecuteSQL, json.RawMessage(`{"sql_query":"SELECT 1","attempt_regeneration":false,"max_regeneration_attempts":0}`))
	require.True(t, res.Success)
	assert.False(t, e.requests[1].AttemptRegeneration)
	assert.Zero(t, e.requests[1].MaxRegenerationAttempts)
}

func TestDispatchExecuteSQLValidatesBudget(t *testing.T) {
	d, _, e := newTestDispatcher()
	for _, n := range []int{-1, 4} {
		res := d.Dispatch(context.Background(), ExecuteSQL, json.RawMessage(fmt.Sprintf(`{"sql_query":"SELECT 1","max_regeneration_attempts":%d}`, n)))
		assert.False(t, res.Success)
		assert.Equal(t, pipeline.ClassValidation, res.ErrorClass)
	}
	res := d.Dispatch(context.Background(), ExecuteSQL, json.RawMessage(`{"sql_query":"  "}`))
	assert.False(t, res.Success)
	assert.Empty(t, e.requests)
}

func TestDispatchCarriesPipelineFailure(t *testing.T) {
	d, _, e := newTestDispatcher()
	e.response = pipeline.Response{Error: "statement type DROP is not allowed", ErrorClass: pipeline.ClassSecurity}

	res := d.Dispatch(context.Background(), ExecuteSQL, json.RawMessage(`{"sql_query":"DROP TABLE t"}`))
	assert.False(t, res.Success)
	assert.Equal(t, pipeline.ClassSecurity, res.ErrorClass)
	_, ok := res.Data.(pipeline.Response)
	assert.True(t, ok, "the full pipeline response is returned as data")
}

func TestDispatchClassifiesStoreErrors(t *testing.T) {
	d, s, _ := newTestDispatcher()
	s.listErr = fmt.Errorf("list tables: %w", syscall.ECONNREFUSED)
	res := d.Dispatch(context.Background(), ListTables, nil)
	assert.Equal(t, pipeline.ClassTransient, res.ErrorClass)

	s.listErr = schema.ErrTableNotFound
	res = d.Dispatch(context.Background(), ListTables, nil)
	assert.Equal(t, pipeline.ClassExecution, res.ErrorClass)
}

func TestDispatchRecoversPanics(t *testing.T) {
	d, s, _ := newTestDispatcher()
	s.panicOn = ListTables

	var res Result
	require.NotPanics(t, func() { res = d.Dispatch(context.Background(), ListTables, nil) })
	assert.False(t, res.Success)
	assert.Equal(t, ListTables, res.Tool)
	assert.Contains(t, res.Error, "failed unexpectedly")
}

func TestSpecsMatchHandlers(t *testing.T) {
	d, _, _ := newTestDispatcher()
	specs := Specs()
	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		names = append(names, spec.Name)
		assert.Equal(t, "object", spec.InputSchema["type"])
		_, err := json.Marshal(spec.InputSchema)
		require.NoError(t, err)
	}
	assert.ElementsMatch(t, d.Names(), names)
}
