package mcpserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querygate/querygate/internal/pipeline"
	"github.com/querygate/querygate/internal/tools"
)

var testImpl = &mcp.Implementation{Name: "querygate-test", Version: "0.1.0"}

type recordingDispatcher struct {
	calls  map[string]string
	result tools.Result
}

func (d *recordingDispatcher) Dispatch(_ context.Context, name string, args json.RawMessage) tools.Result {
	if d.calls == nil {
		d.calls = map[string]string{}
	}
	d.calls[name] = string(args)
	res := d.result
	res.Tool = name
	return res
}

func session(t *testing.T, d Dispatcher) *mcp.ClientSession {
	t.Helper()
	srv := NewServer("querygate-test", "0.1.0", d)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testImpl, nil)
	s, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestListToolsExposesCatalog(t *testing.T) {
	s := session(t, &recordingDispatcher{})

	res, err := s.ListTools(context.Background(), nil)
	require.NoError(t, err)
	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description)
	}
	assert.ElementsMatch(t, []string{tools.ListTables, tools.DescribeTable, tools.SampleTable, tools.ExecuteSQL}, names)
}

func TestCallToolReturnsStructuredPayload(t *testing.T) {
	d := &recordingDispatcher{result: tools.Result{Success: true, Data: map[string]any{"row_count": 2}}}
	s := session(t, d)

	res, err := s.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      tools.SampleTable,
		Arguments: map[string]any{"reasoning": "peek", "table_name": "orders", "row_sample_size": 2},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)

	var payload tools.Result
	require.NoError(t, json.Unmarshal([]byte(text.Text), &payload))
	assert.True(t, payload.Success)
	assert.Equal(t, tools.SampleTable, payload.Tool)
	assert.JSONEq(t, `{"reasoning":"peek","table_name":"orders","row_sample_size":2}`, d.calls[tools.SampleTable])
}

func TestCallToolFailureIsToolError(t *testing.T) {
	d := &recordingDispatcher{result: tools.Result{Error: "statement type DROP is not allowed", ErrorClass: pipeline.ClassSecurity}}
	s := session(t, d)

	res, err := s.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      tools.ExecuteSQL,
		Arguments: map[string]any{"reasoning": "cleanup", "sql_query": "DROP TABLE t"},
	})
	require.NoError(t, err, "tool failures must not be protocol errors")
	assert.True(t, res.IsError)
	require.Len(t, res.Content, 2)

	first, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, first.Text, "DROP is not allowed")

	second, ok := res.Content[1].(*mcp.TextContent)
	require.True(t, ok)
	var payload tools.Result
	require.NoError(t, json.Unmarshal([]byte(second.Text), &payload))
	assert.Equal(t, pipeline.ClassSecurity, payload.ErrorClass)
}
