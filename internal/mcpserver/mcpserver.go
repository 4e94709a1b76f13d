// Package mcpserver exposes the tool dispatcher over the Model Context
// Protocol.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/querygate/querygate/internal/tools"
)

// Dispatcher is satisfied by *tools.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, args json.RawMessage) tools.Result
}

func NewServer(name, version string, d Dispatcher) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil)
	RegisterTools(srv, d)
	return srv
}

// RegisterTools adds every tool of the catalog to srv. A failed call is a
// tool error carrying the message first and the structured payload second;
// it is never a protocol error.
func RegisterTools(srv *mcp.Server, d Dispatcher) {
	for _, spec := range tools.Specs() {
		tool := &mcp.Tool{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: spec.InputSchema,
		}
		name := spec.Name
		srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args json.RawMessage
			if req.Params != nil {
				args = req.Params.Arguments
			}
			result := d.Dispatch(ctx, name, args)

			data, err := json.Marshal(result)
			if err != nil {
				var res mcp.CallToolResult
				res.SetError(fmt.Errorf("marshal: %w", err))
				return &res, nil
			}
			payload := &mcp.TextContent{Text: string(data)}
			if !result.Success {
				var res mcp.CallToolResult
				res.SetError(errors.New(result.Error))
				res.Content = append(res.Content, payload)
				return &res, nil
			}
			return &mcp.CallToolResult{Content: []mcp.Content{payload}}, nil
		})
	}
}
