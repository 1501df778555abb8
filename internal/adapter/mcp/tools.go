package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/GGUFloader/agentcore/internal/port/toolexec"
)

// registerTools exposes every registry tool as an MCP tool.
func (s *Server) registerTools() {
	if s.deps.Tools == nil {
		return
	}
	descs := s.deps.Tools.Tools()
	tools := make([]mcpserver.ServerTool, 0, len(descs))
	for _, d := range descs {
		tools = append(tools, mcpserver.ServerTool{
			Tool:    toMCPTool(d),
			Handler: s.toolHandler(d.Name),
		})
	}
	s.mcpServer.AddTools(tools...)
}

func toMCPTool(d toolexec.Descriptor) mcplib.Tool {
	opts := []mcplib.ToolOption{mcplib.WithDescription(d.Description)}
	for _, p := range d.Params {
		props := []mcplib.PropertyOption{mcplib.Description(p.Description)}
		if p.Required {
			props = append(props, mcplib.Required())
		}
		switch p.Type {
		case "integer":
			opts = append(opts, mcplib.WithNumber(p.Name, props...))
		case "boolean":
			opts = append(opts, mcplib.WithBoolean(p.Name, props...))
		case "array":
			props = append(props, mcplib.Items(map[string]any{"type": "string"}))
			opts = append(opts, mcplib.WithArray(p.Name, props...))
		default:
			opts = append(opts, mcplib.WithString(p.Name, props...))
		}
	}
	return mcplib.NewTool(d.Name, opts...)
}

func (s *Server) toolHandler(name string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
		res := s.deps.Tools.Execute(ctx, name, req.GetArguments())
		if !res.OK() {
			return mcplib.NewToolResultError(res.Error), nil
		}
		data, err := json.Marshal(res.Result)
		if err != nil {
			return mcplib.NewToolResultErrorFromErr("failed to encode result", err), nil
		}
		return toolResultJSON(string(data)), nil
	}
}

func toolResultJSON(text string) *mcplib.CallToolResult {
	return mcplib.NewToolResultText(text)
}
