package router

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tobert/sshwarpd/internal/mcp"
)

// MCPAdapter narrows an *mcp.Manager down to the ExternalCaller interface:
// it unwraps mcp.ToolCallResult's content blocks into a plain string and
// turns FindTool's *mcp.MCPTool into the bool Router needs.
type MCPAdapter struct {
	Manager *mcp.Manager
}

func (a *MCPAdapter) FindTool(name string) (string, bool) {
	serverID, tool := a.Manager.FindTool(name)
	return serverID, tool != nil
}

// Schema returns the tool's MCP-advertised input schema, if any.
func (a *MCPAdapter) Schema(name string) (json.RawMessage, bool) {
	_, tool := a.Manager.FindTool(name)
	if tool == nil || len(tool.InputSchema) == 0 {
		return nil, false
	}
	return tool.InputSchema, true
}

func (a *MCPAdapter) CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (any, error) {
	result, err := a.Manager.CallTool(ctx, serverID, toolName, args)
	if err != nil {
		return nil, err
	}
	return flattenToolResult(result), nil
}

func flattenToolResult(result *mcp.ToolCallResult) string {
	if result == nil {
		return ""
	}
	var b strings.Builder
	for i, c := range result.Content {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(c.Text)
	}
	return b.String()
}
