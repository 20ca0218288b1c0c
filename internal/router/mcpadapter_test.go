package router

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tobert/sshwarpd/internal/mcp"
)

func TestFlattenToolResultJoinsTextBlocks(t *testing.T) {
	result := &mcp.ToolCallResult{
		Content: []mcp.ToolResultContent{
			{Type: "text", Text: "line one"},
			{Type: "text", Text: "line two"},
		},
	}

	require.Equal(t, "line one\nline two", flattenToolResult(result))
}

func TestFlattenToolResultHandlesNil(t *testing.T) {
	require.Equal(t, "", flattenToolResult(nil))
}
