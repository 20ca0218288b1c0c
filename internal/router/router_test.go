package router

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeExternal struct {
	servers map[string]string          // tool -> server
	schemas map[string]json.RawMessage // tool -> input schema
	calls   []string
}

func (f *fakeExternal) FindTool(name string) (string, bool) {
	server, ok := f.servers[name]
	return server, ok
}

func (f *fakeExternal) Schema(name string) (json.RawMessage, bool) {
	raw, ok := f.schemas[name]
	return raw, ok
}

func (f *fakeExternal) CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (any, error) {
	f.calls = append(f.calls, serverID+"."+toolName)
	return map[string]any{"server": serverID, "tool": toolName}, nil
}

func TestAliasBeatsPriorityForAliasedName(t *testing.T) {
	ext := &fakeExternal{servers: map[string]string{"go": "srvB"}}
	r := New(ToolContext{}, ext, nil)

	// Scenario 5: alias "q" -> "srvA:go", priority {"go": "srvB"}.
	r.SetAlias("q", "srvA:go")
	r.SetPriority("go", "srvB")

	result, err := r.Call(context.Background(), "q", nil)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"server": "srvA", "tool": "go"}, result)

	result, err = r.Call(context.Background(), "go", nil)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"server": "srvB", "tool": "go"}, result)
}

func TestScriptHandlerTakesPrecedenceOverBuiltinAndExternal(t *testing.T) {
	ext := &fakeExternal{servers: map[string]string{"status": "srvX"}}
	r := New(ToolContext{}, ext, nil)
	r.RegisterBuiltin("status", func(ctx context.Context, tc ToolContext, args map[string]any) (any, error) {
		return "builtin", nil
	})
	r.RegisterHandler("status", func(ctx context.Context, args map[string]any) (any, error) {
		return "handler", nil
	})

	result, err := r.Call(context.Background(), "status", nil)
	require.NoError(t, err)
	require.Equal(t, "handler", result)
}

func TestBuiltinTakesPrecedenceOverExternal(t *testing.T) {
	ext := &fakeExternal{servers: map[string]string{"status": "srvX"}}
	r := New(ToolContext{}, ext, nil)
	r.RegisterBuiltin("status", func(ctx context.Context, tc ToolContext, args map[string]any) (any, error) {
		return "builtin", nil
	})

	result, err := r.Call(context.Background(), "status", nil)
	require.NoError(t, err)
	require.Equal(t, "builtin", result)
}

func TestUnknownToolReturnsSentinelError(t *testing.T) {
	r := New(ToolContext{}, &fakeExternal{servers: map[string]string{}}, nil)
	_, err := r.Call(context.Background(), "nope", nil)
	require.True(t, errors.Is(err, ErrUnknownTool))
}

func TestOnToolCallHookCanBlockCall(t *testing.T) {
	ext := &fakeExternal{servers: map[string]string{"danger": "srv"}}
	r := New(ToolContext{}, ext, nil)
	r.SetHooks(Hooks{
		OnToolCall: func(ctx context.Context, server, tool string, args map[string]any) (map[string]any, bool, error) {
			return nil, false, nil
		},
	})

	_, err := r.Call(context.Background(), "danger", nil)
	require.True(t, errors.Is(err, ErrToolCallBlocked))
	require.Empty(t, ext.calls)
}

func TestServerRateLimitBlocksExcessCalls(t *testing.T) {
	ext := &fakeExternal{servers: map[string]string{"go": "srvA"}}
	r := New(ToolContext{}, ext, nil)
	r.SetServerRateLimit("srvA", 0, 1)

	_, err := r.Call(context.Background(), "go", nil)
	require.NoError(t, err)

	_, err = r.Call(context.Background(), "go", nil)
	require.Error(t, err)
}

func TestSchemaValidationRejectsMismatchedArgs(t *testing.T) {
	ext := &fakeExternal{
		servers: map[string]string{"deploy": "srvA"},
		schemas: map[string]json.RawMessage{
			"deploy": json.RawMessage(`{
				"type": "object",
				"properties": {"target": {"type": "string"}},
				"required": ["target"]
			}`),
		},
	}
	r := New(ToolContext{}, ext, nil)

	_, err := r.Call(context.Background(), "deploy", map[string]any{"target": 5})
	require.True(t, errors.Is(err, ErrArgsInvalid))
	require.Empty(t, ext.calls)

	result, err := r.Call(context.Background(), "deploy", map[string]any{"target": "prod"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"server": "srvA", "tool": "deploy"}, result)
}

func TestOnToolResultHookTransformsResult(t *testing.T) {
	ext := &fakeExternal{servers: map[string]string{"status": "srv"}}
	r := New(ToolContext{}, ext, nil)
	r.SetHooks(Hooks{
		OnToolResult: func(ctx context.Context, server, tool string, result any, isError bool) (any, error) {
			return "rewritten", nil
		},
	})

	result, err := r.Call(context.Background(), "status", nil)
	require.NoError(t, err)
	require.Equal(t, "rewritten", result)
}
