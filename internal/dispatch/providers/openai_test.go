package providers

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tobert/sshwarpd/internal/dispatch"
)

func TestNewOpenAIProviderRequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIProvider(OpenAIConfig{})
	require.Error(t, err)
}

func TestNewOpenAIProviderAppliesDefaults(t *testing.T) {
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test"})
	require.NoError(t, err)
	require.Equal(t, "openai", p.Name())
	require.Equal(t, 3, p.maxRetries)
	require.Equal(t, "gpt-4o", p.defaultModel)
}

func TestMergeArgumentsAccumulatesWholeFragments(t *testing.T) {
	call := &dispatch.ToolCall{Input: map[string]any{}}

	mergeArguments(call, `{"room_id":`) // incomplete JSON fragment, ignored
	require.Empty(t, call.Input)

	mergeArguments(call, `{"room_id":"r1"}`)
	require.Equal(t, "r1", call.Input["room_id"])

	mergeArguments(call, `{"limit":5}`)
	require.Equal(t, "r1", call.Input["room_id"])
	require.InDelta(t, 5, call.Input["limit"], 0)
}

func TestConvertMessagesAddsSystemAndToolRoles(t *testing.T) {
	messages := []dispatch.Message{
		{Role: "user", Content: "hi"},
		{Role: "tool", ToolResults: []dispatch.ToolResult{{ToolCallID: "1", Content: "ok"}}},
	}

	out := convertMessages(messages, "be nice")
	require.Len(t, out, 3)
	require.Equal(t, "system", out[0].Role)
	require.Equal(t, "be nice", out[0].Content)
	require.Equal(t, "user", out[1].Role)
	require.Equal(t, "tool", out[2].Role)
	require.Equal(t, "1", out[2].ToolCallID)
}

func TestConvertToolsCarriesSchema(t *testing.T) {
	tools := []dispatch.ToolSpec{
		{Name: "room.look", Description: "look around", Schema: map[string]any{"type": "object"}},
	}

	out := convertTools(tools)
	require.Len(t, out, 1)
	require.Equal(t, "room.look", out[0].Function.Name)
	require.Equal(t, "look around", out[0].Function.Description)
}
