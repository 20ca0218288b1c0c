package providers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAnthropicProviderRequiresAPIKey(t *testing.T) {
	_, err := NewAnthropicProvider(AnthropicConfig{})
	require.Error(t, err)
}

func TestNewAnthropicProviderAppliesDefaults(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "sk-ant-test"})
	require.NoError(t, err)
	require.Equal(t, "anthropic", p.Name())
	require.Equal(t, 3, p.maxRetries)
	require.Equal(t, "claude-sonnet-4-20250514", p.defaultModel)
}

func TestAnthropicModelFallsBackToDefault(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "sk-ant-test"})
	require.NoError(t, err)

	require.Equal(t, "claude-sonnet-4-20250514", p.model(""))
	require.Equal(t, "claude-opus-4", p.model("claude-opus-4"))
}

func TestAnthropicMaxTokensDefault(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "sk-ant-test"})
	require.NoError(t, err)

	require.EqualValues(t, 4096, p.maxTokens(0))
	require.EqualValues(t, 2048, p.maxTokens(2048))
}
