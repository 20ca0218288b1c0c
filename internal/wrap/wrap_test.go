package wrap

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func textSource(name string, priority int, isSystem bool, text string) Source {
	return Source{Name: name, Priority: priority, IsSystem: isSystem, Text: func() (string, error) { return text, nil }}
}

func TestComposeWithinBudgetIsDeterministic(t *testing.T) {
	sources := []Source{
		textSource("global", 0, true, "global identity"),
		textSource("model", 10, true, "model identity"),
		textSource("room", 20, false, "room vibe"),
		textSource("history", 50, false, "recent history"),
	}

	r1, err := Compose(sources, 1000, nil)
	require.NoError(t, err)
	r2, err := Compose(sources, 1000, nil)
	require.NoError(t, err)
	require.Equal(t, r1, r2)
	require.Equal(t, "global identity\n\nmodel identity", r1.SystemPrompt)
	require.Equal(t, "room vibe\n\nrecent history", r1.Context)
}

func TestComposeBudgetExceededWhenSystemAloneOverflows(t *testing.T) {
	// "40 chars of system text" -> 10 tokens at len/4; budget smaller than that fails.
	sources := []Source{
		textSource("global", 0, true, strings.Repeat("x", 40)),
	}
	_, err := Compose(sources, 2, nil)
	var budgetErr *BudgetExceededError
	require.True(t, errors.As(err, &budgetErr))
	require.True(t, errors.Is(err, ErrBudgetExceeded))
}

func TestComposeTruncatesOverflowingContextSource(t *testing.T) {
	// System totals 40 tokens (160 chars); budget 100 leaves 60 for context.
	// A single context source of 400 chars (~100 tokens) alone exceeds the
	// remaining 60, so it must be truncated with an ellipsis rather than
	// failing the whole turn.
	sources := []Source{
		textSource("system", 0, true, strings.Repeat("s", 160)),
		textSource("big", 20, false, strings.Repeat("word ", 80)),
	}
	result, err := Compose(sources, 100, nil)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(result.Context, "…"))
	require.Less(t, len(result.Context), 400)
}

func TestComposeContextNeverExceedsRemainingBudget(t *testing.T) {
	sources := []Source{
		textSource("system", 0, true, strings.Repeat("s", 40)), // 10 tokens
		textSource("a", 10, false, strings.Repeat("a", 200)),
		textSource("b", 20, false, strings.Repeat("b", 200)),
	}
	budget := 100
	result, err := Compose(sources, budget, nil)
	require.NoError(t, err)
	systemTokens := DefaultEstimator(result.SystemPrompt)
	contextTokens := DefaultEstimator(result.Context)
	require.LessOrEqual(t, contextTokens, budget-systemTokens)
}
