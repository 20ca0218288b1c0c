// Package wrap implements the context-composition pipeline (spec §4.5): a
// lazy, prioritized, budgeted assembly of a system prompt and a per-turn
// context string from heterogeneous sources.
package wrap

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrBudgetExceeded is returned when system-only sources already exceed the
// token budget.
var ErrBudgetExceeded = errors.New("wrap: budget exceeded")

// BudgetExceededError carries the values behind ErrBudgetExceeded.
type BudgetExceededError struct {
	Required int
	Budget   int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("wrap: required %d tokens exceeds budget %d", e.Required, e.Budget)
}

func (e *BudgetExceededError) Unwrap() error { return ErrBudgetExceeded }

// Source is a lazy producer of prompt text.
type Source struct {
	Name     string
	Priority int
	IsSystem bool
	// Text is evaluated lazily; wrap never calls it for a source it can
	// prove will not fit.
	Text func() (string, error)
}

// Estimator estimates the token cost of a string. The default uses
// len(text)/4, matching spec §4.5's pluggable estimator contract.
type Estimator func(text string) int

// DefaultEstimator estimates token count as len(text)/4.
func DefaultEstimator(text string) int {
	return len(text) / 4
}

// Result is the two strings produced for a single model turn.
type Result struct {
	SystemPrompt string
	Context      string
}

// Compose assembles a Result from sources under budget, following spec
// §4.5's assembly rule exactly:
//   - partition into system/context by IsSystem
//   - order each partition ascending by priority
//   - sum system tokens; fail with BudgetExceededError if they alone don't fit
//   - fill context by ascending priority within the remaining budget,
//     truncating an overflowing source on a whitespace boundary with an
//     ellipsis
//   - join each partition with blank-line separators
//
// Output is deterministic for a fixed source list, budget, and estimator.
func Compose(sources []Source, budget int, estimate Estimator) (Result, error) {
	if estimate == nil {
		estimate = DefaultEstimator
	}

	var system, context []Source
	for _, s := range sources {
		if s.IsSystem {
			system = append(system, s)
		} else {
			context = append(context, s)
		}
	}
	sortByPriority(system)
	sortByPriority(context)

	systemTexts := make([]string, 0, len(system))
	systemTokens := 0
	for _, s := range system {
		text, err := s.Text()
		if err != nil {
			return Result{}, fmt.Errorf("wrap: source %q: %w", s.Name, err)
		}
		systemTexts = append(systemTexts, text)
		systemTokens += estimate(text)
	}
	if systemTokens > budget {
		return Result{}, &BudgetExceededError{Required: systemTokens, Budget: budget}
	}

	remaining := budget - systemTokens
	contextTexts := make([]string, 0, len(context))
	for _, s := range context {
		text, err := s.Text()
		if err != nil {
			return Result{}, fmt.Errorf("wrap: source %q: %w", s.Name, err)
		}
		tokens := estimate(text)
		if tokens <= remaining {
			contextTexts = append(contextTexts, text)
			remaining -= tokens
			continue
		}
		if remaining <= 0 {
			continue
		}
		truncated := truncateToTokens(text, remaining, estimate)
		if truncated != "" {
			contextTexts = append(contextTexts, truncated)
			remaining = 0
		}
	}

	return Result{
		SystemPrompt: strings.Join(systemTexts, "\n\n"),
		Context:      strings.Join(contextTexts, "\n\n"),
	}, nil
}

func sortByPriority(sources []Source) {
	sort.SliceStable(sources, func(i, j int) bool { return sources[i].Priority < sources[j].Priority })
}

// truncateToTokens cuts text to roughly budget tokens on a whitespace
// boundary and appends an ellipsis.
func truncateToTokens(text string, budget int, estimate Estimator) string {
	if budget <= 0 {
		return ""
	}
	// Approximate character budget from the token estimator, then walk
	// back to a whitespace boundary.
	approxChars := budget * 4
	if approxChars >= len(text) {
		return text
	}
	cut := approxChars
	for cut > 0 && !isSpace(text[cut]) {
		cut--
	}
	if cut == 0 {
		cut = approxChars
	}
	candidate := strings.TrimRight(text[:cut], " \t\n\r") + " …"
	for estimate(candidate) > budget && len(candidate) > 1 {
		cut--
		if cut <= 0 {
			return ""
		}
		candidate = strings.TrimRight(text[:cut], " \t\n\r") + " …"
	}
	return candidate
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
