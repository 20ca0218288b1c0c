// Package rules implements the row-trigger, tick-trigger, and
// interval-trigger matching engine described in spec §4.2: it matches
// events against enabled rules for a room and surfaces ordered
// (rule, match reason) pairs for the session orchestrator to dispatch.
package rules

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tobert/sshwarpd/internal/observability"
	"github.com/tobert/sshwarpd/pkg/models"
)

// ReasonKind identifies why a rule matched.
type ReasonKind string

const (
	ReasonRow      ReasonKind = "row"
	ReasonTick     ReasonKind = "tick"
	ReasonInterval ReasonKind = "interval"
)

// MatchReason describes why a rule fired. Tick is populated only when Kind
// is ReasonTick.
type MatchReason struct {
	Kind ReasonKind
	Tick uint64
}

// Match pairs a fired rule with the reason it fired.
type Match struct {
	Rule   *models.Rule
	Reason MatchReason
}

// Store is the subset of store.Rules the engine needs.
type Store interface {
	ListEnabledRules(ctx context.Context, roomID string) ([]*models.Rule, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithNow overrides the engine's clock; used by tests.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics attaches a metrics sink; nil (the default) disables recording.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = metrics }
}

// Engine matches row insertions, tick advances, and elapsed wall-clock
// intervals against enabled rules for a room.
type Engine struct {
	store   Store
	logger  *slog.Logger
	now     func() time.Time
	metrics *observability.Metrics

	cacheMu sync.RWMutex
	cache   map[string]*roomRulesCache // room id -> cached enabled rules

	tickMu sync.Mutex
	tick   uint64

	timerMu sync.Mutex
	timers  map[string]time.Time // rule id -> last fire time
}

// New constructs a rules engine backed by store.
func New(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		logger: slog.Default().With("component", "rules"),
		now:    time.Now,
		cache:  map[string]*roomRulesCache{},
		timers: map[string]time.Time{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Tick advances the monotone tick counter and returns the new value. Tick
// is ephemeral; it resets to 0 on restart.
func (e *Engine) Tick() uint64 {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	e.tick++
	return e.tick
}

// CurrentTick returns the engine's tick counter without advancing it.
func (e *Engine) CurrentTick() uint64 {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	return e.tick
}

// InvalidateCache drops a room's cached rule list so the next load fetches
// fresh data from the store. Callers must invoke this on rule
// create/update/delete.
func (e *Engine) InvalidateCache(roomID string) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	delete(e.cache, roomID)
}

// loadRules returns a room's enabled rules, using the cache if fresh.
func (e *Engine) loadRules(ctx context.Context, roomID string) ([]*models.Rule, error) {
	e.cacheMu.RLock()
	entry := e.cache[roomID]
	e.cacheMu.RUnlock()

	if !entry.stale(e.now()) {
		return entry.rules, nil
	}

	rules, err := e.store.ListEnabledRules(ctx, roomID)
	if err != nil {
		return nil, err
	}

	e.cacheMu.Lock()
	e.cache[roomID] = &roomRulesCache{rules: rules, loadedAt: e.now()}
	e.cacheMu.Unlock()
	return rules, nil
}

// MatchRow matches a newly inserted row against the room's row-triggered
// rules, sorted ascending by priority (ties break by rule id).
func (e *Engine) MatchRow(ctx context.Context, roomID string, bufferType string, row *models.Row, tags map[string]bool) ([]Match, error) {
	rules, err := e.loadRules(ctx, roomID)
	if err != nil {
		e.recordEvaluation("row", "error")
		return nil, err
	}

	var matches []Match
	for _, r := range rules {
		if r.TriggerKind != models.TriggerRow {
			continue
		}
		if !rowMatchesRule(r, bufferType, row, tags) {
			continue
		}
		matches = append(matches, Match{Rule: r, Reason: MatchReason{Kind: ReasonRow}})
	}
	sortMatches(matches)
	e.recordEvaluation("row", matchOutcome(matches))
	return matches, nil
}

func rowMatchesRule(r *models.Rule, bufferType string, row *models.Row, tags map[string]bool) bool {
	if r.Match.ContentMethodGlob != "" && !Match(r.Match.ContentMethodGlob, string(row.ContentMethod)) {
		return false
	}
	agent := ""
	if row.SourceAgentID != nil {
		agent = *row.SourceAgentID
	}
	if r.Match.SourceAgentGlob != "" && !Match(r.Match.SourceAgentGlob, agent) {
		return false
	}
	if r.Match.BufferType != "" && r.Match.BufferType != bufferType {
		return false
	}
	if r.Match.Tag != "" && !tags[r.Match.Tag] {
		return false
	}
	return true
}

// MatchTick matches the room's tick-triggered rules against the current
// tick counter. A rule with tick_divisor k fires on exactly ticks
// k, 2k, 3k, ...
func (e *Engine) MatchTick(ctx context.Context, roomID string, tick uint64) ([]Match, error) {
	rules, err := e.loadRules(ctx, roomID)
	if err != nil {
		e.recordEvaluation("tick", "error")
		return nil, err
	}

	var matches []Match
	for _, r := range rules {
		if r.TriggerKind != models.TriggerTick || r.TickDivisor == 0 {
			continue
		}
		if tick%r.TickDivisor == 0 {
			matches = append(matches, Match{Rule: r, Reason: MatchReason{Kind: ReasonTick, Tick: tick}})
		}
	}
	sortMatches(matches)
	e.recordEvaluation("tick", matchOutcome(matches))
	return matches, nil
}

// MatchInterval matches the room's interval-triggered rules whose elapsed
// wall time since last fire is at least interval_ms. The engine maintains
// one timer per rule id.
func (e *Engine) MatchInterval(ctx context.Context, roomID string) ([]Match, error) {
	rules, err := e.loadRules(ctx, roomID)
	if err != nil {
		e.recordEvaluation("interval", "error")
		return nil, err
	}

	now := e.now()
	var matches []Match
	e.timerMu.Lock()
	for _, r := range rules {
		if r.TriggerKind != models.TriggerInterval || r.IntervalMS <= 0 {
			continue
		}
		last, ok := e.timers[r.ID]
		if !ok || now.Sub(last) >= time.Duration(r.IntervalMS)*time.Millisecond {
			e.timers[r.ID] = now
			matches = append(matches, Match{Rule: r, Reason: MatchReason{Kind: ReasonInterval}})
		}
	}
	e.timerMu.Unlock()
	sortMatches(matches)
	e.recordEvaluation("interval", matchOutcome(matches))
	return matches, nil
}

// recordEvaluation is a no-op when the engine was built without WithMetrics.
func (e *Engine) recordEvaluation(triggerKind, outcome string) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordRuleEvaluation(triggerKind, outcome)
}

func matchOutcome(matches []Match) string {
	if len(matches) == 0 {
		return "skipped"
	}
	return "matched"
}

func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Rule.Priority != matches[j].Rule.Priority {
			return matches[i].Rule.Priority < matches[j].Rule.Priority
		}
		return matches[i].Rule.ID < matches[j].Rule.ID
	})
}

// ForSlot filters matches down to those whose rule targets the given
// action slot.
func ForSlot(matches []Match, slot models.ActionSlot) []Match {
	var out []Match
	for _, m := range matches {
		if m.Rule.ActionSlot == slot {
			out = append(out, m)
		}
	}
	return out
}
