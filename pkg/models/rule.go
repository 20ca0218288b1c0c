package models

// TriggerKind enumerates how a Rule is evaluated.
type TriggerKind string

const (
	TriggerRow      TriggerKind = "row"
	TriggerInterval TriggerKind = "interval"
	TriggerTick     TriggerKind = "tick"
)

// ActionSlot determines when and how a rule handler's return value is
// consumed by the session orchestrator.
type ActionSlot string

const (
	SlotRender     ActionSlot = "render"
	SlotWrap       ActionSlot = "wrap"
	SlotNotify     ActionSlot = "notify"
	SlotTransform  ActionSlot = "transform"
	SlotBackground ActionSlot = "background"
)

// SlotDispatchOrder is the order in which matched rules for each action slot
// are dispatched within a single evaluation pass. Transform runs first
// because other slots may read the transformed row.
var SlotDispatchOrder = []ActionSlot{SlotTransform, SlotNotify, SlotRender, SlotWrap, SlotBackground}

// RuleMatch holds the match predicates for a row-triggered rule.
type RuleMatch struct {
	ContentMethodGlob string `json:"content_method_glob,omitempty"`
	SourceAgentGlob   string `json:"source_agent_glob,omitempty"`
	BufferType        string `json:"buffer_type,omitempty"`
	Tag               string `json:"tag,omitempty"`
}

// Rule binds match predicates and time conditions to a scripted handler in
// an action slot.
//
// Invariant: a row-triggered rule uses only Match; a tick rule requires
// TickDivisor; an interval rule requires IntervalMS.
type Rule struct {
	ID          string      `json:"id"`
	RoomID      string      `json:"room_id"`
	Name        string      `json:"name"`
	Enabled     bool        `json:"enabled"`
	Priority    float64     `json:"priority"`
	TriggerKind TriggerKind `json:"trigger_kind"`
	Match       RuleMatch   `json:"match,omitempty"`
	IntervalMS  int64       `json:"interval_ms,omitempty"`
	TickDivisor uint64      `json:"tick_divisor,omitempty"`
	ScriptID    string      `json:"script_id"`
	ActionSlot  ActionSlot  `json:"action_slot"`
}
