package models

import "time"

// ContentMethod is a dotted taxonomy describing what produced a row's
// content, e.g. "message.user", "tool.call", "presence.join".
type ContentMethod string

const (
	ContentMessageUser    ContentMethod = "message.user"
	ContentMessageModel   ContentMethod = "message.model"
	ContentMessageSystem  ContentMethod = "message.system"
	ContentThinkingStream ContentMethod = "thinking.stream"
	ContentToolCall       ContentMethod = "tool.call"
	ContentToolResult     ContentMethod = "tool.result"
	ContentPresenceJoin   ContentMethod = "presence.join"
	ContentPresenceLeave  ContentMethod = "presence.leave"
)

// ContentFormat describes how to interpret Row.Content.
type ContentFormat string

const (
	FormatText     ContentFormat = "text"
	FormatMarkdown ContentFormat = "markdown"
	FormatJSON     ContentFormat = "json"
)

// Row is the atomic log unit. Within a buffer, top-level rows (no parent)
// are totally ordered by Position; children of a given parent are totally
// ordered by their own Position.
type Row struct {
	ID            string  `json:"id"`
	BufferID      string  `json:"buffer_id"`
	ParentRowID   *string `json:"parent_row_id,omitempty"`
	Position      float64 `json:"position"`
	SourceAgentID *string `json:"source_agent_id,omitempty"`

	ContentMethod ContentMethod          `json:"content_method"`
	ContentFormat ContentFormat          `json:"content_format"`
	ContentMeta   map[string]any         `json:"content_meta,omitempty"`
	Content       string                 `json:"content"`

	Collapsed bool `json:"collapsed"`
	Ephemeral bool `json:"ephemeral"`
	Mutable   bool `json:"mutable"`
	Pinned    bool `json:"pinned"`
	Hidden    bool `json:"hidden"`

	TokenCount int64   `json:"token_count,omitempty"`
	CostUSD    float64 `json:"cost_usd,omitempty"`
	LatencyMS  int64   `json:"latency_ms,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}

// Finalized reports whether the row is immutable.
func (r *Row) Finalized() bool {
	return r.FinalizedAt != nil
}

// RowTag is a unique (row_id, tag) pair.
type RowTag struct {
	RowID string `json:"row_id"`
	Tag   string `json:"tag"`
}

// RowReaction is a unique (row_id, agent_id, reaction) triple.
type RowReaction struct {
	RowID    string `json:"row_id"`
	AgentID  string `json:"agent_id"`
	Reaction string `json:"reaction"`
}

// RowLinkType enumerates the relationship a RowLink expresses.
type RowLinkType string

const (
	LinkReply     RowLinkType = "reply"
	LinkQuote     RowLinkType = "quote"
	LinkRelates   RowLinkType = "relates"
	LinkContinues RowLinkType = "continues"
)

// RowLink is a directed, typed relation between two rows.
type RowLink struct {
	FromRowID string      `json:"from_row_id"`
	ToRowID   string      `json:"to_row_id"`
	Type      RowLinkType `json:"type"`
}
