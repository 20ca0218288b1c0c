package models

import "time"

// Room is a named collaborative space. Each room has a primary room_chat
// buffer; other buffers (agent thinking, tool output, scratch) hang off the
// same room.
type Room struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Vibe         string            `json:"vibe,omitempty"`
	Exits        map[string]string `json:"exits,omitempty"` // direction -> destination room id
	ParentRoomID *string           `json:"parent_room_id,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// BufferKind enumerates the typed buffers a room or agent may own.
type BufferKind string

const (
	BufferRoomChat   BufferKind = "room_chat"
	BufferThinking   BufferKind = "thinking"
	BufferToolOutput BufferKind = "tool_output"
	BufferScratch    BufferKind = "scratch"
)

// TombstoneStatus records why a buffer was closed out.
type TombstoneStatus string

const (
	TombstoneSuccess   TombstoneStatus = "success"
	TombstoneFailure   TombstoneStatus = "failure"
	TombstoneCancelled TombstoneStatus = "cancelled"
)

// Tombstone marks a buffer as collapsed but retained.
type Tombstone struct {
	Status  TombstoneStatus `json:"status"`
	Summary string          `json:"summary,omitempty"`
}

// Buffer is a typed ordered container of rows. It may be owned by a room, an
// agent, or both, and may carry a parent_buffer_id for forks.
type Buffer struct {
	ID             string     `json:"id"`
	Kind           BufferKind `json:"kind"`
	RoomID         *string    `json:"room_id,omitempty"`
	AgentID        *string    `json:"agent_id,omitempty"`
	ParentBufferID *string    `json:"parent_buffer_id,omitempty"`
	Tombstone      *Tombstone `json:"tombstone,omitempty"`

	// IncludeInWrap defaults true for chat buffers, false for thinking.
	IncludeInWrap bool `json:"include_in_wrap"`
	WrapPriority  int  `json:"wrap_priority"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultIncludeInWrap returns the default include_in_wrap value for a kind.
func DefaultIncludeInWrap(kind BufferKind) bool {
	return kind == BufferRoomChat
}
