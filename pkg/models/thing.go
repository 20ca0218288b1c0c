package models

import "time"

// ThingKind loosely categorizes a Thing for presentation; the store treats
// all things as uniform uninterpreted items identified by QualifiedName.
type ThingKind string

const (
	ThingTool  ThingKind = "tool"
	ThingData  ThingKind = "data"
	ThingRoom  ThingKind = "room"
	ThingAgent ThingKind = "agent"
)

// Thing is a uniform uninterpreted item identified by a qualified name.
type Thing struct {
	ID            string         `json:"id"`
	QualifiedName string         `json:"qualified_name"`
	Kind          ThingKind      `json:"kind,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// EquippedContextKind is what an Equipped row is bound to.
type EquippedContextKind string

const (
	ContextRoom  EquippedContextKind = "room"
	ContextAgent EquippedContextKind = "agent"
)

// Equipped binds a Thing to a context (room or agent) in a slot with a
// numeric priority. Merged equipment for a room unions room- and
// agent-equipped sets.
type Equipped struct {
	ID          string              `json:"id"`
	ThingID     string              `json:"thing_id"`
	ContextKind EquippedContextKind `json:"context_kind"`
	ContextID   string              `json:"context_id"`
	Slot        string              `json:"slot"`
	Priority    int                 `json:"priority"`
}
