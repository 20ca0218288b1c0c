// Package store implements the durable row/buffer log plus the rules,
// scripts, things, equipped, agents, and public-key entities it shares a
// backend with. Every operation is transactional CRUD on the entities of
// spec §3 plus the compound operations below.
package store

import (
	"context"

	"github.com/tobert/sshwarpd/pkg/models"
)

// Rooms persists Room entities.
type Rooms interface {
	CreateRoom(ctx context.Context, room *models.Room) error
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	GetRoomByName(ctx context.Context, name string) (*models.Room, error)
	UpdateRoom(ctx context.Context, room *models.Room) error
	ListRooms(ctx context.Context) ([]*models.Room, error)
	// Fork creates a child room copying vibe and exits from parent.
	Fork(ctx context.Context, parentID, childName string) (*models.Room, error)
}

// Buffers persists Buffer entities.
type Buffers interface {
	CreateBuffer(ctx context.Context, buf *models.Buffer) error
	GetBuffer(ctx context.Context, id string) (*models.Buffer, error)
	UpdateBuffer(ctx context.Context, buf *models.Buffer) error
	ListBuffersByRoom(ctx context.Context, roomID string) ([]*models.Buffer, error)
	// GetOrCreateRoomBuffer is idempotent; it creates the primary chat
	// buffer for a room on first use.
	GetOrCreateRoomBuffer(ctx context.Context, roomID string) (*models.Buffer, error)
}

// Rows persists Row entities and the append-only log operations.
type Rows interface {
	GetRow(ctx context.Context, id string) (*models.Row, error)
	// AppendRow atomically computes position = last_position(buffer) + 1
	// (or 0 if empty) and inserts the row, returning its id.
	AppendRow(ctx context.Context, row *models.Row) (string, error)
	// InsertRowBetween inserts row between the rows at positions a and b,
	// rebalancing buffer siblings first if the gap is too small.
	InsertRowBetween(ctx context.Context, row *models.Row, afterRowID, beforeRowID *string) (string, error)
	// AppendToRow appends text to content only if the row is currently
	// mutable; it silently no-ops otherwise.
	AppendToRow(ctx context.Context, rowID string, text string) error
	// FinalizeRow sets finalized_at = now and clears mutable. Idempotent.
	FinalizeRow(ctx context.Context, rowID string) error
	SetRowEphemeral(ctx context.Context, rowID string, ephemeral bool) error
	UpdateRowFields(ctx context.Context, rowID string, fields map[string]any) error

	// ListBufferRows returns top-level rows (no parent) ordered ascending
	// by position.
	ListBufferRows(ctx context.Context, bufferID string) ([]*models.Row, error)
	ListChildRows(ctx context.Context, parentRowID string) ([]*models.Row, error)
	GetLastBufferRow(ctx context.Context, bufferID string) (*models.Row, error)
	// RowsSince returns rows with position > position_of(sinceRowID) (or
	// all if sinceRowID is nil), ordered ascending.
	RowsSince(ctx context.Context, bufferID string, sinceRowID *string) ([]*models.Row, error)
	// ListRecentBufferRows returns up to n most recent top-level rows in
	// chronological order (oldest first).
	ListRecentBufferRows(ctx context.Context, bufferID string, n int) ([]*models.Row, error)
	ListToolCalls(ctx context.Context, bufferID string, n int) ([]*models.Row, error)
	CountToolCalls(ctx context.Context, bufferID string) (int, error)

	TagRow(ctx context.Context, rowID, tag string) error
	UntagRow(ctx context.Context, rowID, tag string) error
	RowTags(ctx context.Context, rowID string) ([]string, error)
	ReactToRow(ctx context.Context, rowID, agentID, reaction string) error
	RowReactions(ctx context.Context, rowID string) ([]models.RowReaction, error)
	LinkRows(ctx context.Context, link models.RowLink) error
	RowLinks(ctx context.Context, rowID string) ([]models.RowLink, error)
}

// Rules persists Rule entities.
type Rules interface {
	CreateRule(ctx context.Context, rule *models.Rule) error
	UpdateRule(ctx context.Context, rule *models.Rule) error
	DeleteRule(ctx context.Context, ruleID string) error
	GetRule(ctx context.Context, ruleID string) (*models.Rule, error)
	// ListEnabledRules returns enabled rules for a room. Callers (the
	// rules engine) are responsible for the 60s TTL cache in front of
	// this call.
	ListEnabledRules(ctx context.Context, roomID string) ([]*models.Rule, error)
}

// Scripts persists Script entities. Versions are append-only.
type Scripts interface {
	PutScript(ctx context.Context, script *models.Script) error
	GetScript(ctx context.Context, scope models.ScriptScope, scopeKey, modulePath string) (*models.Script, error)
}

// Things persists Thing and Equipped entities.
type Things interface {
	PutThing(ctx context.Context, thing *models.Thing) error
	GetThing(ctx context.Context, qualifiedName string) (*models.Thing, error)
	Equip(ctx context.Context, eq *models.Equipped) error
	Unequip(ctx context.Context, equippedID string) error
	// ListEquipped returns the equipment for a single context (room or
	// agent). Callers merge room and agent sets per spec §4.4.
	ListEquipped(ctx context.Context, kind models.EquippedContextKind, contextID string) ([]*models.Equipped, error)
}

// Agents persists Agent and PublicKey entities.
type Agents interface {
	PutAgent(ctx context.Context, agent *models.Agent) error
	GetAgent(ctx context.Context, agentID string) (*models.Agent, error)
	PutPublicKey(ctx context.Context, key *models.PublicKey) error
	LookupByFingerprint(ctx context.Context, fingerprint string) (*models.PublicKey, error)
}

// Store aggregates every durable entity surface. Implementations: memory
// (tests, :memory: config) and sqlite (default on-disk backend).
type Store interface {
	Rooms
	Buffers
	Rows
	Rules
	Scripts
	Things
	Agents

	Close() error
}
