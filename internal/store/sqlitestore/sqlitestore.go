// Package sqlitestore is the default on-disk backend for store.Store: a
// database/sql implementation over SQLite. The driver is selected by build
// tag (sqlitestore_cgo.go's mattn/go-sqlite3 by default, sqlitestore_nocgo.go's
// modernc.org/sqlite under -tags nocgo for cross-compiled/CGO-free builds),
// mirroring the alternate-driver pair the teacher carries in go.mod without
// ever wiring a cgo-free build itself.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tobert/sshwarpd/internal/store"
	"github.com/tobert/sshwarpd/pkg/models"
)

// Store implements store.Store against an on-disk (or :memory:) SQLite
// database.
type Store struct {
	db *sql.DB

	mu    sync.Mutex
	bufMu map[string]*sync.Mutex // per-buffer exclusive lock for position ops
}

var _ store.Store = (*Store)(nil)

// Open connects to the database at path (or ":memory:"), applies pragmas,
// and runs the schema migration. path follows the driver's DSN conventions;
// a plain filesystem path is the common case.
func Open(path string) (*Store, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	// SQLite only tolerates one writer at a time; since the log is the
	// primary write path, a single connection avoids SQLITE_BUSY entirely
	// instead of tuning busy_timeout against concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: foreign_keys pragma: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: journal_mode pragma: %w", err)
	}

	s := &Store{db: db, bufMu: map[string]*sync.Mutex{}}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) bufferLock(bufferID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.bufMu[bufferID]
	if !ok {
		l = &sync.Mutex{}
		s.bufMu[bufferID] = l
	}
	return l
}

// timestamps are stored as RFC3339Nano text rather than the driver-native
// time binding so the schema reads identically under either build-tagged
// driver.
func timeToCol(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func colToTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullTimeCol(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}

func colToNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullStringCol(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func colToNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint")
}

func (s *Store) migrate() error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlitestore: migrate: %w", err)
		}
	}
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		vibe TEXT NOT NULL DEFAULT '',
		exits TEXT,
		parent_room_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS buffers (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		room_id TEXT,
		agent_id TEXT,
		parent_buffer_id TEXT,
		tombstone_status TEXT,
		tombstone_summary TEXT,
		include_in_wrap INTEGER NOT NULL DEFAULT 0,
		wrap_priority INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_buffers_room_chat ON buffers(room_id) WHERE kind = 'room_chat'`,
	`CREATE INDEX IF NOT EXISTS idx_buffers_room ON buffers(room_id)`,
	`CREATE TABLE IF NOT EXISTS rows (
		id TEXT PRIMARY KEY,
		buffer_id TEXT NOT NULL,
		parent_row_id TEXT,
		position REAL NOT NULL,
		source_agent_id TEXT,
		content_method TEXT NOT NULL,
		content_format TEXT NOT NULL,
		content_meta TEXT,
		content TEXT NOT NULL DEFAULT '',
		collapsed INTEGER NOT NULL DEFAULT 0,
		ephemeral INTEGER NOT NULL DEFAULT 0,
		mutable INTEGER NOT NULL DEFAULT 1,
		pinned INTEGER NOT NULL DEFAULT 0,
		hidden INTEGER NOT NULL DEFAULT 0,
		token_count INTEGER NOT NULL DEFAULT 0,
		cost_usd REAL NOT NULL DEFAULT 0,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		finalized_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rows_buffer_top ON rows(buffer_id, parent_row_id, position)`,
	`CREATE INDEX IF NOT EXISTS idx_rows_parent ON rows(parent_row_id, position)`,
	`CREATE TABLE IF NOT EXISTS row_tags (
		row_id TEXT NOT NULL,
		tag TEXT NOT NULL,
		PRIMARY KEY (row_id, tag)
	)`,
	`CREATE TABLE IF NOT EXISTS row_reactions (
		row_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		reaction TEXT NOT NULL,
		PRIMARY KEY (row_id, agent_id, reaction)
	)`,
	`CREATE TABLE IF NOT EXISTS row_links (
		from_row_id TEXT NOT NULL,
		to_row_id TEXT NOT NULL,
		type TEXT NOT NULL,
		PRIMARY KEY (from_row_id, to_row_id, type)
	)`,
	`CREATE TABLE IF NOT EXISTS rules (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		name TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		priority REAL NOT NULL DEFAULT 0,
		trigger_kind TEXT NOT NULL,
		match_content_method_glob TEXT,
		match_source_agent_glob TEXT,
		match_buffer_type TEXT,
		match_tag TEXT,
		interval_ms INTEGER NOT NULL DEFAULT 0,
		tick_divisor INTEGER NOT NULL DEFAULT 0,
		script_id TEXT NOT NULL,
		action_slot TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rules_room_enabled ON rules(room_id, enabled)`,
	`CREATE TABLE IF NOT EXISTS scripts (
		id TEXT PRIMARY KEY,
		scope TEXT NOT NULL,
		scope_key TEXT NOT NULL,
		module_path TEXT NOT NULL,
		source TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scripts_lookup ON scripts(scope, scope_key, module_path, version)`,
	`CREATE TABLE IF NOT EXISTS things (
		id TEXT PRIMARY KEY,
		qualified_name TEXT NOT NULL UNIQUE,
		kind TEXT,
		meta TEXT,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS equipped (
		id TEXT PRIMARY KEY,
		thing_id TEXT NOT NULL,
		context_kind TEXT NOT NULL,
		context_id TEXT NOT NULL,
		slot TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_equipped_context ON equipped(context_kind, context_id, priority)`,
	`CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		display_name TEXT NOT NULL,
		backend TEXT,
		model TEXT,
		system_prompt TEXT,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS public_keys (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		fingerprint TEXT NOT NULL UNIQUE,
		key_data BLOB,
		comment TEXT,
		created_at TEXT NOT NULL
	)`,
}

// --- Rooms ---

func (s *Store) CreateRoom(ctx context.Context, room *models.Room) error {
	if room == nil {
		return fmt.Errorf("room is required")
	}
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	now := time.Now()
	room.CreatedAt, room.UpdatedAt = now, now

	exits, err := marshalJSON(room.Exits)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rooms (id, name, vibe, exits, parent_room_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		room.ID, room.Name, room.Vibe, exits, nullStringCol(room.ParentRoomID),
		timeToCol(room.CreatedAt), timeToCol(room.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("sqlitestore: create room: %w", err)
	}
	return nil
}

func (s *Store) scanRoom(row interface{ Scan(...any) error }) (*models.Room, error) {
	var r models.Room
	var exits sql.NullString
	var parentID sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&r.ID, &r.Name, &r.Vibe, &exits, &parentID, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("sqlitestore: scan room: %w", err)
	}
	if exits.Valid && exits.String != "" {
		if err := unmarshalJSON(exits.String, &r.Exits); err != nil {
			return nil, err
		}
	}
	r.ParentRoomID = colToNullString(parentID)
	r.CreatedAt = colToTime(createdAt)
	r.UpdatedAt = colToTime(updatedAt)
	return &r, nil
}

func (s *Store) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, vibe, exits, parent_room_id, created_at, updated_at FROM rooms WHERE id = ?`, id)
	return s.scanRoom(row)
}

func (s *Store) GetRoomByName(ctx context.Context, name string) (*models.Room, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, vibe, exits, parent_room_id, created_at, updated_at FROM rooms WHERE name = ?`, name)
	return s.scanRoom(row)
}

func (s *Store) UpdateRoom(ctx context.Context, room *models.Room) error {
	exits, err := marshalJSON(room.Exits)
	if err != nil {
		return err
	}
	room.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET name = ?, vibe = ?, exits = ?, parent_room_id = ?, updated_at = ? WHERE id = ?`,
		room.Name, room.Vibe, exits, nullStringCol(room.ParentRoomID), timeToCol(room.UpdatedAt), room.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: update room: %w", err)
	}
	return requireAffected(res)
}

func (s *Store) ListRooms(ctx context.Context) ([]*models.Room, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, vibe, exits, parent_room_id, created_at, updated_at FROM rooms ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list rooms: %w", err)
	}
	defer rows.Close()

	var out []*models.Room
	for rows.Next() {
		r, err := s.scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Fork(ctx context.Context, parentID, childName string) (*models.Room, error) {
	parent, err := s.GetRoom(ctx, parentID)
	if err != nil {
		return nil, err
	}
	child := &models.Room{
		Name:         childName,
		Vibe:         parent.Vibe,
		Exits:        cloneExits(parent.Exits),
		ParentRoomID: &parent.ID,
	}
	if err := s.CreateRoom(ctx, child); err != nil {
		return nil, err
	}
	return child, nil
}

func cloneExits(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// --- Buffers ---

func (s *Store) CreateBuffer(ctx context.Context, buf *models.Buffer) error {
	if buf == nil {
		return fmt.Errorf("buffer is required")
	}
	if buf.ID == "" {
		buf.ID = uuid.NewString()
	}
	now := time.Now()
	buf.CreatedAt, buf.UpdatedAt = now, now

	var tombStatus, tombSummary sql.NullString
	if buf.Tombstone != nil {
		tombStatus = sql.NullString{String: string(buf.Tombstone.Status), Valid: true}
		tombSummary = sql.NullString{String: buf.Tombstone.Summary, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO buffers (id, kind, room_id, agent_id, parent_buffer_id, tombstone_status, tombstone_summary,
			include_in_wrap, wrap_priority, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		buf.ID, string(buf.Kind), nullStringCol(buf.RoomID), nullStringCol(buf.AgentID), nullStringCol(buf.ParentBufferID),
		tombStatus, tombSummary, boolCol(buf.IncludeInWrap), buf.WrapPriority,
		timeToCol(buf.CreatedAt), timeToCol(buf.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("sqlitestore: create buffer: %w", err)
	}
	return nil
}

func (s *Store) scanBuffer(row interface{ Scan(...any) error }) (*models.Buffer, error) {
	var b models.Buffer
	var kind string
	var roomID, agentID, parentBufID, tombStatus, tombSummary sql.NullString
	var includeInWrap int
	var createdAt, updatedAt string
	if err := row.Scan(&b.ID, &kind, &roomID, &agentID, &parentBufID, &tombStatus, &tombSummary,
		&includeInWrap, &b.WrapPriority, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("sqlitestore: scan buffer: %w", err)
	}
	b.Kind = models.BufferKind(kind)
	b.RoomID = colToNullString(roomID)
	b.AgentID = colToNullString(agentID)
	b.ParentBufferID = colToNullString(parentBufID)
	if tombStatus.Valid {
		b.Tombstone = &models.Tombstone{Status: models.TombstoneStatus(tombStatus.String), Summary: tombSummary.String}
	}
	b.IncludeInWrap = includeInWrap != 0
	b.CreatedAt = colToTime(createdAt)
	b.UpdatedAt = colToTime(updatedAt)
	return &b, nil
}

func (s *Store) GetBuffer(ctx context.Context, id string) (*models.Buffer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, room_id, agent_id, parent_buffer_id, tombstone_status, tombstone_summary,
			include_in_wrap, wrap_priority, created_at, updated_at FROM buffers WHERE id = ?`, id)
	return s.scanBuffer(row)
}

func (s *Store) UpdateBuffer(ctx context.Context, buf *models.Buffer) error {
	var tombStatus, tombSummary sql.NullString
	if buf.Tombstone != nil {
		tombStatus = sql.NullString{String: string(buf.Tombstone.Status), Valid: true}
		tombSummary = sql.NullString{String: buf.Tombstone.Summary, Valid: true}
	}
	buf.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE buffers SET kind = ?, room_id = ?, agent_id = ?, parent_buffer_id = ?, tombstone_status = ?,
			tombstone_summary = ?, include_in_wrap = ?, wrap_priority = ?, updated_at = ? WHERE id = ?`,
		string(buf.Kind), nullStringCol(buf.RoomID), nullStringCol(buf.AgentID), nullStringCol(buf.ParentBufferID),
		tombStatus, tombSummary, boolCol(buf.IncludeInWrap), buf.WrapPriority, timeToCol(buf.UpdatedAt), buf.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: update buffer: %w", err)
	}
	return requireAffected(res)
}

func (s *Store) ListBuffersByRoom(ctx context.Context, roomID string) ([]*models.Buffer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, room_id, agent_id, parent_buffer_id, tombstone_status, tombstone_summary,
			include_in_wrap, wrap_priority, created_at, updated_at FROM buffers WHERE room_id = ? ORDER BY created_at`, roomID)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list buffers: %w", err)
	}
	defer rows.Close()

	var out []*models.Buffer
	for rows.Next() {
		b, err := s.scanBuffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) GetOrCreateRoomBuffer(ctx context.Context, roomID string) (*models.Buffer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, room_id, agent_id, parent_buffer_id, tombstone_status, tombstone_summary,
			include_in_wrap, wrap_priority, created_at, updated_at FROM buffers
		 WHERE kind = 'room_chat' AND room_id = ?`, roomID)
	existing, err := s.scanBuffer(row)
	if err == nil {
		return existing, nil
	}
	if err != store.ErrNotFound {
		return nil, err
	}

	buf := &models.Buffer{
		Kind:          models.BufferRoomChat,
		RoomID:        &roomID,
		IncludeInWrap: models.DefaultIncludeInWrap(models.BufferRoomChat),
	}
	if err := s.CreateBuffer(ctx, buf); err != nil {
		if err == store.ErrConflict {
			return s.GetOrCreateRoomBuffer(ctx, roomID)
		}
		return nil, err
	}
	return buf, nil
}

func boolCol(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlitestore: rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
