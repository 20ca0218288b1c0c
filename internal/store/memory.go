package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tobert/sshwarpd/pkg/models"
)

type scriptKey struct {
	scope      models.ScriptScope
	scopeKey   string
	modulePath string
}

// MemoryStore is an in-memory Store implementation; it backs the ":memory:"
// config variant required by spec §6 and is used throughout the test
// suite. It mirrors the teacher's clone-on-read/write convention so
// callers never observe mutation through a returned pointer.
type MemoryStore struct {
	mu sync.RWMutex

	rooms   map[string]*models.Room
	buffers map[string]*models.Buffer
	rows    map[string]*models.Row

	bufMu map[string]*sync.Mutex // per-buffer exclusive lock for position ops

	tags      map[string]map[string]bool          // row id -> tag set
	reactions map[string][]models.RowReaction      // row id -> reactions
	links     map[string][]models.RowLink          // row id -> outbound links

	rules map[string]*models.Rule

	scripts map[scriptKey][]*models.Script // append-only versions

	things   map[string]*models.Thing // by qualified name
	equipped map[string]*models.Equipped

	agents map[string]*models.Agent
	keys   map[string]*models.PublicKey // by fingerprint
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:     map[string]*models.Room{},
		buffers:   map[string]*models.Buffer{},
		rows:      map[string]*models.Row{},
		bufMu:     map[string]*sync.Mutex{},
		tags:      map[string]map[string]bool{},
		reactions: map[string][]models.RowReaction{},
		links:     map[string][]models.RowLink{},
		rules:     map[string]*models.Rule{},
		scripts:   map[scriptKey][]*models.Script{},
		things:    map[string]*models.Thing{},
		equipped:  map[string]*models.Equipped{},
		agents:    map[string]*models.Agent{},
		keys:      map[string]*models.PublicKey{},
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) bufferLock(bufferID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.bufMu[bufferID]
	if !ok {
		l = &sync.Mutex{}
		m.bufMu[bufferID] = l
	}
	return l
}

// --- Rooms ---

func (m *MemoryStore) CreateRoom(ctx context.Context, room *models.Room) error {
	if room == nil {
		return fmt.Errorf("room is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	if _, exists := m.rooms[room.ID]; exists {
		return ErrConflict
	}
	now := time.Now()
	room.CreatedAt, room.UpdatedAt = now, now
	clone := *room
	m.rooms[room.ID] = &clone
	return nil
}

func (m *MemoryStore) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *r
	return &clone, nil
}

func (m *MemoryStore) GetRoomByName(ctx context.Context, name string) (*models.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rooms {
		if r.Name == name {
			clone := *r
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) UpdateRoom(ctx context.Context, room *models.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[room.ID]; !ok {
		return ErrNotFound
	}
	room.UpdatedAt = time.Now()
	clone := *room
	m.rooms[room.ID] = &clone
	return nil
}

func (m *MemoryStore) ListRooms(ctx context.Context) ([]*models.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		clone := *r
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) Fork(ctx context.Context, parentID, childName string) (*models.Room, error) {
	m.mu.Lock()
	parent, ok := m.rooms[parentID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	child := &models.Room{
		Name:         childName,
		Vibe:         parent.Vibe,
		Exits:        cloneExits(parent.Exits),
		ParentRoomID: &parent.ID,
	}
	if err := m.CreateRoom(ctx, child); err != nil {
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

func (m *MemoryStore) CreateBuffer(ctx context.Context, buf *models.Buffer) error {
	if buf == nil {
		return fmt.Errorf("buffer is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if buf.ID == "" {
		buf.ID = uuid.NewString()
	}
	if _, exists := m.buffers[buf.ID]; exists {
		return ErrConflict
	}
	now := time.Now()
	buf.CreatedAt, buf.UpdatedAt = now, now
	clone := *buf
	m.buffers[buf.ID] = &clone
	return nil
}

func (m *MemoryStore) GetBuffer(ctx context.Context, id string) (*models.Buffer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buffers[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *b
	return &clone, nil
}

func (m *MemoryStore) UpdateBuffer(ctx context.Context, buf *models.Buffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buffers[buf.ID]; !ok {
		return ErrNotFound
	}
	buf.UpdatedAt = time.Now()
	clone := *buf
	m.buffers[buf.ID] = &clone
	return nil
}

func (m *MemoryStore) ListBuffersByRoom(ctx context.Context, roomID string) ([]*models.Buffer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Buffer
	for _, b := range m.buffers {
		if b.RoomID != nil && *b.RoomID == roomID {
			clone := *b
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) GetOrCreateRoomBuffer(ctx context.Context, roomID string) (*models.Buffer, error) {
	m.mu.Lock()
	for _, b := range m.buffers {
		if b.Kind == models.BufferRoomChat && b.RoomID != nil && *b.RoomID == roomID {
			clone := *b
			m.mu.Unlock()
			return &clone, nil
		}
	}
	m.mu.Unlock()

	buf := &models.Buffer{
		Kind:          models.BufferRoomChat,
		RoomID:        &roomID,
		IncludeInWrap: models.DefaultIncludeInWrap(models.BufferRoomChat),
	}
	if err := m.CreateBuffer(ctx, buf); err != nil {
		if err == ErrConflict {
			return m.GetOrCreateRoomBuffer(ctx, roomID)
		}
		return nil, err
	}
	return buf, nil
}

// --- Rows ---

func (m *MemoryStore) GetRow(ctx context.Context, id string) (*models.Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *r
	return &clone, nil
}

// topLevelSortedLocked returns top-level rows of a buffer sorted by
// position. Caller must hold the buffer lock (not m.mu) and m.mu is taken
// internally per access.
func (m *MemoryStore) topLevelSorted(bufferID string) []*models.Row {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Row
	for _, r := range m.rows {
		if r.BufferID == bufferID && r.ParentRowID == nil {
			clone := *r
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func (m *MemoryStore) AppendRow(ctx context.Context, row *models.Row) (string, error) {
	if row == nil {
		return "", fmt.Errorf("row is required")
	}
	lock := m.bufferLock(row.BufferID)
	lock.Lock()
	defer lock.Unlock()

	var last float64
	var siblings []*models.Row
	if row.ParentRowID == nil {
		siblings = m.topLevelSorted(row.BufferID)
	} else {
		siblings = m.childRowsSorted(*row.ParentRowID)
	}
	if len(siblings) > 0 {
		last = siblings[len(siblings)-1].Position
		row.Position = models.After(last)
	} else {
		row.Position = 0
	}

	return m.insertRowLocked(row)
}

func (m *MemoryStore) childRowsSorted(parentRowID string) []*models.Row {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Row
	for _, r := range m.rows {
		if r.ParentRowID != nil && *r.ParentRowID == parentRowID {
			clone := *r
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func (m *MemoryStore) insertRowLocked(row *models.Row) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.ContentFormat == "" {
		row.ContentFormat = models.FormatText
	}
	now := time.Now()
	row.CreatedAt, row.UpdatedAt = now, now
	row.Mutable = row.FinalizedAt == nil
	clone := *row
	m.rows[row.ID] = &clone
	return row.ID, nil
}

func (m *MemoryStore) InsertRowBetween(ctx context.Context, row *models.Row, afterRowID, beforeRowID *string) (string, error) {
	lock := m.bufferLock(row.BufferID)
	lock.Lock()
	defer lock.Unlock()

	var siblings []*models.Row
	if row.ParentRowID == nil {
		siblings = m.topLevelSorted(row.BufferID)
	} else {
		siblings = m.childRowsSorted(*row.ParentRowID)
	}

	a, b, idx, err := boundingPositions(siblings, afterRowID, beforeRowID)
	if err != nil {
		return "", err
	}

	if models.NeedsRebalance(a, b) {
		m.rebalanceLocked(siblings)
		// Re-derive bounds after rebalance.
		if row.ParentRowID == nil {
			siblings = m.topLevelSorted(row.BufferID)
		} else {
			siblings = m.childRowsSorted(*row.ParentRowID)
		}
		a, b, idx, err = boundingPositions(siblings, afterRowID, beforeRowID)
		if err != nil {
			return "", err
		}
	}
	_ = idx
	row.Position = models.Midpoint(a, b)
	return m.insertRowLocked(row)
}

// boundingPositions resolves the (a, b) position window for an insert,
// defaulting to (-1, first) or (last, last+2) at the ends.
func boundingPositions(siblings []*models.Row, afterRowID, beforeRowID *string) (a, b float64, idx int, err error) {
	find := func(id string) (float64, int, bool) {
		for i, r := range siblings {
			if r.ID == id {
				return r.Position, i, true
			}
		}
		return 0, 0, false
	}
	switch {
	case afterRowID != nil && beforeRowID != nil:
		pa, ia, ok1 := find(*afterRowID)
		pb, _, ok2 := find(*beforeRowID)
		if !ok1 || !ok2 {
			return 0, 0, 0, ErrNotFound
		}
		return pa, pb, ia + 1, nil
	case afterRowID != nil:
		pa, ia, ok := find(*afterRowID)
		if !ok {
			return 0, 0, 0, ErrNotFound
		}
		if ia+1 < len(siblings) {
			return pa, siblings[ia+1].Position, ia + 1, nil
		}
		return pa, pa + 2, ia + 1, nil
	case beforeRowID != nil:
		pb, ib, ok := find(*beforeRowID)
		if !ok {
			return 0, 0, 0, ErrNotFound
		}
		if ib > 0 {
			return siblings[ib-1].Position, pb, ib, nil
		}
		return pb - 2, pb, 0, nil
	default:
		if len(siblings) == 0 {
			return -1, 1, 0, nil
		}
		last := siblings[len(siblings)-1].Position
		return last, last + 2, len(siblings), nil
	}
}

// rebalanceLocked reassigns strictly increasing positions with gaps >= 1
// across siblings. Caller holds the buffer lock; this takes m.mu itself.
func (m *MemoryStore) rebalanceLocked(siblings []*models.Row) {
	positions := models.Rebalance(len(siblings))
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range siblings {
		if stored, ok := m.rows[r.ID]; ok {
			stored.Position = positions[i]
			stored.UpdatedAt = time.Now()
		}
	}
}

func (m *MemoryStore) AppendToRow(ctx context.Context, rowID string, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[rowID]
	if !ok {
		return ErrNotFound
	}
	if !r.Mutable || r.FinalizedAt != nil {
		return nil // no-op on finalized rows
	}
	r.Content += text
	r.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) FinalizeRow(ctx context.Context, rowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[rowID]
	if !ok {
		return ErrNotFound
	}
	if r.FinalizedAt != nil {
		return nil // idempotent
	}
	now := time.Now()
	r.FinalizedAt = &now
	r.Mutable = false
	r.UpdatedAt = now
	return nil
}

func (m *MemoryStore) SetRowEphemeral(ctx context.Context, rowID string, ephemeral bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[rowID]
	if !ok {
		return ErrNotFound
	}
	r.Ephemeral = ephemeral
	r.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) UpdateRowFields(ctx context.Context, rowID string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[rowID]
	if !ok {
		return ErrNotFound
	}
	for k, v := range fields {
		switch k {
		case "content":
			if s, ok := v.(string); ok {
				r.Content = s
			}
		case "collapsed":
			if b, ok := v.(bool); ok {
				r.Collapsed = b
			}
		case "pinned":
			if b, ok := v.(bool); ok {
				r.Pinned = b
			}
		case "hidden":
			if b, ok := v.(bool); ok {
				r.Hidden = b
			}
		case "content_meta":
			if meta, ok := v.(map[string]any); ok {
				r.ContentMeta = meta
			}
		}
	}
	r.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ListBufferRows(ctx context.Context, bufferID string) ([]*models.Row, error) {
	return m.topLevelSorted(bufferID), nil
}

func (m *MemoryStore) ListChildRows(ctx context.Context, parentRowID string) ([]*models.Row, error) {
	return m.childRowsSorted(parentRowID), nil
}

func (m *MemoryStore) GetLastBufferRow(ctx context.Context, bufferID string) (*models.Row, error) {
	rows := m.topLevelSorted(bufferID)
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[len(rows)-1], nil
}

func (m *MemoryStore) RowsSince(ctx context.Context, bufferID string, sinceRowID *string) ([]*models.Row, error) {
	rows := m.topLevelSorted(bufferID)
	if sinceRowID == nil {
		return rows, nil
	}
	var threshold float64
	found := false
	for _, r := range rows {
		if r.ID == *sinceRowID {
			threshold = r.Position
			found = true
			break
		}
	}
	if !found {
		return nil, ErrNotFound
	}
	var out []*models.Row
	for _, r := range rows {
		if r.Position > threshold {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListRecentBufferRows(ctx context.Context, bufferID string, n int) ([]*models.Row, error) {
	rows := m.topLevelSorted(bufferID)
	if n <= 0 || n >= len(rows) {
		return rows, nil
	}
	return rows[len(rows)-n:], nil
}

func (m *MemoryStore) ListToolCalls(ctx context.Context, bufferID string, n int) ([]*models.Row, error) {
	rows := m.topLevelSorted(bufferID)
	var calls []*models.Row
	for _, r := range rows {
		if r.ContentMethod == models.ContentToolCall {
			calls = append(calls, r)
		}
	}
	if n > 0 && len(calls) > n {
		calls = calls[len(calls)-n:]
	}
	return calls, nil
}

func (m *MemoryStore) CountToolCalls(ctx context.Context, bufferID string) (int, error) {
	rows := m.topLevelSorted(bufferID)
	count := 0
	for _, r := range rows {
		if r.ContentMethod == models.ContentToolCall {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) TagRow(ctx context.Context, rowID, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[rowID]; !ok {
		return ErrNotFound
	}
	set, ok := m.tags[rowID]
	if !ok {
		set = map[string]bool{}
		m.tags[rowID] = set
	}
	set[tag] = true
	return nil
}

func (m *MemoryStore) UntagRow(ctx context.Context, rowID, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tags[rowID], tag)
	return nil
}

func (m *MemoryStore) RowTags(ctx context.Context, rowID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for t := range m.tags[rowID] {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) ReactToRow(ctx context.Context, rowID, agentID, reaction string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reactions[rowID] {
		if r.AgentID == agentID && r.Reaction == reaction {
			return nil // unique on full tuple
		}
	}
	m.reactions[rowID] = append(m.reactions[rowID], models.RowReaction{RowID: rowID, AgentID: agentID, Reaction: reaction})
	return nil
}

func (m *MemoryStore) RowReactions(ctx context.Context, rowID string) ([]models.RowReaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.RowReaction, len(m.reactions[rowID]))
	copy(out, m.reactions[rowID])
	return out, nil
}

func (m *MemoryStore) LinkRows(ctx context.Context, link models.RowLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[link.FromRowID] = append(m.links[link.FromRowID], link)
	return nil
}

func (m *MemoryStore) RowLinks(ctx context.Context, rowID string) ([]models.RowLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.RowLink, len(m.links[rowID]))
	copy(out, m.links[rowID])
	return out, nil
}

// --- Rules ---

func (m *MemoryStore) CreateRule(ctx context.Context, rule *models.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	clone := *rule
	m.rules[rule.ID] = &clone
	return nil
}

func (m *MemoryStore) UpdateRule(ctx context.Context, rule *models.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[rule.ID]; !ok {
		return ErrNotFound
	}
	clone := *rule
	m.rules[rule.ID] = &clone
	return nil
}

func (m *MemoryStore) DeleteRule(ctx context.Context, ruleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[ruleID]; !ok {
		return ErrNotFound
	}
	delete(m.rules, ruleID)
	return nil
}

func (m *MemoryStore) GetRule(ctx context.Context, ruleID string) (*models.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[ruleID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *r
	return &clone, nil
}

func (m *MemoryStore) ListEnabledRules(ctx context.Context, roomID string) ([]*models.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Rule
	for _, r := range m.rules {
		if r.RoomID == roomID && r.Enabled {
			clone := *r
			out = append(out, &clone)
		}
	}
	return out, nil
}

// --- Scripts ---

func (m *MemoryStore) PutScript(ctx context.Context, script *models.Script) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if script.ID == "" {
		script.ID = uuid.NewString()
	}
	key := scriptKey{script.Scope, script.ScopeKey, script.ModulePath}
	versions := m.scripts[key]
	script.Version = int64(len(versions)) + 1
	script.CreatedAt = time.Now()
	clone := *script
	m.scripts[key] = append(versions, &clone)
	return nil
}

func (m *MemoryStore) GetScript(ctx context.Context, scope models.ScriptScope, scopeKey, modulePath string) (*models.Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions := m.scripts[scriptKey{scope, scopeKey, modulePath}]
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	clone := *versions[len(versions)-1]
	return &clone, nil
}

// --- Things ---

func (m *MemoryStore) PutThing(ctx context.Context, thing *models.Thing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if thing.ID == "" {
		thing.ID = uuid.NewString()
	}
	if thing.CreatedAt.IsZero() {
		thing.CreatedAt = time.Now()
	}
	clone := *thing
	m.things[thing.QualifiedName] = &clone
	return nil
}

func (m *MemoryStore) GetThing(ctx context.Context, qualifiedName string) (*models.Thing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.things[qualifiedName]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *t
	return &clone, nil
}

func (m *MemoryStore) Equip(ctx context.Context, eq *models.Equipped) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if eq.ID == "" {
		eq.ID = uuid.NewString()
	}
	clone := *eq
	m.equipped[eq.ID] = &clone
	return nil
}

func (m *MemoryStore) Unequip(ctx context.Context, equippedID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.equipped[equippedID]; !ok {
		return ErrNotFound
	}
	delete(m.equipped, equippedID)
	return nil
}

func (m *MemoryStore) ListEquipped(ctx context.Context, kind models.EquippedContextKind, contextID string) ([]*models.Equipped, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Equipped
	for _, e := range m.equipped {
		if e.ContextKind == kind && e.ContextID == contextID {
			clone := *e
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

// --- Agents ---

func (m *MemoryStore) PutAgent(ctx context.Context, agent *models.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now()
	}
	clone := *agent
	m.agents[agent.ID] = &clone
	return nil
}

func (m *MemoryStore) GetAgent(ctx context.Context, agentID string) (*models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *a
	return &clone, nil
}

func (m *MemoryStore) PutPublicKey(ctx context.Context, key *models.PublicKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now()
	}
	clone := *key
	m.keys[key.Fingerprint] = &clone
	return nil
}

func (m *MemoryStore) LookupByFingerprint(ctx context.Context, fingerprint string) (*models.PublicKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.keys[fingerprint]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *k
	return &clone, nil
}
