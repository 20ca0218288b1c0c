package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tobert/sshwarpd/internal/store"
	"github.com/tobert/sshwarpd/pkg/models"
)

// --- Things ---

func (s *Store) PutThing(ctx context.Context, thing *models.Thing) error {
	if thing.ID == "" {
		thing.ID = uuid.NewString()
	}
	if thing.CreatedAt.IsZero() {
		thing.CreatedAt = time.Now()
	}
	meta, err := marshalJSON(thing.Meta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO things (id, qualified_name, kind, meta, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(qualified_name) DO UPDATE SET id = excluded.id, kind = excluded.kind, meta = excluded.meta`,
		thing.ID, thing.QualifiedName, string(thing.Kind), meta, timeToCol(thing.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: put thing: %w", err)
	}
	return nil
}

func (s *Store) GetThing(ctx context.Context, qualifiedName string) (*models.Thing, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, qualified_name, kind, meta, created_at FROM things WHERE qualified_name = ?`, qualifiedName)

	var t models.Thing
	var kind, meta sql.NullString
	var createdAt string
	if err := row.Scan(&t.ID, &t.QualifiedName, &kind, &meta, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("sqlitestore: get thing: %w", err)
	}
	t.Kind = models.ThingKind(kind.String)
	if meta.Valid && meta.String != "" {
		if err := unmarshalJSON(meta.String, &t.Meta); err != nil {
			return nil, err
		}
	}
	t.CreatedAt = colToTime(createdAt)
	return &t, nil
}

func (s *Store) Equip(ctx context.Context, eq *models.Equipped) error {
	if eq.ID == "" {
		eq.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO equipped (id, thing_id, context_kind, context_id, slot, priority) VALUES (?, ?, ?, ?, ?, ?)`,
		eq.ID, eq.ThingID, string(eq.ContextKind), eq.ContextID, eq.Slot, eq.Priority,
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: equip: %w", err)
	}
	return nil
}

func (s *Store) Unequip(ctx context.Context, equippedID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM equipped WHERE id = ?`, equippedID)
	if err != nil {
		return fmt.Errorf("sqlitestore: unequip: %w", err)
	}
	return requireAffected(res)
}

func (s *Store) ListEquipped(ctx context.Context, kind models.EquippedContextKind, contextID string) ([]*models.Equipped, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thing_id, context_kind, context_id, slot, priority FROM equipped
		 WHERE context_kind = ? AND context_id = ? ORDER BY priority`, string(kind), contextID)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list equipped: %w", err)
	}
	defer rows.Close()

	var out []*models.Equipped
	for rows.Next() {
		var e models.Equipped
		var contextKind string
		if err := rows.Scan(&e.ID, &e.ThingID, &contextKind, &e.ContextID, &e.Slot, &e.Priority); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan equipped: %w", err)
		}
		e.ContextKind = models.EquippedContextKind(contextKind)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// --- Agents ---

func (s *Store) PutAgent(ctx context.Context, agent *models.Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (id, kind, display_name, backend, model, system_prompt, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET kind = excluded.kind, display_name = excluded.display_name,
			backend = excluded.backend, model = excluded.model, system_prompt = excluded.system_prompt`,
		agent.ID, string(agent.Kind), agent.DisplayName, agent.Backend, agent.Model, agent.SystemPrompt,
		timeToCol(agent.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: put agent: %w", err)
	}
	return nil
}

func (s *Store) GetAgent(ctx context.Context, agentID string) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, display_name, backend, model, system_prompt, created_at FROM agents WHERE id = ?`, agentID)

	var a models.Agent
	var kind string
	var backend, model, systemPrompt sql.NullString
	var createdAt string
	if err := row.Scan(&a.ID, &kind, &a.DisplayName, &backend, &model, &systemPrompt, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("sqlitestore: get agent: %w", err)
	}
	a.Kind = models.AgentKind(kind)
	a.Backend = backend.String
	a.Model = model.String
	a.SystemPrompt = systemPrompt.String
	a.CreatedAt = colToTime(createdAt)
	return &a, nil
}

func (s *Store) PutPublicKey(ctx context.Context, key *models.PublicKey) error {
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO public_keys (id, agent_id, fingerprint, key_data, comment, created_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET id = excluded.id, agent_id = excluded.agent_id,
			key_data = excluded.key_data, comment = excluded.comment`,
		key.ID, key.AgentID, key.Fingerprint, key.KeyData, key.Comment, timeToCol(key.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: put public key: %w", err)
	}
	return nil
}

func (s *Store) LookupByFingerprint(ctx context.Context, fingerprint string) (*models.PublicKey, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, fingerprint, key_data, comment, created_at FROM public_keys WHERE fingerprint = ?`,
		fingerprint)

	var k models.PublicKey
	var comment sql.NullString
	var createdAt string
	if err := row.Scan(&k.ID, &k.AgentID, &k.Fingerprint, &k.KeyData, &comment, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("sqlitestore: lookup by fingerprint: %w", err)
	}
	k.Comment = comment.String
	k.CreatedAt = colToTime(createdAt)
	return &k, nil
}
