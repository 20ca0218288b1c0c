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

const ruleColumns = `id, room_id, name, enabled, priority, trigger_kind, match_content_method_glob,
	match_source_agent_glob, match_buffer_type, match_tag, interval_ms, tick_divisor, script_id, action_slot`

func (s *Store) scanRule(row interface{ Scan(...any) error }) (*models.Rule, error) {
	var r models.Rule
	var enabled int
	var triggerKind, actionSlot string
	var methodGlob, agentGlob, bufType, tag sql.NullString

	if err := row.Scan(&r.ID, &r.RoomID, &r.Name, &enabled, &r.Priority, &triggerKind, &methodGlob, &agentGlob,
		&bufType, &tag, &r.IntervalMS, &r.TickDivisor, &r.ScriptID, &actionSlot); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("sqlitestore: scan rule: %w", err)
	}
	r.Enabled = enabled != 0
	r.TriggerKind = models.TriggerKind(triggerKind)
	r.ActionSlot = models.ActionSlot(actionSlot)
	r.Match = models.RuleMatch{
		ContentMethodGlob: methodGlob.String,
		SourceAgentGlob:   agentGlob.String,
		BufferType:        bufType.String,
		Tag:               tag.String,
	}
	return &r, nil
}

func (s *Store) CreateRule(ctx context.Context, rule *models.Rule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rules (`+ruleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.RoomID, rule.Name, boolCol(rule.Enabled), rule.Priority, string(rule.TriggerKind),
		rule.Match.ContentMethodGlob, rule.Match.SourceAgentGlob, rule.Match.BufferType, rule.Match.Tag,
		rule.IntervalMS, rule.TickDivisor, rule.ScriptID, string(rule.ActionSlot),
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: create rule: %w", err)
	}
	return nil
}

func (s *Store) UpdateRule(ctx context.Context, rule *models.Rule) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rules SET room_id = ?, name = ?, enabled = ?, priority = ?, trigger_kind = ?,
			match_content_method_glob = ?, match_source_agent_glob = ?, match_buffer_type = ?, match_tag = ?,
			interval_ms = ?, tick_divisor = ?, script_id = ?, action_slot = ? WHERE id = ?`,
		rule.RoomID, rule.Name, boolCol(rule.Enabled), rule.Priority, string(rule.TriggerKind),
		rule.Match.ContentMethodGlob, rule.Match.SourceAgentGlob, rule.Match.BufferType, rule.Match.Tag,
		rule.IntervalMS, rule.TickDivisor, rule.ScriptID, string(rule.ActionSlot), rule.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: update rule: %w", err)
	}
	return requireAffected(res)
}

func (s *Store) DeleteRule(ctx context.Context, ruleID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, ruleID)
	if err != nil {
		return fmt.Errorf("sqlitestore: delete rule: %w", err)
	}
	return requireAffected(res)
}

func (s *Store) GetRule(ctx context.Context, ruleID string) (*models.Rule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, ruleID)
	return s.scanRule(row)
}

func (s *Store) ListEnabledRules(ctx context.Context, roomID string) ([]*models.Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE room_id = ? AND enabled = 1`, roomID)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list enabled rules: %w", err)
	}
	defer rows.Close()

	var out []*models.Rule
	for rows.Next() {
		r, err := s.scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Scripts ---

func (s *Store) PutScript(ctx context.Context, script *models.Script) error {
	if script.ID == "" {
		script.ID = uuid.NewString()
	}
	script.CreatedAt = time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: put script begin: %w", err)
	}
	defer tx.Rollback()

	var maxVersion sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(version) FROM scripts WHERE scope = ? AND scope_key = ? AND module_path = ?`,
		string(script.Scope), script.ScopeKey, script.ModulePath).Scan(&maxVersion)
	if err != nil {
		return fmt.Errorf("sqlitestore: put script version lookup: %w", err)
	}
	script.Version = maxVersion.Int64 + 1

	_, err = tx.ExecContext(ctx,
		`INSERT INTO scripts (id, scope, scope_key, module_path, source, version, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		script.ID, string(script.Scope), script.ScopeKey, script.ModulePath, script.Source, script.Version,
		timeToCol(script.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: put script: %w", err)
	}
	return tx.Commit()
}

func (s *Store) GetScript(ctx context.Context, scope models.ScriptScope, scopeKey, modulePath string) (*models.Script, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, scope, scope_key, module_path, source, version, created_at FROM scripts
		 WHERE scope = ? AND scope_key = ? AND module_path = ? ORDER BY version DESC LIMIT 1`,
		string(scope), scopeKey, modulePath)

	var sc models.Script
	var scopeCol string
	var createdAt string
	if err := row.Scan(&sc.ID, &scopeCol, &sc.ScopeKey, &sc.ModulePath, &sc.Source, &sc.Version, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("sqlitestore: get script: %w", err)
	}
	sc.Scope = models.ScriptScope(scopeCol)
	sc.CreatedAt = colToTime(createdAt)
	return &sc, nil
}
