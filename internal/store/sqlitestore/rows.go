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

const rowColumns = `id, buffer_id, parent_row_id, position, source_agent_id, content_method, content_format,
	content_meta, content, collapsed, ephemeral, mutable, pinned, hidden, token_count, cost_usd, latency_ms,
	created_at, updated_at, finalized_at`

func (s *Store) scanRow(row interface{ Scan(...any) error }) (*models.Row, error) {
	var r models.Row
	var parentRowID, sourceAgentID sql.NullString
	var contentMethod, contentFormat string
	var contentMeta sql.NullString
	var collapsed, ephemeral, mutable, pinned, hidden int
	var createdAt, updatedAt string
	var finalizedAt sql.NullString

	if err := row.Scan(&r.ID, &r.BufferID, &parentRowID, &r.Position, &sourceAgentID, &contentMethod, &contentFormat,
		&contentMeta, &r.Content, &collapsed, &ephemeral, &mutable, &pinned, &hidden, &r.TokenCount, &r.CostUSD,
		&r.LatencyMS, &createdAt, &updatedAt, &finalizedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("sqlitestore: scan row: %w", err)
	}

	r.ParentRowID = colToNullString(parentRowID)
	r.SourceAgentID = colToNullString(sourceAgentID)
	r.ContentMethod = models.ContentMethod(contentMethod)
	r.ContentFormat = models.ContentFormat(contentFormat)
	if contentMeta.Valid && contentMeta.String != "" {
		if err := unmarshalJSON(contentMeta.String, &r.ContentMeta); err != nil {
			return nil, err
		}
	}
	r.Collapsed = collapsed != 0
	r.Ephemeral = ephemeral != 0
	r.Mutable = mutable != 0
	r.Pinned = pinned != 0
	r.Hidden = hidden != 0
	r.CreatedAt = colToTime(createdAt)
	r.UpdatedAt = colToTime(updatedAt)
	r.FinalizedAt = colToNullTime(finalizedAt)
	return &r, nil
}

func (s *Store) GetRow(ctx context.Context, id string) (*models.Row, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+rowColumns+` FROM rows WHERE id = ?`, id)
	return s.scanRow(row)
}

func (s *Store) topLevelSorted(ctx context.Context, bufferID string) ([]*models.Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+rowColumns+` FROM rows WHERE buffer_id = ? AND parent_row_id IS NULL ORDER BY position`, bufferID)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list top-level rows: %w", err)
	}
	defer rows.Close()
	return s.collectRows(rows)
}

func (s *Store) childRowsSorted(ctx context.Context, parentRowID string) ([]*models.Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+rowColumns+` FROM rows WHERE parent_row_id = ? ORDER BY position`, parentRowID)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list child rows: %w", err)
	}
	defer rows.Close()
	return s.collectRows(rows)
}

func (s *Store) collectRows(rows *sql.Rows) ([]*models.Row, error) {
	var out []*models.Row
	for rows.Next() {
		r, err := s.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) insertRow(ctx context.Context, row *models.Row) (string, error) {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.ContentFormat == "" {
		row.ContentFormat = models.FormatText
	}
	now := time.Now()
	row.CreatedAt, row.UpdatedAt = now, now
	row.Mutable = row.FinalizedAt == nil

	contentMeta, err := marshalJSON(row.ContentMeta)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rows (`+rowColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.BufferID, nullStringCol(row.ParentRowID), row.Position, nullStringCol(row.SourceAgentID),
		string(row.ContentMethod), string(row.ContentFormat), contentMeta, row.Content,
		boolCol(row.Collapsed), boolCol(row.Ephemeral), boolCol(row.Mutable), boolCol(row.Pinned), boolCol(row.Hidden),
		row.TokenCount, row.CostUSD, row.LatencyMS,
		timeToCol(row.CreatedAt), timeToCol(row.UpdatedAt), nullTimeCol(row.FinalizedAt),
	)
	if err != nil {
		return "", fmt.Errorf("sqlitestore: insert row: %w", err)
	}
	return row.ID, nil
}

func (s *Store) AppendRow(ctx context.Context, row *models.Row) (string, error) {
	if row == nil {
		return "", fmt.Errorf("row is required")
	}
	lock := s.bufferLock(row.BufferID)
	lock.Lock()
	defer lock.Unlock()

	var siblings []*models.Row
	var err error
	if row.ParentRowID == nil {
		siblings, err = s.topLevelSorted(ctx, row.BufferID)
	} else {
		siblings, err = s.childRowsSorted(ctx, *row.ParentRowID)
	}
	if err != nil {
		return "", err
	}

	if len(siblings) > 0 {
		row.Position = models.After(siblings[len(siblings)-1].Position)
	} else {
		row.Position = 0
	}
	return s.insertRow(ctx, row)
}

func (s *Store) InsertRowBetween(ctx context.Context, row *models.Row, afterRowID, beforeRowID *string) (string, error) {
	lock := s.bufferLock(row.BufferID)
	lock.Lock()
	defer lock.Unlock()

	loadSiblings := func() ([]*models.Row, error) {
		if row.ParentRowID == nil {
			return s.topLevelSorted(ctx, row.BufferID)
		}
		return s.childRowsSorted(ctx, *row.ParentRowID)
	}

	siblings, err := loadSiblings()
	if err != nil {
		return "", err
	}

	a, b, err := boundingPositions(siblings, afterRowID, beforeRowID)
	if err != nil {
		return "", err
	}

	if models.NeedsRebalance(a, b) {
		if err := s.rebalance(ctx, siblings); err != nil {
			return "", err
		}
		siblings, err = loadSiblings()
		if err != nil {
			return "", err
		}
		a, b, err = boundingPositions(siblings, afterRowID, beforeRowID)
		if err != nil {
			return "", err
		}
	}

	row.Position = models.Midpoint(a, b)
	return s.insertRow(ctx, row)
}

// boundingPositions resolves the (a, b) position window for an insert,
// mirroring the in-memory store's algorithm of the same name.
func boundingPositions(siblings []*models.Row, afterRowID, beforeRowID *string) (a, b float64, err error) {
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
		pa, _, ok1 := find(*afterRowID)
		pb, _, ok2 := find(*beforeRowID)
		if !ok1 || !ok2 {
			return 0, 0, store.ErrNotFound
		}
		return pa, pb, nil
	case afterRowID != nil:
		pa, ia, ok := find(*afterRowID)
		if !ok {
			return 0, 0, store.ErrNotFound
		}
		if ia+1 < len(siblings) {
			return pa, siblings[ia+1].Position, nil
		}
		return pa, pa + 2, nil
	case beforeRowID != nil:
		pb, ib, ok := find(*beforeRowID)
		if !ok {
			return 0, 0, store.ErrNotFound
		}
		if ib > 0 {
			return siblings[ib-1].Position, pb, nil
		}
		return pb - 2, pb, nil
	default:
		if len(siblings) == 0 {
			return -1, 1, nil
		}
		last := siblings[len(siblings)-1].Position
		return last, last + 2, nil
	}
}

// rebalance reassigns strictly increasing positions with gaps >= 1 across
// siblings. Caller holds the buffer lock.
func (s *Store) rebalance(ctx context.Context, siblings []*models.Row) error {
	positions := models.Rebalance(len(siblings))
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: rebalance begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE rows SET position = ?, updated_at = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("sqlitestore: rebalance prepare: %w", err)
	}
	defer stmt.Close()

	now := timeToCol(time.Now())
	for i, r := range siblings {
		if _, err := stmt.ExecContext(ctx, positions[i], now, r.ID); err != nil {
			return fmt.Errorf("sqlitestore: rebalance update: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) AppendToRow(ctx context.Context, rowID string, text string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rows SET content = content || ?, updated_at = ? WHERE id = ? AND mutable = 1 AND finalized_at IS NULL`,
		text, timeToCol(time.Now()), rowID)
	if err != nil {
		return fmt.Errorf("sqlitestore: append to row: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlitestore: rows affected: %w", err)
	}
	if n == 0 {
		// Row may not exist, or may already be finalized (a silent no-op
		// per the append contract); distinguish the two so callers still
		// see ErrNotFound for a genuinely missing row.
		if _, err := s.GetRow(ctx, rowID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) FinalizeRow(ctx context.Context, rowID string) error {
	row, err := s.GetRow(ctx, rowID)
	if err != nil {
		return err
	}
	if row.FinalizedAt != nil {
		return nil // idempotent
	}
	now := time.Now()
	_, err = s.db.ExecContext(ctx,
		`UPDATE rows SET finalized_at = ?, mutable = 0, updated_at = ? WHERE id = ?`,
		timeToCol(now), timeToCol(now), rowID)
	if err != nil {
		return fmt.Errorf("sqlitestore: finalize row: %w", err)
	}
	return nil
}

func (s *Store) SetRowEphemeral(ctx context.Context, rowID string, ephemeral bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rows SET ephemeral = ?, updated_at = ? WHERE id = ?`, boolCol(ephemeral), timeToCol(time.Now()), rowID)
	if err != nil {
		return fmt.Errorf("sqlitestore: set row ephemeral: %w", err)
	}
	return requireAffected(res)
}

func (s *Store) UpdateRowFields(ctx context.Context, rowID string, fields map[string]any) error {
	sets := []string{"updated_at = ?"}
	args := []any{timeToCol(time.Now())}

	if v, ok := fields["content"].(string); ok {
		sets = append(sets, "content = ?")
		args = append(args, v)
	}
	if v, ok := fields["collapsed"].(bool); ok {
		sets = append(sets, "collapsed = ?")
		args = append(args, boolCol(v))
	}
	if v, ok := fields["pinned"].(bool); ok {
		sets = append(sets, "pinned = ?")
		args = append(args, boolCol(v))
	}
	if v, ok := fields["hidden"].(bool); ok {
		sets = append(sets, "hidden = ?")
		args = append(args, boolCol(v))
	}
	if v, ok := fields["content_meta"].(map[string]any); ok {
		meta, err := marshalJSON(v)
		if err != nil {
			return err
		}
		sets = append(sets, "content_meta = ?")
		args = append(args, meta)
	}

	query := "UPDATE rows SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += " WHERE id = ?"
	args = append(args, rowID)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlitestore: update row fields: %w", err)
	}
	return requireAffected(res)
}

func (s *Store) ListBufferRows(ctx context.Context, bufferID string) ([]*models.Row, error) {
	return s.topLevelSorted(ctx, bufferID)
}

func (s *Store) ListChildRows(ctx context.Context, parentRowID string) ([]*models.Row, error) {
	return s.childRowsSorted(ctx, parentRowID)
}

func (s *Store) GetLastBufferRow(ctx context.Context, bufferID string) (*models.Row, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+rowColumns+` FROM rows WHERE buffer_id = ? AND parent_row_id IS NULL ORDER BY position DESC LIMIT 1`,
		bufferID)
	return s.scanRow(row)
}

func (s *Store) RowsSince(ctx context.Context, bufferID string, sinceRowID *string) ([]*models.Row, error) {
	if sinceRowID == nil {
		return s.topLevelSorted(ctx, bufferID)
	}
	since, err := s.GetRow(ctx, *sinceRowID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+rowColumns+` FROM rows WHERE buffer_id = ? AND parent_row_id IS NULL AND position > ? ORDER BY position`,
		bufferID, since.Position)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: rows since: %w", err)
	}
	defer rows.Close()
	return s.collectRows(rows)
}

func (s *Store) ListRecentBufferRows(ctx context.Context, bufferID string, n int) ([]*models.Row, error) {
	all, err := s.topLevelSorted(ctx, bufferID)
	if err != nil {
		return nil, err
	}
	if n <= 0 || n >= len(all) {
		return all, nil
	}
	return all[len(all)-n:], nil
}

func (s *Store) ListToolCalls(ctx context.Context, bufferID string, n int) ([]*models.Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+rowColumns+` FROM rows WHERE buffer_id = ? AND parent_row_id IS NULL AND content_method = ?
		 ORDER BY position`, bufferID, string(models.ContentToolCall))
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list tool calls: %w", err)
	}
	defer rows.Close()
	calls, err := s.collectRows(rows)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(calls) > n {
		calls = calls[len(calls)-n:]
	}
	return calls, nil
}

func (s *Store) CountToolCalls(ctx context.Context, bufferID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rows WHERE buffer_id = ? AND parent_row_id IS NULL AND content_method = ?`,
		bufferID, string(models.ContentToolCall)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: count tool calls: %w", err)
	}
	return count, nil
}

func (s *Store) TagRow(ctx context.Context, rowID, tag string) error {
	if _, err := s.GetRow(ctx, rowID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO row_tags (row_id, tag) VALUES (?, ?)`, rowID, tag)
	if err != nil {
		return fmt.Errorf("sqlitestore: tag row: %w", err)
	}
	return nil
}

func (s *Store) UntagRow(ctx context.Context, rowID, tag string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM row_tags WHERE row_id = ? AND tag = ?`, rowID, tag)
	if err != nil {
		return fmt.Errorf("sqlitestore: untag row: %w", err)
	}
	return nil
}

func (s *Store) RowTags(ctx context.Context, rowID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tag FROM row_tags WHERE row_id = ? ORDER BY tag`, rowID)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: row tags: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan tag: %w", err)
		}
		out = append(out, tag)
	}
	return out, rows.Err()
}

func (s *Store) ReactToRow(ctx context.Context, rowID, agentID, reaction string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO row_reactions (row_id, agent_id, reaction) VALUES (?, ?, ?)`, rowID, agentID, reaction)
	if err != nil {
		return fmt.Errorf("sqlitestore: react to row: %w", err)
	}
	return nil
}

func (s *Store) RowReactions(ctx context.Context, rowID string) ([]models.RowReaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT row_id, agent_id, reaction FROM row_reactions WHERE row_id = ?`, rowID)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: row reactions: %w", err)
	}
	defer rows.Close()

	var out []models.RowReaction
	for rows.Next() {
		var r models.RowReaction
		if err := rows.Scan(&r.RowID, &r.AgentID, &r.Reaction); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan reaction: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) LinkRows(ctx context.Context, link models.RowLink) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO row_links (from_row_id, to_row_id, type) VALUES (?, ?, ?)`,
		link.FromRowID, link.ToRowID, string(link.Type))
	if err != nil {
		return fmt.Errorf("sqlitestore: link rows: %w", err)
	}
	return nil
}

func (s *Store) RowLinks(ctx context.Context, rowID string) ([]models.RowLink, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT from_row_id, to_row_id, type FROM row_links WHERE from_row_id = ?`, rowID)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: row links: %w", err)
	}
	defer rows.Close()

	var out []models.RowLink
	for rows.Next() {
		var l models.RowLink
		var typ string
		if err := rows.Scan(&l.FromRowID, &l.ToRowID, &typ); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan link: %w", err)
		}
		l.Type = models.RowLinkType(typ)
		out = append(out, l)
	}
	return out, rows.Err()
}
