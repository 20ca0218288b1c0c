package session

import (
	"context"
	"time"

	"github.com/tobert/sshwarpd/internal/rules"
	"github.com/tobert/sshwarpd/internal/script"
	"github.com/tobert/sshwarpd/pkg/models"
)

func millisToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// onRowInserted matches row-triggered rules against a freshly finalized
// row and dispatches the matches (spec §4.2, §4.6). It is called from the
// input task (plain chat rows) and the streaming task (the finalized
// message.model row), never for ephemeral or still-mutable rows.
func (s *Session) onRowInserted(ctx context.Context, row *models.Row) {
	if s.rules == nil {
		return
	}
	tags, err := s.store.RowTags(ctx, row.ID)
	if err != nil {
		s.logger.Warn("load row tags for rule matching", "row_id", row.ID, "error", err)
		tags = nil
	}
	tagSet := make(map[string]bool, len(tags))
	for _, t := range tags {
		tagSet[t] = true
	}

	matches, err := s.rules.MatchRow(ctx, s.RoomID, string(models.BufferRoomChat), row, tagSet)
	if err != nil {
		s.logger.Warn("match row rules", "row_id", row.ID, "error", err)
		return
	}
	s.dispatchMatches(ctx, matches, s.rules.CurrentTick(), row)
}

// dispatchMatches runs every match's rule handler in action-slot order
// (models.SlotDispatchOrder) and interprets the return value per its slot
// (spec §6's rule-handler table).
func (s *Session) dispatchMatches(ctx context.Context, matches []rules.Match, tick uint64, row *models.Row) {
	for _, slot := range models.SlotDispatchOrder {
		for _, m := range rules.ForSlot(matches, slot) {
			s.dispatchOne(ctx, m, slot, tick, row)
		}
	}
}

func (s *Session) dispatchOne(ctx context.Context, m rules.Match, slot models.ActionSlot, tick uint64, row *models.Row) {
	module, err := s.registry.Resolve(ctx, s.RoomID, "", m.Rule.ScriptID)
	if err != nil {
		s.logger.Warn("resolve rule script", "rule_id", m.Rule.ID, "error", err)
		return
	}

	state := map[string]any{"reason": string(m.Reason.Kind)}
	if row != nil {
		state["row_id"] = row.ID
		state["content_method"] = string(row.ContentMethod)
		state["content"] = row.Content
	}

	result, err := s.host.HandleRule(module.Source, tick, state)
	if err != nil {
		s.logger.Warn("rule handler failed", "rule_id", m.Rule.ID, "error", err)
		return
	}
	if result == nil {
		return
	}

	switch slot {
	case models.SlotNotify:
		s.applyNotifyResult(result)
	case models.SlotTransform:
		if row != nil {
			s.applyTransformResult(ctx, row.ID, result)
		}
	case models.SlotRender, models.SlotWrap, models.SlotBackground:
		// These slots return nil by contract (spec §6); any side effects
		// already happened through mark_dirty/notify calls inside the
		// handler itself.
	}
}

func (s *Session) applyNotifyResult(result map[string]any) {
	level := script.LevelInfo
	if l, ok := result["level"].(string); ok {
		level = script.NotifyLevel(l)
	}
	message, _ := result["message"].(string)
	if message == "" {
		return
	}
	var ttl int64
	switch v := result["ttl"].(type) {
	case int64:
		ttl = v
	case float64:
		ttl = int64(v)
	}
	s.notify.Push(script.Notification{Level: level, Message: message, TTL: millisToDuration(ttl)})
}

func (s *Session) applyTransformResult(ctx context.Context, rowID string, result map[string]any) {
	if err := s.store.UpdateRowFields(ctx, rowID, result); err != nil {
		s.logger.Warn("apply transform rule result", "row_id", rowID, "error", err)
	}
}
