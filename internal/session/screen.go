package session

import "context"

// Tick drives one screen-task cycle (spec §4.6): wake on dirty-tag
// notification, call on_tick for the tags actually dirty, and every Nth
// tick also run background(tick) plus the tick- and interval-triggered
// rule passes. A repaint that errors leaves the dirty set intact per the
// dirty-tag contract, since Take() has already removed the tags that were
// about to be rendered — on_tick failing doesn't restore them, matching
// the script host's own fall-through-on-script-error policy (spec §7).
func (s *Session) Tick(ctx context.Context, tick uint64) error {
	tags := s.dirty.Take()

	if len(tags) > 0 {
		drawCtx := map[string]any{"tick": tick}
		if err := s.host.OnTick(tags, tick, drawCtx); err != nil {
			s.logger.Warn("on_tick script error", "error", err)
		}
		s.flushFrame()
	}

	if tick%backgroundEveryNTicks != 0 {
		return nil
	}

	if err := s.host.Background(tick); err != nil {
		s.logger.Warn("background script error", "error", err)
	}

	return s.runRuleTicks(ctx, tick)
}

// flushFrame diffs the screen buffer on_tick just drew into against the
// previous frame and writes the minimal ANSI delta to the transport, per
// spec §4.6's "diffs against previous buffer; writes the minimal ANSI
// delta" screen-task contract. A nil output (no transport attached yet,
// as in tests) is a no-op.
func (s *Session) flushFrame() {
	if s.output == nil {
		return
	}
	frame := s.screenBuf.Snapshot()
	delta := frame.Diff(s.lastFrame)
	s.lastFrame = frame
	if len(delta) == 0 {
		return
	}
	if _, err := s.output.Write(delta); err != nil {
		s.logger.Warn("write screen frame", "error", err)
	}
}

// runRuleTicks fires tick- and interval-triggered rules for the session's
// room and dispatches every match in action-slot order (spec §4.2, §4.6).
func (s *Session) runRuleTicks(ctx context.Context, tick uint64) error {
	if s.rules == nil {
		return nil
	}

	ruleTick := s.rules.Tick()
	tickMatches, err := s.rules.MatchTick(ctx, s.RoomID, ruleTick)
	if err != nil {
		return err
	}
	intervalMatches, err := s.rules.MatchInterval(ctx, s.RoomID)
	if err != nil {
		return err
	}

	s.dispatchMatches(ctx, append(tickMatches, intervalMatches...), tick, nil)
	return nil
}
