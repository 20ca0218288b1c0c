package ssh

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	gossh "golang.org/x/crypto/ssh"

	"github.com/tobert/sshwarpd/internal/screen"
	"github.com/tobert/sshwarpd/internal/session"
	"github.com/tobert/sshwarpd/internal/store"
	"github.com/tobert/sshwarpd/pkg/models"
)

// ptyRequestMsg mirrors RFC 4254 §6.2's pty-req payload.
type ptyRequestMsg struct {
	Term                  string
	Columns, Rows         uint32
	Width, Height         uint32
	Modes                 string
}

// windowChangeMsg mirrors RFC 4254 §6.7's window-change payload.
type windowChangeMsg struct {
	Columns, Rows uint32
	Width, Height uint32
}

// handleSessionChannel drives a single shell channel's lifetime: it parses
// pty-req/shell/window-change requests, constructs a session.Session on
// shell_request (spec §6's "session record is created" + "switches the
// client terminal into full-screen mode"), and forwards channel bytes into
// the session's input task until the channel closes.
func (s *Server) handleSessionChannel(ctx context.Context, conn *gossh.ServerConn, channel gossh.Channel, requests <-chan *gossh.Request, logger *slog.Logger) {
	defer channel.Close()

	agentID := conn.Permissions.Extensions["agent_id"]
	cols, rows := defaultTermCols, defaultTermRows

	var sess *session.Session

	for req := range requests {
		switch req.Type {
		case "pty-req":
			var payload ptyRequestMsg
			if gossh.Unmarshal(req.Payload, &payload) == nil {
				cols, rows = int(payload.Columns), int(payload.Rows)
			}
			if req.WantReply {
				req.Reply(true, nil)
			}

		case "window-change":
			var payload windowChangeMsg
			if gossh.Unmarshal(req.Payload, &payload) == nil {
				cols, rows = int(payload.Columns), int(payload.Rows)
				if sess != nil {
					sess.Resize(cols, rows)
				}
			}

		case "shell":
			if req.WantReply {
				req.Reply(true, nil)
			}
			var err error
			sess, err = s.startSession(ctx, channel, agentID, cols, rows, logger)
			if err != nil {
				logger.Error("start session", "error", err)
				return
			}
			defer sess.Close()

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

const (
	defaultTermCols = 80
	defaultTermRows = 24
)

// startSession creates the room session, enters full-screen mode, and
// begins forwarding channel reads into HandleInput.
func (s *Server) startSession(ctx context.Context, channel gossh.Channel, agentID string, cols, rows int, logger *slog.Logger) (*session.Session, error) {
	room, err := s.cfg.Store.GetRoomByName(ctx, s.cfg.LobbyRoom)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if room == nil {
		room = &models.Room{
			ID:        uuid.NewString(),
			Name:      s.cfg.LobbyRoom,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		if err := s.cfg.Store.CreateRoom(ctx, room); err != nil {
			return nil, err
		}
	}

	sess, err := session.New(ctx, uuid.NewString(), room.ID, agentID, session.Config{
		Store:      s.cfg.Store,
		Registry:   s.cfg.Registry,
		Router:     s.cfg.Router,
		Rules:      s.cfg.Rules,
		Providers:  s.cfg.Providers,
		Models:     s.cfg.Models,
		MaxTurns:   s.cfg.MaxTurns,
		WrapBudget: s.cfg.WrapBudget,
		Logger:     logger,
		Metrics:    s.cfg.Metrics,
		Tracer:     s.cfg.Tracer,
	})
	if err != nil {
		return nil, err
	}

	sess.AttachOutput(channel)
	sess.Resize(cols, rows)
	channel.Write(screen.InitSequence())

	sess.Start(ctx)

	go forwardInput(ctx, sess, channel, logger)

	return sess, nil
}

// forwardInput reads raw bytes off the channel until it closes, handing
// each chunk to the session's input task, and restores the terminal on
// exit (spec §6's "On close, the terminal is restored").
func forwardInput(ctx context.Context, sess *session.Session, channel gossh.Channel, logger *slog.Logger) {
	buf := make([]byte, 256)
	for {
		n, err := channel.Read(buf)
		if n > 0 {
			if herr := sess.HandleInput(ctx, append([]byte(nil), buf[:n]...)); herr != nil {
				logger.Warn("handle input", "error", herr)
			}
		}
		if err != nil {
			channel.Write(screen.RestoreSequence())
			return
		}
	}
}
