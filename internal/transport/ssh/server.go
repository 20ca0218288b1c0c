// Package ssh is the remote-shell transport (spec §6): a golang.org/x/crypto/ssh
// server that authenticates connections by public key, switches each shell
// channel into full-screen mode, and drives one internal/session.Session
// per channel from the raw byte stream.
package ssh

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"golang.org/x/crypto/ssh"

	"github.com/tobert/sshwarpd/internal/auth"
	"github.com/tobert/sshwarpd/internal/config"
	"github.com/tobert/sshwarpd/internal/dispatch"
	"github.com/tobert/sshwarpd/internal/observability"
	"github.com/tobert/sshwarpd/internal/router"
	"github.com/tobert/sshwarpd/internal/rules"
	"github.com/tobert/sshwarpd/internal/script"
	"github.com/tobert/sshwarpd/internal/session"
	"github.com/tobert/sshwarpd/internal/store"
)

// Config bundles everything a Server needs to authenticate connections and
// construct a session.Session per shell channel.
type Config struct {
	HostKeys    []ssh.Signer
	Auth        *auth.Service
	LobbyRoom   string // room name new connections are placed into
	Store       store.Store
	Registry    *script.Registry
	Router      *router.Router
	Rules       *rules.Engine
	Providers   map[string]dispatch.Provider
	Models      map[string]config.ModelEntry
	MaxTurns    int
	WrapBudget  int
	Logger      *slog.Logger
	// Metrics is optional; when nil, sessions run without recording metrics.
	Metrics *observability.Metrics
	// Tracer is optional; when nil, sessions run without recording spans.
	Tracer *observability.Tracer
}

// Server accepts SSH connections and spawns one session per shell channel.
type Server struct {
	cfg    Config
	sshCfg *ssh.ServerConfig
	logger *slog.Logger
}

// NewServer builds the server-side SSH config, wiring cfg.Auth's
// public-key callback (spec §6's "Public keys are looked up against the
// persisted key store" rule).
func NewServer(cfg Config) (*Server, error) {
	if len(cfg.HostKeys) == 0 {
		return nil, fmt.Errorf("ssh: at least one host key is required")
	}
	if cfg.LobbyRoom == "" {
		cfg.LobbyRoom = "lobby"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	sshCfg := &ssh.ServerConfig{
		PublicKeyCallback: publicKeyCallback(cfg.Auth),
	}
	for _, key := range cfg.HostKeys {
		sshCfg.AddHostKey(key)
	}

	return &Server{cfg: cfg, sshCfg: sshCfg, logger: cfg.Logger.With("component", "ssh_transport")}, nil
}

// publicKeyCallback authenticates the offered key against the store and
// stashes the resolved agent in the connection's Permissions.Extensions,
// the only channel x/crypto/ssh offers to carry state from auth into the
// later channel-open callbacks.
func publicKeyCallback(authSvc *auth.Service) func(ssh.ConnMetadata, ssh.PublicKey) (*ssh.Permissions, error) {
	return func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
		agent, err := authSvc.Authenticate(conn.User(), key)
		if err != nil {
			return nil, fmt.Errorf("ssh: public key rejected: %w", err)
		}
		return &ssh.Permissions{
			Extensions: map[string]string{
				"agent_id":     agent.ID,
				"display_name": agent.DisplayName,
			},
		}, nil
	}
}

// Serve accepts connections from ln until ctx is cancelled or Accept fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("ssh: accept: %w", err)
			}
		}
		go s.handleConn(ctx, nc)
	}
}

func (s *Server) handleConn(ctx context.Context, nc net.Conn) {
	sshConn, chans, reqs, err := ssh.NewServerConn(nc, s.sshCfg)
	if err != nil {
		s.logger.Warn("ssh handshake failed", "remote", nc.RemoteAddr(), "error", err)
		nc.Close()
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	logger := s.logger.With("remote", sshConn.RemoteAddr(), "agent_id", sshConn.Permissions.Extensions["agent_id"])
	logger.Info("ssh connection established")

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "only session channels are supported")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			logger.Warn("channel accept failed", "error", err)
			continue
		}
		go s.handleSessionChannel(ctx, sshConn, channel, requests, logger)
	}
}
