// Package auth authenticates remote-shell sessions against a persisted
// public-key store.
package auth

import (
	"crypto/subtle"
	"errors"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/tobert/sshwarpd/pkg/models"
)

var (
	ErrAuthDisabled  = errors.New("auth disabled")
	ErrUnknownKey    = errors.New("unknown public key")
	ErrAgentNotFound = errors.New("agent not found")
)

// KeyStore persists PublicKey and Agent records. internal/store implements
// this for the durable backend; tests use an in-memory fake.
type KeyStore interface {
	LookupByFingerprint(fingerprint string) (*models.PublicKey, error)
	GetAgent(agentID string) (*models.Agent, error)
}

// Config configures the auth service.
type Config struct {
	// OpenRegistration accepts any offered key and creates an ephemeral
	// session identity when the key is not recognized, mirroring a
	// development-mode escape hatch.
	OpenRegistration bool
}

// Service validates SSH public keys against the persisted key store.
type Service struct {
	mu    sync.RWMutex
	cfg   Config
	store KeyStore
}

// NewService constructs an auth service backed by store.
func NewService(cfg Config, store KeyStore) *Service {
	return &Service{cfg: cfg, store: store}
}

// Enabled reports whether authentication checks should run.
func (s *Service) Enabled() bool {
	if s == nil {
		return false
	}
	return s.store != nil
}

// Authenticate resolves an offered SSH public key to an Agent. When no
// record matches and OpenRegistration is set, it returns a transient human
// Agent scoped to the connecting user name instead of an error.
func (s *Service) Authenticate(sshUser string, key ssh.PublicKey) (*models.Agent, error) {
	if s == nil || s.store == nil {
		return nil, ErrAuthDisabled
	}

	fingerprint := ssh.FingerprintSHA256(key)
	pk, err := s.store.LookupByFingerprint(fingerprint)
	if err != nil || pk == nil {
		s.mu.RLock()
		openReg := s.cfg.OpenRegistration
		s.mu.RUnlock()
		if openReg {
			return &models.Agent{
				ID:          "guest:" + sshUser,
				Kind:        models.AgentHuman,
				DisplayName: sshUser,
				CreatedAt:   time.Now(),
			}, nil
		}
		return nil, ErrUnknownKey
	}

	agent, err := s.store.GetAgent(pk.AgentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, ErrAgentNotFound
	}
	return agent, nil
}

// FingerprintMatches does a constant-time comparison of two fingerprints,
// used by key-store implementations that index by raw key bytes rather
// than by fingerprint string.
func FingerprintMatches(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
