package ssh

import (
	"context"

	"github.com/tobert/sshwarpd/internal/auth"
	"github.com/tobert/sshwarpd/internal/store"
	"github.com/tobert/sshwarpd/pkg/models"
)

// storeKeyStore adapts the context-taking store.Store to auth.KeyStore's
// context-free contract. Public-key authentication happens on the SSH
// handshake path before any per-request context exists, so a background
// context is the right default here, the same reasoning session.go applies
// to its own dispatchToolCall adapter.
type storeKeyStore struct {
	store store.Store
}

func (s storeKeyStore) LookupByFingerprint(fingerprint string) (*models.PublicKey, error) {
	return s.store.LookupByFingerprint(context.Background(), fingerprint)
}

func (s storeKeyStore) GetAgent(agentID string) (*models.Agent, error) {
	return s.store.GetAgent(context.Background(), agentID)
}

var _ auth.KeyStore = storeKeyStore{}
