package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/tobert/sshwarpd/pkg/models"
)

type fakeStore struct {
	byFingerprint map[string]*models.PublicKey
	agents        map[string]*models.Agent
}

func (f *fakeStore) LookupByFingerprint(fingerprint string) (*models.PublicKey, error) {
	return f.byFingerprint[fingerprint], nil
}

func (f *fakeStore) GetAgent(agentID string) (*models.Agent, error) {
	return f.agents[agentID], nil
}

func generateKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return sshPub
}

func TestServiceAuthenticateKnownKey(t *testing.T) {
	key := generateKey(t)
	fp := ssh.FingerprintSHA256(key)
	store := &fakeStore{
		byFingerprint: map[string]*models.PublicKey{
			fp: {ID: "pk-1", AgentID: "agent-1", Fingerprint: fp},
		},
		agents: map[string]*models.Agent{
			"agent-1": {ID: "agent-1", Kind: models.AgentHuman, DisplayName: "abert", CreatedAt: time.Now()},
		},
	}
	service := NewService(Config{}, store)

	agent, err := service.Authenticate("abert", key)
	require.NoError(t, err)
	require.Equal(t, "agent-1", agent.ID)
	require.Equal(t, "abert", agent.DisplayName)
}

func TestServiceAuthenticateUnknownKeyRejected(t *testing.T) {
	store := &fakeStore{byFingerprint: map[string]*models.PublicKey{}, agents: map[string]*models.Agent{}}
	service := NewService(Config{}, store)

	_, err := service.Authenticate("stranger", generateKey(t))
	require.ErrorIs(t, err, ErrUnknownKey)
}

func TestServiceAuthenticateOpenRegistration(t *testing.T) {
	store := &fakeStore{byFingerprint: map[string]*models.PublicKey{}, agents: map[string]*models.Agent{}}
	service := NewService(Config{OpenRegistration: true}, store)

	agent, err := service.Authenticate("newcomer", generateKey(t))
	require.NoError(t, err)
	require.Equal(t, "newcomer", agent.DisplayName)
}

func TestServiceDisabledWithoutStore(t *testing.T) {
	service := NewService(Config{}, nil)
	require.False(t, service.Enabled())
	_, err := service.Authenticate("x", generateKey(t))
	require.ErrorIs(t, err, ErrAuthDisabled)
}
