package models

import "time"

// AgentKind distinguishes a human participant from a model-backed one.
type AgentKind string

const (
	AgentHuman AgentKind = "human"
	AgentModel AgentKind = "model"
)

// Agent is a human or model participant with a stable id and display name.
// Rows and equipment reference agents by id.
type Agent struct {
	ID          string    `json:"id"`
	Kind        AgentKind `json:"kind"`
	DisplayName string    `json:"display_name"`

	// Backend/Model identify a model-backed agent's dispatch target; unused
	// for human agents.
	Backend      string `json:"backend,omitempty"`
	Model        string `json:"model,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// PublicKey authenticates a human Agent's remote-shell sessions. Keys are
// looked up by their marshaled authorized_keys fingerprint.
type PublicKey struct {
	ID          string    `json:"id"`
	AgentID     string    `json:"agent_id"`
	Fingerprint string    `json:"fingerprint"`
	KeyData     []byte    `json:"key_data"`
	Comment     string    `json:"comment,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ModelRegistryEntry describes a model backend entry from the startup
// configuration (spec §6).
type ModelRegistryEntry struct {
	ShortName     string `yaml:"short_name"`
	DisplayName   string `yaml:"display_name"`
	Backend       string `yaml:"backend"`
	Endpoint      string `yaml:"endpoint,omitempty"`
	SystemPrompt  string `yaml:"system_prompt,omitempty"`
	ContextWindow int    `yaml:"context_window"`
}
