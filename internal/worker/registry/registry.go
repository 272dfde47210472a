// Package registry holds the static list of agent types a process-backed
// executor on this worker can launch: which command to run, which
// environment variables it needs, and what working directory to start in.
package registry

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/claudecluster/claudecluster/internal/common/logger"
)

// AgentType describes one launchable process-backed agent.
type AgentType struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Command      string   `json:"command"`
	Args         []string `json:"args,omitempty"`
	WorkingDir   string   `json:"workingDir,omitempty"`
	RequiredEnv  []string `json:"requiredEnv,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Enabled      bool     `json:"enabled"`
}

// Registry is a concurrency-safe lookup of agent types by id.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*AgentType
	logger *logger.Logger
}

// New returns an empty registry.
func New(log *logger.Logger) *Registry {
	return &Registry{
		byID:   make(map[string]*AgentType),
		logger: log.WithFields(zap.String("component", "agent_type_registry")),
	}
}

// LoadDefaults populates the registry with the built-in agent types.
func (r *Registry) LoadDefaults() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, at := range DefaultAgentTypes() {
		r.byID[at.ID] = at
		r.logger.Info("loaded default agent type", zap.String("id", at.ID))
	}
}

// Register adds a new agent type. Returns an error if the id already exists
// or the config fails validation.
func (r *Registry) Register(at *AgentType) error {
	if err := Validate(at); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[at.ID]; exists {
		return fmt.Errorf("agent type %q already registered", at.ID)
	}
	r.byID[at.ID] = at
	r.logger.Info("registered agent type", zap.String("id", at.ID))
	return nil
}

// Get returns the agent type for id.
func (r *Registry) Get(id string) (*AgentType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	at, ok := r.byID[id]
	return at, ok
}

// List returns every registered agent type.
func (r *Registry) List() []*AgentType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*AgentType, 0, len(r.byID))
	for _, at := range r.byID {
		out = append(out, at)
	}
	return out
}

// Capabilities merges the Capabilities of every enabled agent type, used to
// populate a worker's declared capability set in /health.
func (r *Registry) Capabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var caps []string
	for _, at := range r.byID {
		if !at.Enabled {
			continue
		}
		for _, c := range at.Capabilities {
			if !seen[c] {
				seen[c] = true
				caps = append(caps, c)
			}
		}
	}
	return caps
}

// Validate checks an agent type configuration for completeness.
func Validate(at *AgentType) error {
	if at.ID == "" {
		return fmt.Errorf("agent type id is required")
	}
	if at.Name == "" {
		return fmt.Errorf("agent type name is required")
	}
	if at.Command == "" {
		return fmt.Errorf("agent type command is required")
	}
	return nil
}
