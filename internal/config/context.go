package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Context is the persisted CLI selection.
type Context struct {
	// AgentID is the currently selected agent.
	AgentID string `yaml:"agent,omitempty"`
	// AgentName is the human-readable agent name (for display).
	AgentName string `yaml:"agent_name,omitempty"`
	// UpdatedAt is when the context was last modified.
	UpdatedAt time.Time `yaml:"updated_at,omitempty"`
}

// HasAgent returns true if an agent is set.
func (c *Context) HasAgent() bool {
	return c.AgentID != ""
}

// SetAgent sets the agent context.
func (c *Context) SetAgent(id, name string) {
	c.AgentID = id
	c.AgentName = name
	c.UpdatedAt = time.Now()
}

// Clear removes the selection.
func (c *Context) Clear() {
	c.AgentID = ""
	c.AgentName = ""
	c.UpdatedAt = time.Now()
}

// String returns a human-readable representation of the context.
func (c *Context) String() string {
	if !c.HasAgent() {
		return "(no agent selected)"
	}
	if c.AgentName != "" {
		return fmt.Sprintf("agent:%s (%s)", c.AgentName, c.AgentID)
	}
	return "agent:" + c.AgentID
}

// ContextStore manages loading and saving context.
type ContextStore struct {
	path string
	mu   sync.RWMutex
}

// NewContextStore creates a new context store.
// If path is empty, uses context.yaml in ConfigDir.
func NewContextStore(path string) *ContextStore {
	if path == "" {
		path = filepath.Join(ConfigDir(), "context.yaml")
	}
	return &ContextStore{path: path}
}

// Path returns the context file path.
func (s *ContextStore) Path() string {
	return s.path
}

// Load reads the context from disk.
// Returns an empty context if the file doesn't exist.
func (s *ContextStore) Load() (*Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := &Context{}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return ctx, nil
		}
		return nil, fmt.Errorf("failed to read context file: %w", err)
	}
	if err := yaml.Unmarshal(data, ctx); err != nil {
		return nil, fmt.Errorf("failed to parse context file: %w", err)
	}
	return ctx, nil
}

// Save writes the context to disk.
func (s *ContextStore) Save(ctx *Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create context directory: %w", err)
	}
	data, err := yaml.Marshal(ctx)
	if err != nil {
		return fmt.Errorf("failed to serialize context: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write context file: %w", err)
	}
	return nil
}

// Clear removes the context file.
func (s *ContextStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove context file: %w", err)
	}
	return nil
}
