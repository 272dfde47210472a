package registry

import (
	"testing"

	"github.com/claudecluster/claudecluster/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("failed to build test logger: %v", err)
	}
	return log
}

func TestLoadDefaultsRegistersClaudeCodeCLI(t *testing.T) {
	r := New(newTestLogger(t))
	r.LoadDefaults()

	at, ok := r.Get("claude-code-cli")
	if !ok {
		t.Fatal("expected default agent type claude-code-cli to be registered")
	}
	if at.Command != "claude" {
		t.Fatalf("expected command 'claude', got %q", at.Command)
	}
}

func TestRegisterRejectsDuplicateID(t *testing.T) {
	r := New(newTestLogger(t))
	at := &AgentType{ID: "custom", Name: "Custom", Command: "custom-cli"}

	if err := r.Register(at); err != nil {
		t.Fatalf("unexpected error on first register: %v", err)
	}
	if err := r.Register(at); err == nil {
		t.Fatal("expected error registering duplicate id")
	}
}

func TestRegisterRejectsIncompleteConfig(t *testing.T) {
	r := New(newTestLogger(t))
	if err := r.Register(&AgentType{ID: "incomplete"}); err == nil {
		t.Fatal("expected validation error for missing name/command")
	}
}

func TestCapabilitiesMergesEnabledTypesOnly(t *testing.T) {
	r := New(newTestLogger(t))
	_ = r.Register(&AgentType{ID: "a", Name: "A", Command: "a", Capabilities: []string{"x", "y"}, Enabled: true})
	_ = r.Register(&AgentType{ID: "b", Name: "B", Command: "b", Capabilities: []string{"y", "z"}, Enabled: true})
	_ = r.Register(&AgentType{ID: "c", Name: "C", Command: "c", Capabilities: []string{"unreachable"}, Enabled: false})

	caps := r.Capabilities()
	seen := make(map[string]bool)
	for _, c := range caps {
		if seen[c] {
			t.Fatalf("capability %q reported more than once: %v", c, caps)
		}
		seen[c] = true
	}
	if !seen["x"] || !seen["y"] || !seen["z"] {
		t.Fatalf("expected x, y, z among capabilities, got %v", caps)
	}
	if seen["unreachable"] {
		t.Fatalf("disabled agent type's capability leaked into result: %v", caps)
	}
}

func TestListReturnsEveryRegisteredType(t *testing.T) {
	r := New(newTestLogger(t))
	r.LoadDefaults()
	_ = r.Register(&AgentType{ID: "extra", Name: "Extra", Command: "extra-cli"})

	if len(r.List()) != 2 {
		t.Fatalf("expected 2 registered agent types, got %d", len(r.List()))
	}
}
