// Package credentials supplies pluggable credential providers so the
// container-backed executor can populate a task's environment without
// hardcoding secret handling into the provider itself.
package credentials

import (
	"context"
	"fmt"
)

// Credential is a single resolved secret value and where it came from.
type Credential struct {
	Key    string
	Value  string
	Source string
}

// Provider resolves named credentials from one backing source.
type Provider interface {
	Name() string
	GetCredential(ctx context.Context, key string) (*Credential, error)
	ListAvailable(ctx context.Context) ([]string, error)
}

// Manager queries an ordered list of providers, returning the first match.
type Manager struct {
	providers []Provider
}

// NewManager builds a manager that tries each provider in order.
func NewManager(providers ...Provider) *Manager {
	return &Manager{providers: providers}
}

// Resolve returns the first provider's credential for key, in provider
// order. Returns an error if no configured provider has it.
func (m *Manager) Resolve(ctx context.Context, key string) (*Credential, error) {
	for _, p := range m.providers {
		cred, err := p.GetCredential(ctx, key)
		if err == nil {
			return cred, nil
		}
	}
	return nil, fmt.Errorf("credential not found in any provider: %s", key)
}

// ResolveAll resolves every key in order, stopping at the first failure.
func (m *Manager) ResolveAll(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		cred, err := m.Resolve(ctx, key)
		if err != nil {
			return nil, err
		}
		out[key] = cred.Value
	}
	return out, nil
}

// ListAvailable merges the available keys reported by every provider.
func (m *Manager) ListAvailable(ctx context.Context) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range m.providers {
		keys, err := p.ListAvailable(ctx)
		if err != nil {
			continue
		}
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}
