package credentials

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// knownAPIKeyPatterns are the environment variables ListAvailable reports
// on without needing to fully scan the environment for them.
var knownAPIKeyPatterns = []string{
	"ANTHROPIC_API_KEY",
	"OPENAI_API_KEY",
	"GITHUB_TOKEN",
	"GITLAB_TOKEN",
	"NPM_TOKEN",
}

// EnvProvider resolves credentials from process environment variables,
// optionally under a prefix (e.g. "CLAUDECLUSTER_").
type EnvProvider struct {
	prefix string
}

// NewEnvProvider returns a provider that checks the exact key, then the
// prefixed key.
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{prefix: prefix}
}

// Name identifies this provider.
func (p *EnvProvider) Name() string { return "environment" }

// GetCredential looks up key, then prefix+key, in the process environment.
func (p *EnvProvider) GetCredential(ctx context.Context, key string) (*Credential, error) {
	if value := os.Getenv(key); value != "" {
		return &Credential{Key: key, Value: value, Source: "environment"}, nil
	}
	if p.prefix != "" {
		if value := os.Getenv(p.prefix + key); value != "" {
			return &Credential{Key: key, Value: value, Source: "environment"}, nil
		}
	}
	return nil, fmt.Errorf("credential not found: %s", key)
}

// ListAvailable reports known API-key-shaped environment variables that are
// currently set, plus any other var whose name looks like a secret.
func (p *EnvProvider) ListAvailable(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var available []string

	add := func(key string) {
		if !seen[key] {
			seen[key] = true
			available = append(available, key)
		}
	}

	for _, pattern := range knownAPIKeyPatterns {
		if os.Getenv(pattern) != "" {
			add(pattern)
			continue
		}
		if p.prefix != "" && os.Getenv(p.prefix+pattern) != "" {
			add(pattern)
		}
	}

	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 || parts[1] == "" {
			continue
		}
		key := parts[0]
		lowerKey := strings.ToLower(key)
		if strings.Contains(lowerKey, "api_key") || strings.Contains(lowerKey, "_token") || strings.Contains(lowerKey, "_secret") {
			if p.prefix != "" && strings.HasPrefix(key, p.prefix) {
				key = strings.TrimPrefix(key, p.prefix)
			}
			add(key)
		}
	}

	return available, nil
}
