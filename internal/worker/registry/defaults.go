package registry

// DefaultAgentTypes returns the agent types available on a worker out of
// the box, before any operator-supplied configuration is loaded.
func DefaultAgentTypes() []*AgentType {
	return []*AgentType{
		{
			ID:           "claude-code-cli",
			Name:         "Claude Code CLI",
			Description:  "Long-lived CLI coding agent driven over stdin/stdout.",
			Command:      "claude",
			Args:         []string{"--print", "--output-format", "stream-json"},
			RequiredEnv:  []string{"ANTHROPIC_API_KEY"},
			Capabilities: []string{"code_generation", "code_review", "refactoring", "shell_execution"},
			Enabled:      true,
		},
	}
}
