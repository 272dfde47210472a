package v1

import "time"

// SessionStatus is the lifecycle state of a task/executor binding.
type SessionStatus string

const (
	SessionStatusInitializing SessionStatus = "initializing"
	SessionStatusActive       SessionStatus = "active"
	SessionStatusIdle         SessionStatus = "idle"
	SessionStatusTerminating  SessionStatus = "terminating"
	SessionStatusTerminated   SessionStatus = "terminated"
	SessionStatusError        SessionStatus = "error"
)

// Session is the runtime binding of a task to an executor.
type Session struct {
	ID         string                 `json:"id"`
	ExecutorID string                 `json:"executorId"`
	TaskID     string                 `json:"taskId"`
	Mode       ExecutionMode          `json:"mode"`
	Status     SessionStatus          `json:"status"`
	CreatedAt  time.Time              `json:"createdAt"`
	ExpiresAt  time.Time              `json:"expiresAt"`
	RepoURL    string                 `json:"repoUrl,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}
