package v1

import "time"

// TaskStatus represents where a task sits in its lifecycle.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusAssigned  TaskStatus = "assigned"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether status is one a task never leaves.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// ExecutionMode names which executor backend should run a task.
type ExecutionMode string

const (
	ExecutionModeProcessPool      ExecutionMode = "process_pool"
	ExecutionModeContainerAgentic ExecutionMode = "container_agentic"
)

// Task is a unit of work submitted by a client.
type Task struct {
	ID               string                 `json:"id"`
	Prompt           string                 `json:"prompt"`
	Priority         int                    `json:"priority"`
	RequestedWorker  string                 `json:"requestedWorkerId,omitempty"`
	TimeoutMs        int                    `json:"timeoutMs,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	RequestedMode    ExecutionMode          `json:"requestedMode,omitempty"`
	Status           TaskStatus             `json:"status"`
	AssignedWorker   string                 `json:"assignedWorker,omitempty"`
	CreatedAt        time.Time              `json:"createdAt"`
	StartedAt        *time.Time             `json:"startedAt,omitempty"`
	CompletedAt      *time.Time             `json:"completedAt,omitempty"`
	Result           *TaskResult            `json:"result,omitempty"`
}

// ArtifactKind names the category of a produced artifact.
type ArtifactKind string

const (
	ArtifactKindFile      ArtifactKind = "file"
	ArtifactKindDirectory ArtifactKind = "directory"
	ArtifactKindReport    ArtifactKind = "report"
	ArtifactKindLog       ArtifactKind = "log"
	ArtifactKindData      ArtifactKind = "data"
)

// Artifact is a single file or directory produced by a task run.
type Artifact struct {
	Name      string       `json:"name"`
	Path      string       `json:"path"`
	Kind      ArtifactKind `json:"kind"`
	SizeBytes *int64       `json:"sizeBytes,omitempty"`
	Checksum  *string      `json:"checksum,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// TaskMetrics carries the resource accounting collected for one run.
type TaskMetrics struct {
	DurationMs int64    `json:"durationMs"`
	CPUPercent *float64 `json:"cpuPercent,omitempty"`
	MemoryBytes *int64  `json:"memoryBytes,omitempty"`
	ExitCode   *int     `json:"exitCode,omitempty"`
}

// TaskResult is attached to a Task on completion.
type TaskResult struct {
	Status    TaskStatus  `json:"status"`
	Output    string      `json:"output"`
	Error     string      `json:"error,omitempty"`
	Retryable bool        `json:"retryable"`
	Artifacts []Artifact  `json:"artifacts,omitempty"`
	Metrics   TaskMetrics `json:"metrics"`
	StartedAt time.Time   `json:"startedAt"`
	EndedAt   time.Time   `json:"endedAt"`
	SessionID string      `json:"sessionId,omitempty"`
}
