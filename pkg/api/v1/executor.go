package v1

import "time"

// ExecutorState is the lifecycle state of one executor instance.
type ExecutorState string

const (
	ExecutorStateInitializing ExecutorState = "initializing"
	ExecutorStateIdle         ExecutorState = "idle"
	ExecutorStateExecuting    ExecutorState = "executing"
	ExecutorStateTerminating  ExecutorState = "terminating"
	ExecutorStateTerminated   ExecutorState = "terminated"
	ExecutorStateError        ExecutorState = "error"
)

// ResourceUsage is a point-in-time snapshot of an executor's consumption.
type ResourceUsage struct {
	CPUPercent  float64 `json:"cpuPercent,omitempty"`
	MemoryBytes int64   `json:"memoryBytes,omitempty"`
}

// ExecutorStatus is the snapshot returned by Executor.Status().
type ExecutorStatus struct {
	ID              string        `json:"id"`
	Mode            ExecutionMode `json:"mode"`
	State           ExecutorState `json:"state"`
	CurrentTaskID   string        `json:"currentTaskId,omitempty"`
	StartedAt       time.Time     `json:"startedAt"`
	TasksCompleted  int           `json:"tasksCompleted"`
	LastActivity    time.Time     `json:"lastActivity"`
	Usage           ResourceUsage `json:"usage"`
}

// ProviderStats is returned by ExecutionProvider.Stats().
type ProviderStats struct {
	Mode           ExecutionMode `json:"mode"`
	Active         int           `json:"active"`
	Idle           int           `json:"idle"`
	TotalExecutors int           `json:"totalExecutors"`
	AvgDurationMs  int64         `json:"avgDurationMs,omitempty"`
}
