package api

import v1 "github.com/claudecluster/claudecluster/pkg/api/v1"

// SubmitRequest is the body of POST /tasks.
type SubmitRequest struct {
	Prompt string `json:"prompt" binding:"required,min=1,max=10000"`
	// Priority is a pointer so a genuinely omitted field (default 5) can be
	// told apart from an explicit priority:0, which must be rejected.
	Priority  *int                   `json:"priority,omitempty" binding:"omitempty,min=1,max=10"`
	WorkerID  string                 `json:"workerId,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	TimeoutMs int                    `json:"timeoutMs,omitempty" binding:"omitempty,min=1000,max=600000"`
	Mode      v1.ExecutionMode       `json:"mode,omitempty"`
	AgentType string                 `json:"agentType,omitempty"`
}

// SubmitResponse is the body returned by a successful POST /tasks.
type SubmitResponse struct {
	TaskID              string `json:"taskId"`
	Status              string `json:"status"`
	AssignedWorker      string `json:"assignedWorker,omitempty"`
	EstimatedDurationMs int64  `json:"estimatedDuration,omitempty"`
	StreamURL           string `json:"streamUrl"`
}

// TaskResponse is the body returned by GET /tasks/{id}.
type TaskResponse struct {
	TaskID         string     `json:"taskId"`
	Status         string     `json:"status"`
	AssignedWorker string     `json:"assignedWorker,omitempty"`
	CreatedAt      string     `json:"createdAt"`
	StartedAt      *string    `json:"startedAt,omitempty"`
	CompletedAt    *string    `json:"completedAt,omitempty"`
	Output         string     `json:"output,omitempty"`
	Error          string     `json:"error,omitempty"`
	Retryable      *bool      `json:"retryable,omitempty"`
	DurationMs     *int64     `json:"duration,omitempty"`
}

// HealthResponse is the body returned by GET /health.
type HealthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	UptimeMs  int64          `json:"uptime"`
	Workers   WorkerCounts   `json:"workers"`
	Tasks     TaskCounts     `json:"tasks"`
	Version   string         `json:"version,omitempty"`
}

// WorkerCounts summarizes worker status distribution for /health.
type WorkerCounts struct {
	Total     int `json:"total"`
	Available int `json:"available"`
	Offline   int `json:"offline"`
}

// TaskCounts summarizes task status distribution for /health.
type TaskCounts struct {
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// WorkersResponse is the body returned by GET /workers.
type WorkersResponse struct {
	Workers            []v1.WorkerRecord `json:"workers"`
	TotalWorkers       int               `json:"totalWorkers"`
	AvailableWorkers   int               `json:"availableWorkers"`
	TotalActiveTasks   int               `json:"totalActiveTasks"`
}
