package api

import v1 "github.com/claudecluster/claudecluster/pkg/api/v1"

// RunRequest is the body of POST /run.
type RunRequest struct {
	Prompt    string                 `json:"prompt" binding:"required"`
	Priority  int                    `json:"priority,omitempty"`
	WorkerID  string                 `json:"workerId,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	TimeoutMs int                    `json:"timeoutMs,omitempty"`
	Mode      v1.ExecutionMode       `json:"mode,omitempty"`
	AgentType string                 `json:"agentType,omitempty"`
}

// RunResponse is the body returned by a successful POST /run.
type RunResponse struct {
	TaskID              string `json:"taskId"`
	Status              string `json:"status"`
	EstimatedDurationMs int64  `json:"estimatedDuration,omitempty"`
	StreamURL           string `json:"streamUrl,omitempty"`
}
