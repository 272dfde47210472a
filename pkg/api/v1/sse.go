package v1

import "time"

// SSEEventType names the kind of a server-sent event frame.
type SSEEventType string

const (
	SSEEventStatus         SSEEventType = "status"
	SSEEventProgress       SSEEventType = "progress"
	SSEEventComplete       SSEEventType = "complete"
	SSEEventFailed         SSEEventType = "failed"
	SSEEventHeartbeat      SSEEventType = "heartbeat"
	SSEEventServerShutdown SSEEventType = "server_shutdown"
	SSEEventError          SSEEventType = "error"
)

// EventSource distinguishes who originated an SSE frame.
type EventSource string

const (
	EventSourceWorker    EventSource = "worker"
	EventSourceMCPServer EventSource = "mcp-server"
)

// ProgressPayload is the data field of a progress event.
type ProgressPayload struct {
	Percentage int    `json:"percentage"`
	Message    string `json:"message,omitempty"`
}

// CompletePayload is the data field of a complete event.
type CompletePayload struct {
	Result TaskResult `json:"result"`
}

// FailedPayload is the data field of a failed event.
type FailedPayload struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// StatusPayload is the data field of a status event.
type StatusPayload struct {
	Status TaskStatus `json:"status"`
}

// Envelope is the JSON object carried in every coordinator-to-client SSE
// data frame. Worker-originated frames are re-wrapped by the coordinator
// (internal/coordinator/sse) with Source kept as "worker", RelayedBy set to
// "mcp-server", and MCPTimestamp populated.
type Envelope struct {
	TaskID        string       `json:"taskId"`
	Timestamp     time.Time    `json:"timestamp"`
	Source        EventSource  `json:"source"`
	Type          SSEEventType `json:"-"`
	Progress      *ProgressPayload `json:"progress,omitempty"`
	Complete      *CompletePayload `json:"complete,omitempty"`
	Failed        *FailedPayload   `json:"failed,omitempty"`
	Status        *StatusPayload   `json:"status,omitempty"`
	MCPTimestamp  *time.Time   `json:"mcpTimestamp,omitempty"`
	RelayedBy     string       `json:"relayedBy,omitempty"`
	Raw           string       `json:"-"`
}
