// Package client is the coordinator's HTTP client for dispatching tasks to
// a worker's /run endpoint and for polling /tasks/{id} during completion
// reconciliation.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	v1 "github.com/claudecluster/claudecluster/pkg/api/v1"
)

// Config controls request timeouts.
type Config struct {
	DispatchTimeout time.Duration
	PollTimeout     time.Duration
	CancelTimeout   time.Duration
}

// Client dispatches tasks to workers over plain net/http.
type Client struct {
	cfg  Config
	http *http.Client
}

// RunRequest mirrors the worker's POST /run body.
type RunRequest struct {
	Prompt    string                 `json:"prompt"`
	Priority  int                    `json:"priority,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	TimeoutMs int                    `json:"timeoutMs,omitempty"`
	Mode      v1.ExecutionMode       `json:"mode,omitempty"`
	AgentType string                 `json:"agentType,omitempty"`
}

// RunResponse mirrors the worker's successful POST /run response.
type RunResponse struct {
	TaskID              string `json:"taskId"`
	Status              string `json:"status"`
	EstimatedDurationMs int64  `json:"estimatedDuration,omitempty"`
	StreamURL           string `json:"streamUrl,omitempty"`
}

// New returns a Client with sane default timeouts.
func New(cfg Config) *Client {
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 10 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	if cfg.CancelTimeout <= 0 {
		cfg.CancelTimeout = 5 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{}}
}

// Dispatch POSTs a task to a worker's /run endpoint with a bounded timeout.
func (c *Client) Dispatch(ctx context.Context, endpoint string, req RunRequest) (*RunResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DispatchTimeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode dispatch request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/run", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build dispatch request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("dispatch to worker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("worker returned %d: %s", resp.StatusCode, string(payload))
	}

	var out RunResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode dispatch response: %w", err)
	}
	return &out, nil
}

// Poll fetches a task's current state from a worker's GET /tasks/{id}.
func (c *Client) Poll(ctx context.Context, endpoint, taskID string) (*v1.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/tasks/"+taskID, nil)
	if err != nil {
		return nil, fmt.Errorf("build poll request: %w", err)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("poll worker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("worker returned %d polling task %s", resp.StatusCode, taskID)
	}

	var task v1.Task
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return nil, fmt.Errorf("decode polled task: %w", err)
	}
	return &task, nil
}

// Cancel sends a best-effort DELETE to a worker's /tasks/{id}.
func (c *Client) Cancel(ctx context.Context, endpoint, taskID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CancelTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint+"/tasks/"+taskID, nil)
	if err != nil {
		return fmt.Errorf("build cancel request: %w", err)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("cancel on worker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("worker returned %d cancelling task %s", resp.StatusCode, taskID)
	}
	return nil
}
