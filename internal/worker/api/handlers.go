// Package api exposes the worker's HTTP surface: health, task submission,
// task status/cancel, and an SSE output stream.
package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/claudecluster/claudecluster/internal/common/errors"
	"github.com/claudecluster/claudecluster/internal/common/logger"
	"github.com/claudecluster/claudecluster/internal/worker/engine"
	"github.com/claudecluster/claudecluster/internal/worker/registry"
	v1 "github.com/claudecluster/claudecluster/pkg/api/v1"
)

// Handler holds the dependencies behind every worker route.
type Handler struct {
	workerID  string
	engine    *engine.Engine
	agents    *registry.Registry
	startedAt time.Time
	logger    *logger.Logger
}

// NewHandler wires a Handler to the worker's execution engine and agent
// type registry.
func NewHandler(workerID string, eng *engine.Engine, agents *registry.Registry, log *logger.Logger) *Handler {
	return &Handler{
		workerID:  workerID,
		engine:    eng,
		agents:    agents,
		startedAt: time.Now().UTC(),
		logger:    log.WithFields(zap.String("component", "worker-api")),
	}
}

// Health reports status, active/total task counts, uptime, and declared
// capabilities. Serves both GET /health and GET /hello.
func (h *Handler) Health(c *gin.Context) {
	status := v1.WorkerStatusAvailable
	if h.engine.ActiveTaskCount() > 0 {
		status = v1.WorkerStatusBusy
	}

	c.JSON(http.StatusOK, v1.HealthResponse{
		Status:             status,
		ActiveTasks:        h.engine.ActiveTaskCount(),
		TotalTasksExecuted: int64(h.engine.TotalTasksExecuted()),
		UptimeMs:           time.Since(h.startedAt).Milliseconds(),
		Capabilities:       h.agents.Capabilities(),
	})
}

// Run accepts a task submission.
// POST /run
func (h *Handler) Run(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperrors.BadRequest("invalid request body: " + err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	if req.AgentType != "" {
		if _, ok := h.agents.Get(req.AgentType); !ok {
			appErr := apperrors.BadRequest("unknown agent type: " + req.AgentType)
			c.JSON(appErr.HTTPStatus, appErr)
			return
		}
	}

	task := &v1.Task{
		ID:              uuid.New().String(),
		Prompt:          req.Prompt,
		Priority:        req.Priority,
		RequestedWorker: req.WorkerID,
		Metadata:        req.Metadata,
		TimeoutMs:       req.TimeoutMs,
		RequestedMode:   req.Mode,
	}

	accepted, err := h.engine.Submit(task, req.Mode)
	if err != nil {
		h.logger.Warn("submission rejected", zap.Error(err))
		c.JSON(apperrors.GetHTTPStatus(err), err)
		return
	}

	c.JSON(http.StatusAccepted, RunResponse{
		TaskID:              accepted.TaskID,
		Status:              string(v1.TaskStatusPending),
		EstimatedDurationMs: accepted.EstimatedDurationMs,
		StreamURL:           "/stream/" + accepted.TaskID,
	})
}

// GetTask returns the current status snapshot of a task owned by this worker.
// GET /tasks/:id
func (h *Handler) GetTask(c *gin.Context) {
	id := c.Param("id")
	task, ok := h.engine.Get(id)
	if !ok {
		appErr := apperrors.NotFound("task", id)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusOK, task)
}

// CancelTask best-effort cancels a task. Idempotent.
// DELETE /tasks/:id
func (h *Handler) CancelTask(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.engine.Get(id); !ok {
		appErr := apperrors.NotFound("task", id)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	h.engine.Cancel(id)
	c.JSON(http.StatusOK, gin.H{"taskId": id, "cancelled": true})
}

// Stream emits progress, status, complete, failed, and periodic heartbeat
// SSE events until the task reaches a terminal state or the client
// disconnects.
// GET /stream/:id
func (h *Handler) Stream(c *gin.Context) {
	id := c.Param("id")
	events, unsubscribe, ok := h.engine.Subscribe(id)
	if !ok {
		appErr := apperrors.NotFound("task", id)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	var seq int64
	nextID := func() string {
		seq++
		return strconv.FormatInt(seq, 10)
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case env, open := <-events:
			if !open {
				return false
			}
			sse.Encode(w, sse.Event{Id: nextID(), Event: string(env.Type), Data: env})
			return env.Type != v1.SSEEventComplete && env.Type != v1.SSEEventFailed
		case <-heartbeat.C:
			sse.Encode(w, sse.Event{
				Id:    nextID(),
				Event: string(v1.SSEEventHeartbeat),
				Data:  gin.H{"taskId": id, "timestamp": time.Now().UTC()},
			})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
