// Package api exposes the coordinator's client-facing HTTP surface: health,
// task submission, task status, an SSE relay, and the worker list.
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
	coordregistry "github.com/claudecluster/claudecluster/internal/coordinator/registry"
	coordsse "github.com/claudecluster/claudecluster/internal/coordinator/sse"
	"github.com/claudecluster/claudecluster/internal/coordinator/task"
	v1 "github.com/claudecluster/claudecluster/pkg/api/v1"
)

const defaultPriority = 5

// Handler holds the dependencies behind every coordinator route.
type Handler struct {
	tasks     *task.Manager
	workers   *coordregistry.Registry
	relay     *coordsse.Manager
	version   string
	startedAt time.Time
	logger    *logger.Logger
}

// NewHandler wires a Handler to the coordinator's task manager, worker
// registry, and SSE relay.
func NewHandler(tasks *task.Manager, workers *coordregistry.Registry, relay *coordsse.Manager, version string, log *logger.Logger) *Handler {
	return &Handler{
		tasks:     tasks,
		workers:   workers,
		relay:     relay,
		version:   version,
		startedAt: time.Now().UTC(),
		logger:    log.WithFields(zap.String("component", "coordinator-api")),
	}
}

// Health reports aggregate worker and task counts.
// GET /health
func (h *Handler) Health(c *gin.Context) {
	workers := h.workers.List()
	workerCounts := WorkerCounts{Total: len(workers)}
	for _, w := range workers {
		switch w.Status {
		case v1.WorkerStatusAvailable, v1.WorkerStatusBusy:
			workerCounts.Available++
		case v1.WorkerStatusOffline, v1.WorkerStatusError:
			workerCounts.Offline++
		}
	}

	taskCounts := TaskCounts{}
	for _, t := range h.tasks.List() {
		switch t.Status {
		case v1.TaskStatusCompleted:
			taskCounts.Completed++
		case v1.TaskStatusFailed:
			taskCounts.Failed++
		case v1.TaskStatusCancelled:
			// not separately counted per the external-interface table
		default:
			taskCounts.Active++
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if workerCounts.Total > 0 && workerCounts.Available == 0 {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		UptimeMs:  time.Since(h.startedAt).Milliseconds(),
		Workers:   workerCounts,
		Tasks:     taskCounts,
		Version:   h.version,
	})
}

// SubmitTask accepts a validated submission and dispatches it to the
// least-loaded eligible worker.
// POST /tasks
func (h *Handler) SubmitTask(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := apperrors.BadRequest("invalid request body: " + err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	priority := defaultPriority
	if req.Priority != nil {
		priority = *req.Priority
	}

	taskID := uuid.New().String()
	t, err := h.tasks.Submit(c.Request.Context(), taskID, task.Submission{
		Prompt:    req.Prompt,
		Priority:  priority,
		Metadata:  req.Metadata,
		TimeoutMs: req.TimeoutMs,
		Mode:      req.Mode,
		AgentType: req.AgentType,
	})
	if err != nil {
		h.logger.Warn("submission failed", zap.Error(err))
		c.JSON(apperrors.GetHTTPStatus(err), err)
		return
	}

	c.JSON(http.StatusOK, SubmitResponse{
		TaskID:         t.ID,
		Status:         string(t.Status),
		AssignedWorker: t.AssignedWorker,
		StreamURL:      "/stream/" + t.ID,
	})
}

// GetTask returns the coordinator's current view of a task.
// GET /tasks/{id}
func (h *Handler) GetTask(c *gin.Context) {
	id := c.Param("id")
	t, ok := h.tasks.Get(id)
	if !ok {
		appErr := apperrors.NotFound("task", id)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusOK, toTaskResponse(t))
}

func toTaskResponse(t v1.Task) TaskResponse {
	resp := TaskResponse{
		TaskID:         t.ID,
		Status:         string(t.Status),
		AssignedWorker: t.AssignedWorker,
		CreatedAt:      t.CreatedAt.Format(time.RFC3339),
	}
	if t.StartedAt != nil {
		s := t.StartedAt.Format(time.RFC3339)
		resp.StartedAt = &s
	}
	if t.CompletedAt != nil {
		e := t.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &e
		if t.StartedAt != nil {
			d := t.CompletedAt.Sub(*t.StartedAt).Milliseconds()
			resp.DurationMs = &d
		}
	}
	if t.Result != nil {
		resp.Output = t.Result.Output
		resp.Error = t.Result.Error
		retryable := t.Result.Retryable
		resp.Retryable = &retryable
	}
	return resp
}

// CancelTask forwards a best-effort cancel to the assigned worker.
// DELETE /tasks/{id}
func (h *Handler) CancelTask(c *gin.Context) {
	id := c.Param("id")
	if err := h.tasks.Cancel(c.Request.Context(), id); err != nil {
		c.JSON(apperrors.GetHTTPStatus(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"taskId": id, "cancelled": true})
}

// ListWorkers returns the coordinator's current worker snapshot.
// GET /workers
func (h *Handler) ListWorkers(c *gin.Context) {
	workers := h.workers.List()
	available := 0
	activeTotal := 0
	for _, w := range workers {
		if w.Status.Selectable() {
			available++
		}
		activeTotal += w.ActiveTasks
	}
	c.JSON(http.StatusOK, WorkersResponse{
		Workers:          workers,
		TotalWorkers:     len(workers),
		AvailableWorkers: available,
		TotalActiveTasks: activeTotal,
	})
}

// Stream relays the assigned worker's SSE stream to this client, wrapped
// with coordinator provenance, with its own 30 s heartbeat ticker.
// GET /stream/{id}
func (h *Handler) Stream(c *gin.Context) {
	id := c.Param("id")
	endpoint, ok := h.tasks.Endpoint(id)
	if !ok {
		appErr := apperrors.NotFound("task", id)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	events, connectedAt, unsubscribe := h.relay.Subscribe(id, endpoint)
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
			sse.Encode(w, sse.Event{Id: nextID(), Event: env.Event, Data: env})
			return env.Event != "complete" && env.Event != "failed"
		case <-heartbeat.C:
			sse.Encode(w, sse.Event{
				Id:    nextID(),
				Event: "heartbeat",
				Data: gin.H{
					"taskId":          id,
					"timestamp":       time.Now().UTC(),
					"connectionUptimeMs": time.Since(connectedAt).Milliseconds(),
				},
			})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
