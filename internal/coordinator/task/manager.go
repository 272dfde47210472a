// Package task implements the coordinator-side TaskManager: it accepts
// validated submissions, dispatches them to the least-loaded worker,
// reconciles completion either from the SSE relay or by polling, and
// garbage-collects old terminal tasks from the in-memory index.
package task

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/claudecluster/claudecluster/internal/common/errors"
	"github.com/claudecluster/claudecluster/internal/common/logger"
	"github.com/claudecluster/claudecluster/internal/coordinator/client"
	v1 "github.com/claudecluster/claudecluster/pkg/api/v1"
)

const (
	defaultGCInterval     = time.Minute
	defaultMaxAge         = 24 * time.Hour
	defaultPollInterval   = 5 * time.Second
	defaultPollBackoffMax = time.Minute
)

// WorkerSelector is the subset of the coordinator's worker registry the
// manager needs: picking a dispatch target and keeping its load counters
// current.
type WorkerSelector interface {
	SelectLeastLoaded() (string, bool)
	Get(id string) (v1.WorkerRecord, bool)
	IncrementActive(id string)
	DecrementActive(id string)
}

// DispatchClient is the subset of the coordinator's worker HTTP client the
// manager needs to hand off and reconcile tasks.
type DispatchClient interface {
	Dispatch(ctx context.Context, endpoint string, req client.RunRequest) (*client.RunResponse, error)
	Poll(ctx context.Context, endpoint, taskID string) (*v1.Task, error)
	Cancel(ctx context.Context, endpoint, taskID string) error
}

// Submission is a validated client request accepted by Submit.
type Submission struct {
	Prompt    string
	Priority  int
	Metadata  map[string]interface{}
	TimeoutMs int
	Mode      v1.ExecutionMode
	AgentType string
}

// Config controls the manager's GC and reconciliation-poll cadence.
type Config struct {
	GCInterval     time.Duration
	MaxAge         time.Duration
	PollInterval   time.Duration
	PollBackoffMax time.Duration
}

// record is the manager's bookkeeping entry for one task.
type record struct {
	task     v1.Task
	workerID string
	endpoint string
}

// TerminalHook is invoked once a task reaches a terminal state, so other
// components (the SSE relay in particular) can react without polling.
type TerminalHook func(task v1.Task)

// Manager is the coordinator-side TaskManager.
type Manager struct {
	cfg      Config
	registry WorkerSelector
	client   DispatchClient
	logger   *logger.Logger

	mu    sync.RWMutex
	tasks map[string]*record
	polls *pollQueue

	onTerminal TerminalHook

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New returns a Manager bound to the given registry and dispatch client.
func New(cfg Config, registry WorkerSelector, client DispatchClient, log *logger.Logger) *Manager {
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = defaultGCInterval
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaultMaxAge
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PollBackoffMax <= 0 {
		cfg.PollBackoffMax = defaultPollBackoffMax
	}
	return &Manager{
		cfg:      cfg,
		registry: registry,
		client:   client,
		logger:   log.WithFields(zap.String("component", "task_manager")),
		tasks:    make(map[string]*record),
		polls:    newPollQueue(),
		stopCh:   make(chan struct{}),
	}
}

// OnTerminal registers the hook invoked whenever a task reaches a terminal
// state, from either the reconciliation poll or an explicit MarkTerminal
// call driven by the SSE relay.
func (m *Manager) OnTerminal(hook TerminalHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTerminal = hook
}

// Submit generates a task id, selects a worker, and dispatches the task.
// Returns apperrors.NoWorkers if no eligible worker exists, or
// apperrors.DispatchFailed if the chosen worker could not be reached.
func (m *Manager) Submit(ctx context.Context, id string, sub Submission) (*v1.Task, error) {
	workerID, ok := m.registry.SelectLeastLoaded()
	if !ok {
		return nil, apperrors.NoWorkers()
	}
	worker, ok := m.registry.Get(workerID)
	if !ok {
		return nil, apperrors.NoWorkers()
	}

	now := time.Now().UTC()
	resp, err := m.client.Dispatch(ctx, worker.Endpoint, client.RunRequest{
		Prompt:    sub.Prompt,
		Priority:  sub.Priority,
		Metadata:  sub.Metadata,
		TimeoutMs: sub.TimeoutMs,
		Mode:      sub.Mode,
		AgentType: sub.AgentType,
	})
	if err != nil {
		m.logger.Warn("dispatch failed", zap.String("worker_id", workerID), zap.Error(err))
		failed := v1.Task{
			ID:          id,
			Prompt:      sub.Prompt,
			Priority:    sub.Priority,
			Status:      v1.TaskStatusFailed,
			CreatedAt:   now,
			CompletedAt: &now,
			Result: &v1.TaskResult{
				Status:    v1.TaskStatusFailed,
				Error:     err.Error(),
				Retryable: false,
				EndedAt:   now,
			},
		}
		m.mu.Lock()
		m.tasks[id] = &record{task: failed}
		m.mu.Unlock()
		return nil, apperrors.DispatchFailed(workerID, err)
	}

	t := v1.Task{
		ID:             id,
		Prompt:         sub.Prompt,
		Priority:       sub.Priority,
		TimeoutMs:      sub.TimeoutMs,
		Metadata:       sub.Metadata,
		RequestedMode:  sub.Mode,
		Status:         v1.TaskStatusRunning,
		AssignedWorker: workerID,
		CreatedAt:      now,
		StartedAt:      &now,
	}
	_ = resp

	m.registry.IncrementActive(workerID)

	m.mu.Lock()
	m.tasks[id] = &record{task: t, workerID: workerID, endpoint: worker.Endpoint}
	m.polls.push(&pollEntry{
		taskID:     id,
		workerID:   workerID,
		endpoint:   worker.Endpoint,
		nextPollAt: time.Now().Add(m.cfg.PollInterval).UnixNano(),
		backoff:    int64(m.cfg.PollInterval),
	})
	m.mu.Unlock()

	return &t, nil
}

// Get returns a snapshot of a task's current state.
func (m *Manager) Get(taskID string) (v1.Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.tasks[taskID]
	if !ok {
		return v1.Task{}, false
	}
	return r.task, true
}

// List returns a snapshot of every tracked task.
func (m *Manager) List() []v1.Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]v1.Task, 0, len(m.tasks))
	for _, r := range m.tasks {
		out = append(out, r.task)
	}
	return out
}

// Endpoint returns the worker endpoint a task was dispatched to.
func (m *Manager) Endpoint(taskID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.tasks[taskID]
	if !ok || r.endpoint == "" {
		return "", false
	}
	return r.endpoint, true
}

// Cancel best-effort forwards a cancel to the assigned worker. Does not
// itself mark the task terminal; the worker's own terminal event (relayed
// via SSE, or observed by the next reconciliation poll) does that.
func (m *Manager) Cancel(ctx context.Context, taskID string) error {
	m.mu.RLock()
	r, ok := m.tasks[taskID]
	m.mu.RUnlock()
	if !ok {
		return apperrors.NotFound("task", taskID)
	}
	if r.task.Status.IsTerminal() {
		return nil
	}
	return m.client.Cancel(ctx, r.endpoint, taskID)
}

// MarkTerminal records a task's terminal outcome, as observed by the SSE
// relay, and decrements the owning worker's load counter. Idempotent:
// marking an already-terminal task is a no-op.
func (m *Manager) MarkTerminal(taskID string, status v1.TaskStatus, result *v1.TaskResult) {
	m.mu.Lock()
	r, ok := m.tasks[taskID]
	if !ok || r.task.Status.IsTerminal() {
		m.mu.Unlock()
		return
	}

	now := time.Now().UTC()
	r.task.Status = status
	r.task.CompletedAt = &now
	r.task.Result = result
	workerID := r.workerID
	m.polls.remove(taskID)
	hook := m.onTerminal
	snapshot := r.task
	m.mu.Unlock()

	if workerID != "" {
		m.registry.DecrementActive(workerID)
	}
	if hook != nil {
		hook(snapshot)
	}
}

// Start begins the reconciliation-poll and GC background loops.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(2)
	go m.reconcileLoop(ctx)
	go m.gcLoop(ctx)
}

// Stop ends both background loops and waits for them to exit.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Manager) reconcileLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.reconcileDue(ctx)
		}
	}
}

func (m *Manager) reconcileDue(ctx context.Context) {
	now := time.Now().UnixNano()

	m.mu.Lock()
	due := m.polls.popDue(now)
	m.mu.Unlock()

	for _, entry := range due {
		m.reconcileOne(ctx, entry)
	}
}

func (m *Manager) reconcileOne(ctx context.Context, entry *pollEntry) {
	m.mu.RLock()
	r, ok := m.tasks[entry.taskID]
	m.mu.RUnlock()
	if !ok || r.task.Status.IsTerminal() {
		return
	}

	polled, err := m.client.Poll(ctx, entry.endpoint, entry.taskID)
	if err != nil {
		m.logger.Warn("reconciliation poll failed", zap.String("task_id", entry.taskID), zap.Error(err))
		m.reschedule(entry)
		return
	}

	if polled.Status.IsTerminal() {
		m.MarkTerminal(entry.taskID, polled.Status, polled.Result)
		return
	}
	m.reschedule(entry)
}

func (m *Manager) reschedule(entry *pollEntry) {
	entry.backoff *= 2
	if entry.backoff > int64(m.cfg.PollBackoffMax) {
		entry.backoff = int64(m.cfg.PollBackoffMax)
	}
	entry.nextPollAt = time.Now().UnixNano() + entry.backoff

	m.mu.Lock()
	m.polls.push(entry)
	m.mu.Unlock()
}

func (m *Manager) gcLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.gcSweep()
		}
	}
}

func (m *Manager) gcSweep() {
	cutoff := time.Now().Add(-m.cfg.MaxAge)

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.tasks {
		if r.task.Status.IsTerminal() && r.task.CompletedAt != nil && r.task.CompletedAt.Before(cutoff) {
			delete(m.tasks, id)
		}
	}
}
