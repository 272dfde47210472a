// Package registry holds the coordinator's static worker set and keeps each
// worker's observed status and load counters current via periodic health
// probing.
package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/claudecluster/claudecluster/internal/common/logger"
	v1 "github.com/claudecluster/claudecluster/pkg/api/v1"
)

const (
	defaultHealthCheckInterval = 30 * time.Second
	defaultProbeTimeout        = 5 * time.Second
)

// Config controls the registry's probing cadence.
type Config struct {
	HealthCheckInterval time.Duration
	ProbeTimeout        time.Duration
}

// Registry is the coordinator's bookkeeping store for known workers.
type Registry struct {
	cfg    Config
	client *http.Client
	logger *logger.Logger

	mu      sync.RWMutex
	workers map[string]*v1.WorkerRecord
	order   []string // stable insertion order, for least-loaded tiebreaks

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New returns a Registry with no workers registered yet.
func New(cfg Config, log *logger.Logger) *Registry {
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = defaultHealthCheckInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	return &Registry{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.ProbeTimeout},
		logger:  log.WithFields(zap.String("component", "worker_registry")),
		workers: make(map[string]*v1.WorkerRecord),
		stopCh:  make(chan struct{}),
	}
}

// AddWorker registers a worker with the given id and endpoint. A worker
// added twice keeps its original insertion order and running counters.
func (r *Registry) AddWorker(id, endpoint string, maxTasks int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.workers[id]; ok {
		existing.Endpoint = endpoint
		existing.MaxTasks = maxTasks
		return
	}

	r.workers[id] = &v1.WorkerRecord{
		ID:       id,
		Endpoint: endpoint,
		Status:   v1.WorkerStatusOffline,
		MaxTasks: maxTasks,
	}
	r.order = append(r.order, id)
}

// RemoveWorker drops a worker from the registry entirely.
func (r *Registry) RemoveWorker(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns a copy of a worker's current record.
func (r *Registry) Get(id string) (v1.WorkerRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[id]
	if !ok {
		return v1.WorkerRecord{}, false
	}
	return *w, true
}

// List returns a snapshot of every known worker in insertion order.
func (r *Registry) List() []v1.WorkerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]v1.WorkerRecord, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.workers[id])
	}
	return out
}

// SelectLeastLoaded returns the id of the least-loaded eligible worker:
// status available, or busy with room under its max. Ties break by
// insertion order. Returns false if no worker qualifies.
func (r *Registry) SelectLeastLoaded() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	best := ""
	bestActive := -1
	for _, id := range r.order {
		w := r.workers[id]
		if !w.Status.Selectable() {
			continue
		}
		if w.Status == v1.WorkerStatusBusy && w.ActiveTasks >= w.MaxTasks {
			continue
		}
		if bestActive == -1 || w.ActiveTasks < bestActive {
			best = id
			bestActive = w.ActiveTasks
		}
	}
	if bestActive == -1 {
		return "", false
	}
	return best, true
}

// IncrementActive bumps a worker's active-task counter on dispatch and
// recomputes its status.
func (r *Registry) IncrementActive(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return
	}
	w.ActiveTasks++
	r.recomputeStatus(w)
}

// DecrementActive bumps a worker's active-task counter down on task
// terminal, clamped at zero, and recomputes its status.
func (r *Registry) DecrementActive(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return
	}
	if w.ActiveTasks > 0 {
		w.ActiveTasks--
	}
	r.recomputeStatus(w)
}

func (r *Registry) recomputeStatus(w *v1.WorkerRecord) {
	if w.Status == v1.WorkerStatusOffline || w.Status == v1.WorkerStatusError {
		return
	}
	if w.MaxTasks > 0 && w.ActiveTasks >= w.MaxTasks {
		w.Status = v1.WorkerStatusBusy
	} else {
		w.Status = v1.WorkerStatusAvailable
	}
}

// Start begins the periodic health-probe loop. Call Stop (or cancel ctx)
// to end it.
func (r *Registry) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.probeLoop(ctx)
}

// Stop ends the probe loop and waits for it to exit.
func (r *Registry) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Registry) probeLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("worker probe loop stopped (context cancelled)")
			return
		case <-r.stopCh:
			r.logger.Info("worker probe loop stopped")
			return
		case <-ticker.C:
			r.probeAll(ctx)
		}
	}
}

// probeAll issues a concurrent GET /health against every known worker.
func (r *Registry) probeAll(ctx context.Context) {
	ids := func() []string {
		r.mu.RLock()
		defer r.mu.RUnlock()
		ids := make([]string, 0, len(r.order))
		ids = append(ids, r.order...)
		return ids
	}()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			r.probeOne(ctx, id)
		}(id)
	}
	wg.Wait()
}

func (r *Registry) probeOne(ctx context.Context, id string) {
	r.mu.RLock()
	w, ok := r.workers[id]
	endpoint := ""
	if ok {
		endpoint = w.Endpoint
	}
	r.mu.RUnlock()
	if !ok {
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint+"/health", nil)
	if err != nil {
		r.markOffline(id)
		return
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("health probe failed", zap.String("worker_id", id), zap.Error(err))
		r.markOffline(id)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.logger.Warn("health probe non-2xx", zap.String("worker_id", id), zap.Int("status", resp.StatusCode))
		r.markOffline(id)
		return
	}

	var health v1.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		r.logger.Warn("health probe decode failed", zap.String("worker_id", id), zap.Error(err))
		r.markOffline(id)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok = r.workers[id]
	if !ok {
		return
	}
	w.Status = health.Status
	w.ActiveTasks = health.ActiveTasks
	w.Version = health.Version
	w.UptimeMs = health.UptimeMs
	w.Capabilities = health.Capabilities
	w.LastHealthCheck = time.Now().UTC()
}

func (r *Registry) markOffline(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return
	}
	w.Status = v1.WorkerStatusOffline
	w.LastHealthCheck = time.Now().UTC()
}
