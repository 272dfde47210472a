package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/claudecluster/claudecluster/internal/common/logger"
	"github.com/claudecluster/claudecluster/internal/worker/executor"
	v1 "github.com/claudecluster/claudecluster/pkg/api/v1"
)

// durationRingSize bounds the average-duration tracking to the last 100
// completions, per the pool's reporting contract.
const durationRingSize = 100

// ProcessPoolConfig configures the bounded process-pool provider.
type ProcessPoolConfig struct {
	Min             int
	Max             int
	IdleTimeout     time.Duration
	ExecutorFactory func(id string) (*executor.ProcessExecutor, error)
}

// ProcessPoolProvider maintains a bounded set of reusable process-backed
// executors, reusing an idle one on Acquire and creating new ones up to Max.
type ProcessPoolProvider struct {
	cfg ProcessPoolConfig
	log *logger.Logger

	mu       sync.Mutex
	byID     map[string]*executor.ProcessExecutor
	idle     map[string]bool
	lastUsed map[string]time.Time

	durations     [durationRingSize]int64
	durationCount int
	durationNext  int
}

// NewProcessPoolProvider returns a provider with its minimum executors
// already warmed.
func NewProcessPoolProvider(cfg ProcessPoolConfig, log *logger.Logger) (*ProcessPoolProvider, error) {
	p := &ProcessPoolProvider{
		cfg:      cfg,
		log:      log.WithFields(zap.String("component", "process_pool_provider")),
		byID:     make(map[string]*executor.ProcessExecutor),
		idle:     make(map[string]bool),
		lastUsed: make(map[string]time.Time),
	}

	for i := 0; i < cfg.Min; i++ {
		if _, err := p.spawn(); err != nil {
			return nil, fmt.Errorf("failed to warm process pool: %w", err)
		}
	}

	return p, nil
}

func (p *ProcessPoolProvider) spawn() (*executor.ProcessExecutor, error) {
	id := uuid.New().String()
	exec, err := p.cfg.ExecutorFactory(id)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.byID[id] = exec
	p.idle[id] = true
	p.lastUsed[id] = time.Now().UTC()
	p.mu.Unlock()
	return exec, nil
}

// Mode reports the process-pool execution mode.
func (p *ProcessPoolProvider) Mode() v1.ExecutionMode { return v1.ExecutionModeProcessPool }

// Acquire reuses an idle executor, or creates a new one if below Max.
func (p *ProcessPoolProvider) Acquire(ctx context.Context, task *v1.Task) (executor.Executor, error) {
	p.mu.Lock()
	for id, isIdle := range p.idle {
		if isIdle && p.byID[id].IsHealthy() {
			p.idle[id] = false
			exec := p.byID[id]
			p.mu.Unlock()
			return exec, nil
		}
	}
	canGrow := len(p.byID) < p.cfg.Max
	p.mu.Unlock()

	if !canGrow {
		return nil, ErrNoCapacity
	}

	exec, err := p.spawn()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.idle[exec.ID()] = false
	p.mu.Unlock()

	return exec, nil
}

// Release returns the executor to the idle pool, then reaps: every idle
// executor unused for longer than IdleTimeout is terminated and removed
// before Release returns, so Release can block on process teardown.
func (p *ProcessPoolProvider) Release(ctx context.Context, exec executor.Executor) error {
	id := exec.ID()

	p.mu.Lock()
	if _, ok := p.byID[id]; !ok {
		p.mu.Unlock()
		return fmt.Errorf("release: unknown executor %s", id)
	}
	p.idle[id] = true
	p.lastUsed[id] = time.Now().UTC()
	p.mu.Unlock()

	p.reapIdleExpired(ctx)
	return nil
}

// RecordCompletionDuration feeds one observed task duration into the
// rolling average window. The engine does not call it, so AvgDurationMs
// stays 0 unless another caller feeds durations in.
func (p *ProcessPoolProvider) RecordCompletionDuration(ms int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.durations[p.durationNext] = ms
	p.durationNext = (p.durationNext + 1) % durationRingSize
	if p.durationCount < durationRingSize {
		p.durationCount++
	}
}

func (p *ProcessPoolProvider) avgDurationMs() int64 {
	if p.durationCount == 0 {
		return 0
	}
	var sum int64
	for i := 0; i < p.durationCount; i++ {
		sum += p.durations[i]
	}
	return sum / int64(p.durationCount)
}

func (p *ProcessPoolProvider) reapIdleExpired(ctx context.Context) {
	if p.cfg.IdleTimeout <= 0 {
		return
	}

	p.mu.Lock()
	var toReap []string
	now := time.Now()
	for id, isIdle := range p.idle {
		if !isIdle {
			continue
		}
		if len(p.byID) <= p.cfg.Min {
			break
		}
		if now.Sub(p.lastUsed[id]) > p.cfg.IdleTimeout {
			toReap = append(toReap, id)
		}
	}
	p.mu.Unlock()

	for _, id := range toReap {
		p.mu.Lock()
		exec, ok := p.byID[id]
		if ok {
			delete(p.byID, id)
			delete(p.idle, id)
			delete(p.lastUsed, id)
		}
		p.mu.Unlock()
		if ok {
			if err := exec.Terminate(ctx); err != nil {
				p.log.Warn("failed to terminate idle-expired executor", zap.String("executor_id", id), zap.Error(err))
			}
		}
	}
}

// Cleanup terminates every tracked executor. Idempotent.
func (p *ProcessPoolProvider) Cleanup(ctx context.Context) error {
	p.mu.Lock()
	ids := make([]string, 0, len(p.byID))
	for id := range p.byID {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.mu.Lock()
		exec, ok := p.byID[id]
		if ok {
			delete(p.byID, id)
			delete(p.idle, id)
			delete(p.lastUsed, id)
		}
		p.mu.Unlock()
		if ok {
			if err := exec.Terminate(ctx); err != nil {
				p.log.Warn("cleanup: failed to terminate executor", zap.String("executor_id", id), zap.Error(err))
			}
		}
	}
	return nil
}

// Stats reports the pool's current population and average task duration.
func (p *ProcessPoolProvider) Stats() v1.ProviderStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	active := 0
	idle := 0
	for id := range p.byID {
		if p.idle[id] {
			idle++
		} else {
			active++
		}
	}

	return v1.ProviderStats{
		Mode:           v1.ExecutionModeProcessPool,
		Active:         active,
		Idle:           idle,
		TotalExecutors: len(p.byID),
		AvgDurationMs:  p.avgDurationMs(),
	}
}

// IsHealthy always reports true, whatever the number of tracked executors
// (an empty pool with Min==0 is considered healthy but idle-capacity-only).
func (p *ProcessPoolProvider) IsHealthy() bool {
	return true
}
