package provider

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/claudecluster/claudecluster/internal/common/logger"
	"github.com/claudecluster/claudecluster/internal/worker/dockerclient"
	"github.com/claudecluster/claudecluster/internal/worker/executor"
	v1 "github.com/claudecluster/claudecluster/pkg/api/v1"
)

// ContainerPoolConfig configures the container provider.
type ContainerPoolConfig struct {
	ExecConfig executor.ContainerExecConfig
	Docker     *dockerclient.Client
}

// ContainerPoolProvider creates a fresh executor on every Acquire and
// always terminates it on Release; it tracks the active set so Cleanup
// can tear down every in-flight container on shutdown.
type ContainerPoolProvider struct {
	cfg ContainerPoolConfig
	log *logger.Logger

	mu     sync.Mutex
	active map[string]*executor.ContainerExecutor
}

// NewContainerPoolProvider returns an empty container provider.
func NewContainerPoolProvider(cfg ContainerPoolConfig, log *logger.Logger) *ContainerPoolProvider {
	return &ContainerPoolProvider{
		cfg:    cfg,
		log:    log.WithFields(zap.String("component", "container_pool_provider")),
		active: make(map[string]*executor.ContainerExecutor),
	}
}

// Mode reports the container execution mode.
func (c *ContainerPoolProvider) Mode() v1.ExecutionMode { return v1.ExecutionModeContainerAgentic }

// Acquire creates a new one-shot container executor.
func (c *ContainerPoolProvider) Acquire(ctx context.Context, task *v1.Task) (executor.Executor, error) {
	if c.cfg.Docker == nil {
		return nil, &ErrConfigurationError{Reason: "docker client not configured"}
	}
	if err := c.cfg.Docker.Ping(ctx); err != nil {
		return nil, err // transient: container runtime unreachable
	}

	id := uuid.New().String()
	exec := executor.NewContainerExecutor(id, c.cfg.ExecConfig, c.cfg.Docker, c.log)

	c.mu.Lock()
	c.active[id] = exec
	c.mu.Unlock()

	return exec, nil
}

// Release always terminates the container executor and drops it from the
// active set.
func (c *ContainerPoolProvider) Release(ctx context.Context, exec executor.Executor) error {
	id := exec.ID()

	c.mu.Lock()
	delete(c.active, id)
	c.mu.Unlock()

	if err := exec.Terminate(ctx); err != nil {
		c.log.Warn("release: failed to terminate container executor", zap.String("executor_id", id), zap.Error(err))
		return err
	}
	return nil
}

// Cleanup terminates every active container executor. Errors are logged
// and never prevent shutdown from completing.
func (c *ContainerPoolProvider) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	execs := make([]*executor.ContainerExecutor, 0, len(c.active))
	for _, exec := range c.active {
		execs = append(execs, exec)
	}
	c.active = make(map[string]*executor.ContainerExecutor)
	c.mu.Unlock()

	for _, exec := range execs {
		if err := exec.Terminate(ctx); err != nil {
			c.log.Warn("cleanup: failed to terminate container executor", zap.String("executor_id", exec.ID()), zap.Error(err))
		}
	}
	return nil
}

// Stats reports the number of active container executors (Idle is always
// 0). It carries no resource totals; per-container limits are not summed.
func (c *ContainerPoolProvider) Stats() v1.ProviderStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return v1.ProviderStats{
		Mode:           v1.ExecutionModeContainerAgentic,
		Active:         len(c.active),
		Idle:           0,
		TotalExecutors: len(c.active),
	}
}

// IsHealthy reports whether the Docker daemon backing this provider is
// configured. Liveness itself is checked per-Acquire via Ping.
func (c *ContainerPoolProvider) IsHealthy() bool {
	return c.cfg.Docker != nil
}
