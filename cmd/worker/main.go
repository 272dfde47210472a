package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/claudecluster/claudecluster/internal/common/config"
	"github.com/claudecluster/claudecluster/internal/common/logger"
	"github.com/claudecluster/claudecluster/internal/events/bus"
	"github.com/claudecluster/claudecluster/internal/worker/api"
	"github.com/claudecluster/claudecluster/internal/worker/credentials"
	"github.com/claudecluster/claudecluster/internal/worker/debugws"
	"github.com/claudecluster/claudecluster/internal/worker/dockerclient"
	"github.com/claudecluster/claudecluster/internal/worker/engine"
	"github.com/claudecluster/claudecluster/internal/worker/executor"
	"github.com/claudecluster/claudecluster/internal/worker/provider"
	"github.com/claudecluster/claudecluster/internal/worker/registry"
	v1 "github.com/claudecluster/claudecluster/pkg/api/v1"
)

// subjectWorkerLifecycle carries start/stop notifications for out-of-band
// observers; the worker's own request/response path never depends on it.
const subjectWorkerLifecycle = "claudecluster.worker.lifecycle"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig(cfg.Logging))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	workerID := cfg.Worker.WorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}
	log.Info("starting worker", zap.String("worker_id", workerID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus, err := bus.New(cfg.NATS, log)
	if err != nil {
		log.Fatal("failed to initialize event bus", zap.Error(err))
	}
	defer eventBus.Close()
	publishWorkerLifecycle(ctx, eventBus, workerID, "started", log)

	agents := registry.New(log)
	agents.LoadDefaults()
	log.Info("loaded agent type registry", zap.Int("agent_types", len(agents.List())))

	credsMgr := credentials.NewManager(credentials.NewEnvProvider("CLAUDECLUSTER_"))
	if credsFile := os.Getenv("CLAUDECLUSTER_CREDENTIALS_FILE"); credsFile != "" {
		credsMgr = credentials.NewManager(
			credentials.NewEnvProvider("CLAUDECLUSTER_"),
			credentials.NewFileProvider(credsFile),
		)
	}

	providers := make(map[v1.ExecutionMode]provider.ExecutionProvider)

	processPool, err := buildProcessPool(ctx, cfg, agents, credsMgr, log)
	if err != nil {
		log.Fatal("failed to initialize process pool", zap.Error(err))
	}
	providers[v1.ExecutionModeProcessPool] = processPool

	if cfg.Worker.FeatureFlags.EnableContainerMode && cfg.Docker.Enabled {
		dockerClient, err := dockerclient.NewClient(cfg.Docker, log)
		if err == nil {
			err = dockerClient.Ping(ctx)
		}
		if err != nil {
			log.Warn("docker unavailable, container provider not registered", zap.Error(err))
		} else {
			log.Info("connected to docker daemon")
		}

		containerPool := provider.NewContainerPoolProvider(provider.ContainerPoolConfig{
			ExecConfig: executor.ContainerExecConfig{
				Image:           cfg.Worker.Container.Image,
				NetworkMode:     cfg.Worker.Container.NetworkMode,
				MemoryBytes:     cfg.Worker.Container.ResourceLimits.MemoryBytes,
				CPUShares:       cfg.Worker.Container.ResourceLimits.CPUShares,
				SecurityOptions: cfg.Worker.Container.SecurityOptions,
				AutoRemove:      cfg.Worker.Container.AutoRemove,
				ReadOnlyRootfs:  cfg.Worker.Container.ReadOnlyRootfs,
			},
			Docker: dockerClient,
		}, log)
		if err == nil {
			providers[v1.ExecutionModeContainerAgentic] = containerPool
		}
	}

	unified := provider.NewUnifiedProvider(provider.UnifiedConfig{
		DefaultMode:       v1.ExecutionMode(cfg.Worker.ExecutionMode),
		AllowModeOverride: cfg.Worker.FeatureFlags.AllowModeOverride,
	}, providers, log)

	eng := engine.New(engine.Config{
		WorkerID:           workerID,
		MaxConcurrentTasks: cfg.Worker.MaxConcurrentTasks,
		DefaultTimeout:     cfg.Worker.SessionTimeout(),
		MaxTimeout:         cfg.Worker.SessionTimeout(),
	}, unified, log)

	debugHub := debugws.NewHub(eng, log)
	go debugHub.Run(ctx)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(workerID, eng, agents, debugHub, log)

	port := cfg.Worker.Port
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Worker.Host, port),
		Handler:      router,
		ReadTimeout:  cfg.Worker.ReadTimeoutDuration(),
		WriteTimeout: cfg.Worker.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("worker http server listening", zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("worker http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker")
	publishWorkerLifecycle(context.Background(), eventBus, workerID, "stopping", log)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("worker http server shutdown error", zap.Error(err))
	}
	if err := unified.Cleanup(shutdownCtx); err != nil {
		log.Error("provider cleanup error", zap.Error(err))
	}

	log.Info("worker stopped")
}

// buildProcessPool wires the process-pool provider to launch the default
// agent type, resolving its required environment from the credentials
// manager before each spawn.
func buildProcessPool(ctx context.Context, cfg *config.Config, agents *registry.Registry, creds *credentials.Manager, log *logger.Logger) (*provider.ProcessPoolProvider, error) {
	agentTypes := agents.List()
	if len(agentTypes) == 0 {
		return nil, fmt.Errorf("no agent types registered, cannot warm process pool")
	}
	agentType := agentTypes[0]

	factory := func(id string) (*executor.ProcessExecutor, error) {
		env, err := creds.ResolveAll(ctx, agentType.RequiredEnv)
		if err != nil {
			return nil, fmt.Errorf("resolve credentials for agent type %s: %w", agentType.ID, err)
		}
		envSlice := make([]string, 0, len(env))
		for k, v := range env {
			envSlice = append(envSlice, k+"="+v)
		}
		processTimeout := time.Duration(cfg.Worker.ProcessPool.ProcessTimeoutMs) * time.Millisecond
		return executor.NewProcessExecutor(id, executor.ProcessConfig{
			Command:        agentType.Command,
			Args:           agentType.Args,
			WorkingDir:     agentType.WorkingDir,
			Env:            envSlice,
			IdleTimeout:    outputIdleTimeout(processTimeout),
			ProcessTimeout: processTimeout,
		}, log)
	}

	return provider.NewProcessPoolProvider(provider.ProcessPoolConfig{
		Min:             cfg.Worker.ProcessPool.Min,
		Max:             cfg.Worker.ProcessPool.Max,
		IdleTimeout:     time.Duration(cfg.Worker.ProcessPool.IdleTimeoutMs) * time.Millisecond,
		ExecutorFactory: factory,
	}, log)
}

// outputIdleTimeout derives the per-task output-silence window from the
// configured process deadline: a fixed fraction of it, clamped to a sane
// range so it never approaches processTimeout (or, worse, the unrelated
// session deadline) closely enough to race a fast task's completion.
func outputIdleTimeout(processTimeout time.Duration) time.Duration {
	const (
		fraction = 20
		floor    = 2 * time.Second
		ceiling  = 30 * time.Second
	)
	if processTimeout <= 0 {
		return floor
	}
	idle := processTimeout / fraction
	if idle < floor {
		return floor
	}
	if idle > ceiling {
		return ceiling
	}
	return idle
}

// publishWorkerLifecycle notifies out-of-band observers (e.g. a coordinator
// tracking worker fleet health independently of /health polling) of a
// worker's start/stop transitions. Publish failures are logged and
// otherwise ignored.
func publishWorkerLifecycle(ctx context.Context, eventBus bus.EventBus, workerID, phase string, log *logger.Logger) {
	event := bus.NewEvent(subjectWorkerLifecycle, workerID, map[string]interface{}{
		"workerId": workerID,
		"phase":    phase,
	})
	if err := eventBus.Publish(ctx, subjectWorkerLifecycle, event); err != nil {
		log.Warn("failed to publish worker lifecycle event", zap.String("phase", phase), zap.Error(err))
	}
}
