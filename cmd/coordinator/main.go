package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/claudecluster/claudecluster/internal/common/config"
	"github.com/claudecluster/claudecluster/internal/common/logger"
	"github.com/claudecluster/claudecluster/internal/coordinator/api"
	"github.com/claudecluster/claudecluster/internal/coordinator/client"
	coordregistry "github.com/claudecluster/claudecluster/internal/coordinator/registry"
	coordsse "github.com/claudecluster/claudecluster/internal/coordinator/sse"
	"github.com/claudecluster/claudecluster/internal/coordinator/task"
	"github.com/claudecluster/claudecluster/internal/events/bus"
	v1 "github.com/claudecluster/claudecluster/pkg/api/v1"
)

// version is stamped into /health responses; overridable at build time with
// -ldflags "-X main.version=...".
var version = "dev"

// defaultWorkerMaxTasks is the concurrency ceiling assumed for a worker
// endpoint supplied only as a bare URL in configuration, absent a richer
// worker-discovery mechanism.
const defaultWorkerMaxTasks = 5

// Event subjects published on the shared event bus for out-of-band
// observers (a second coordinator replica, an external dashboard); the
// coordinator's own request/response path never depends on these.
const (
	subjectTaskTerminal     = "claudecluster.task.terminal"
	subjectRegistrySnapshot = "claudecluster.registry.snapshot"
)

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

	log.Info("starting coordinator")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus, err := bus.New(cfg.NATS, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize event bus: %v\n", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	workers := coordregistry.New(coordregistry.Config{
		HealthCheckInterval: cfg.Coordinator.HealthCheckInterval(),
	}, log)
	for i, endpoint := range cfg.Coordinator.WorkerEndpoints {
		workers.AddWorker(fmt.Sprintf("worker-%d", i), endpoint, defaultWorkerMaxTasks)
	}
	workers.Start(ctx)
	log.Info("worker registry started", zap.Int("workers", len(cfg.Coordinator.WorkerEndpoints)))

	dispatchClient := client.New(client.Config{
		DispatchTimeout: cfg.Coordinator.RequestTimeout(),
	})

	taskMgr := task.New(task.Config{
		MaxAge: cfg.Coordinator.TaskGCMaxAge(),
	}, workers, dispatchClient, log)
	taskMgr.OnTerminal(func(t v1.Task) {
		log.Info("task reached terminal state", zap.String("task_id", t.ID), zap.String("status", string(t.Status)))
		publishTaskTerminal(ctx, eventBus, t, log)
	})
	taskMgr.Start(ctx)
	defer taskMgr.Stop()

	go broadcastRegistrySnapshots(ctx, eventBus, workers, cfg.Coordinator.HealthCheckInterval(), log)

	relay := coordsse.NewManager(&http.Client{}, terminalObserver(taskMgr, log), log)
	defer relay.Shutdown()

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(taskMgr, workers, relay, version, log)

	port := cfg.Coordinator.Port
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Coordinator.Host, port),
		Handler:      router,
		ReadTimeout:  cfg.Coordinator.ReadTimeoutDuration(),
		WriteTimeout: cfg.Coordinator.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("coordinator http server listening", zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("coordinator http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down coordinator")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("coordinator http server shutdown error", zap.Error(err))
	}
	workers.Stop()

	log.Info("coordinator stopped")
}

// terminalObserver builds the SSEManager's TerminalObserver: it lets the
// task manager reconcile a task's terminal outcome from the relayed frame
// itself, rather than waiting on its own poll cycle.
func terminalObserver(taskMgr *task.Manager, log *logger.Logger) coordsse.TerminalObserver {
	return func(taskID, eventType string, raw json.RawMessage) {
		var payload struct {
			Complete *v1.CompletePayload `json:"complete"`
			Failed   *v1.FailedPayload   `json:"failed"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			log.Warn("failed to parse terminal frame", zap.String("task_id", taskID), zap.Error(err))
			return
		}

		switch eventType {
		case string(v1.SSEEventComplete):
			if payload.Complete != nil {
				result := payload.Complete.Result
				taskMgr.MarkTerminal(taskID, result.Status, &result)
			}
		case string(v1.SSEEventFailed):
			if payload.Failed != nil {
				taskMgr.MarkTerminal(taskID, v1.TaskStatusFailed, &v1.TaskResult{
					Status:    v1.TaskStatusFailed,
					Error:     payload.Failed.Error,
					Retryable: payload.Failed.Retryable,
					EndedAt:   time.Now().UTC(),
				})
			}
		}
	}
}

// publishTaskTerminal notifies out-of-band observers that a task reached a
// terminal state. Publish failures are logged and otherwise ignored: the
// event bus is a side channel, never load-bearing for the request/response
// path.
func publishTaskTerminal(ctx context.Context, eventBus bus.EventBus, t v1.Task, log *logger.Logger) {
	event := bus.NewEvent(subjectTaskTerminal, "coordinator", map[string]interface{}{
		"taskId":     t.ID,
		"status":     string(t.Status),
		"assignedTo": t.AssignedWorker,
	})
	if err := eventBus.Publish(ctx, subjectTaskTerminal, event); err != nil {
		log.Warn("failed to publish task terminal event", zap.String("task_id", t.ID), zap.Error(err))
	}
}

// broadcastRegistrySnapshots periodically publishes the worker registry's
// aggregate state so other observers can track worker availability without
// polling /workers directly.
func broadcastRegistrySnapshots(ctx context.Context, eventBus bus.EventBus, workers *coordregistry.Registry, interval time.Duration, log *logger.Logger) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			records := workers.List()
			selectable := 0
			for _, w := range records {
				if w.Status.Selectable() {
					selectable++
				}
			}
			event := bus.NewEvent(subjectRegistrySnapshot, "coordinator", map[string]interface{}{
				"totalWorkers":      len(records),
				"selectableWorkers": selectable,
			})
			if err := eventBus.Publish(ctx, subjectRegistrySnapshot, event); err != nil {
				log.Warn("failed to publish registry snapshot event", zap.Error(err))
			}
		}
	}
}
