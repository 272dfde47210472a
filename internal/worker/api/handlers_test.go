package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/claudecluster/claudecluster/internal/common/logger"
	"github.com/claudecluster/claudecluster/internal/worker/engine"
	"github.com/claudecluster/claudecluster/internal/worker/executor"
	"github.com/claudecluster/claudecluster/internal/worker/provider"
	"github.com/claudecluster/claudecluster/internal/worker/registry"
	v1 "github.com/claudecluster/claudecluster/pkg/api/v1"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("failed to build test logger: %v", err)
	}
	return log
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := newTestLogger(t)

	pool, err := provider.NewProcessPoolProvider(provider.ProcessPoolConfig{
		Min: 1, Max: 2,
		ExecutorFactory: func(id string) (*executor.ProcessExecutor, error) {
			return executor.NewProcessExecutor(id, executor.ProcessConfig{Command: "cat", IdleTimeout: 2 * time.Second}, log)
		},
	}, log)
	if err != nil {
		t.Fatalf("failed to build process pool: %v", err)
	}

	unified := provider.NewUnifiedProvider(provider.UnifiedConfig{
		DefaultMode: v1.ExecutionModeProcessPool,
	}, map[v1.ExecutionMode]provider.ExecutionProvider{
		v1.ExecutionModeProcessPool: pool,
	}, log)

	eng := engine.New(engine.Config{WorkerID: "worker-test", MaxConcurrentTasks: 2, DefaultTimeout: 2 * time.Second}, unified, log)
	agents := registry.New(log)
	agents.LoadDefaults()

	return NewRouter("worker-test", eng, agents, nil, log)
}

func TestHealthReportsAvailable(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp v1.HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != v1.WorkerStatusAvailable {
		t.Fatalf("expected available, got %s", resp.Status)
	}
}

func TestRunRejectsUnknownAgentType(t *testing.T) {
	router := newTestRouter(t)

	body, _ := json.Marshal(RunRequest{Prompt: "hi", AgentType: "does-not-exist"})
	req := httptest.NewRequest(http.MethodPost, "/run", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRunThenGetTaskReachesTerminal(t *testing.T) {
	router := newTestRouter(t)

	body, _ := json.Marshal(RunRequest{Prompt: "hello"})
	req := httptest.NewRequest(http.MethodPost, "/run", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var accepted RunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &accepted); err != nil {
		t.Fatalf("failed to decode run response: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		getReq := httptest.NewRequest(http.MethodGet, "/tasks/"+accepted.TaskID, nil)
		getRec := httptest.NewRecorder()
		router.ServeHTTP(getRec, getReq)

		var task v1.Task
		if err := json.Unmarshal(getRec.Body.Bytes(), &task); err != nil {
			t.Fatalf("failed to decode task: %v", err)
		}
		if task.Status.IsTerminal() {
			if task.Status != v1.TaskStatusCompleted {
				t.Fatalf("expected completed, got %s", task.Status)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for task completion")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestGetTaskUnknownReturns404(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/tasks/does-not-exist", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
