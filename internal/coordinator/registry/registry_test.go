package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/claudecluster/claudecluster/internal/common/logger"
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

func TestSelectLeastLoadedPrefersFewerActiveTasks(t *testing.T) {
	r := New(Config{}, newTestLogger(t))
	r.AddWorker("w1", "http://w1", 5)
	r.AddWorker("w2", "http://w2", 5)

	r.mu.Lock()
	r.workers["w1"].Status = v1.WorkerStatusAvailable
	r.workers["w1"].ActiveTasks = 3
	r.workers["w2"].Status = v1.WorkerStatusAvailable
	r.workers["w2"].ActiveTasks = 1
	r.mu.Unlock()

	id, ok := r.SelectLeastLoaded()
	if !ok || id != "w2" {
		t.Fatalf("expected w2 selected, got %q (ok=%v)", id, ok)
	}
}

func TestSelectLeastLoadedExcludesOfflineAndFull(t *testing.T) {
	r := New(Config{}, newTestLogger(t))
	r.AddWorker("w1", "http://w1", 1)
	r.AddWorker("w2", "http://w2", 1)

	r.mu.Lock()
	r.workers["w1"].Status = v1.WorkerStatusOffline
	r.workers["w2"].Status = v1.WorkerStatusBusy
	r.workers["w2"].ActiveTasks = 1
	r.mu.Unlock()

	if _, ok := r.SelectLeastLoaded(); ok {
		t.Fatal("expected no eligible worker")
	}
}

func TestIncrementDecrementActiveRecomputesStatus(t *testing.T) {
	r := New(Config{}, newTestLogger(t))
	r.AddWorker("w1", "http://w1", 2)
	r.mu.Lock()
	r.workers["w1"].Status = v1.WorkerStatusAvailable
	r.mu.Unlock()

	r.IncrementActive("w1")
	r.IncrementActive("w1")
	w, _ := r.Get("w1")
	if w.Status != v1.WorkerStatusBusy || w.ActiveTasks != 2 {
		t.Fatalf("expected busy/2, got %s/%d", w.Status, w.ActiveTasks)
	}

	r.DecrementActive("w1")
	w, _ = r.Get("w1")
	if w.Status != v1.WorkerStatusAvailable || w.ActiveTasks != 1 {
		t.Fatalf("expected available/1, got %s/%d", w.Status, w.ActiveTasks)
	}

	r.DecrementActive("w1")
	r.DecrementActive("w1")
	w, _ = r.Get("w1")
	if w.ActiveTasks != 0 {
		t.Fatalf("expected active tasks clamped at 0, got %d", w.ActiveTasks)
	}
}

func TestProbeAllUpdatesFromHealthyWorker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(v1.HealthResponse{
			Status:      v1.WorkerStatusAvailable,
			ActiveTasks: 2,
			Version:     "test-1",
		})
	}))
	defer server.Close()

	r := New(Config{ProbeTimeout: time.Second}, newTestLogger(t))
	r.AddWorker("w1", server.URL, 5)

	r.probeAll(context.Background())

	w, _ := r.Get("w1")
	if w.Status != v1.WorkerStatusAvailable || w.ActiveTasks != 2 || w.Version != "test-1" {
		t.Fatalf("unexpected record after probe: %+v", w)
	}
}

func TestProbeAllMarksOfflineOnFailure(t *testing.T) {
	r := New(Config{ProbeTimeout: 100 * time.Millisecond}, newTestLogger(t))
	r.AddWorker("w1", "http://127.0.0.1:0", 5)

	r.probeAll(context.Background())

	w, _ := r.Get("w1")
	if w.Status != v1.WorkerStatusOffline {
		t.Fatalf("expected offline after unreachable probe, got %s", w.Status)
	}
}
