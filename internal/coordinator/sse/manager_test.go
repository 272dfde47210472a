package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/claudecluster/claudecluster/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("failed to build test logger: %v", err)
	}
	return log
}

func TestSubscribeRelaysAndClosesOnComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		fmt.Fprint(w, "event: progress\ndata: {\"message\":\"step1\"}\n\n")
		if flusher != nil {
			flusher.Flush()
		}
		fmt.Fprint(w, "event: complete\ndata: {\"status\":\"completed\"}\n\n")
	}))
	defer server.Close()

	var terminalSeen string
	m := NewManager(server.Client(), func(taskID, eventType string, raw json.RawMessage) {
		terminalSeen = taskID
	}, newTestLogger(t))

	ch, connectedAt, unsub := m.Subscribe("task-1", server.URL)
	defer unsub()
	if connectedAt.IsZero() {
		t.Fatal("expected non-zero connection time")
	}

	var events []Envelope
	deadline := time.After(3 * time.Second)
loop:
	for {
		select {
		case env, open := <-ch:
			if !open {
				break loop
			}
			events = append(events, env)
		case <-deadline:
			t.Fatal("timed out waiting for relayed events")
		}
	}

	if len(events) < 2 {
		t.Fatalf("expected at least progress + complete events, got %d: %+v", len(events), events)
	}
	if events[0].Source != "worker" || events[0].RelayedBy != "mcp-server" {
		t.Fatalf("expected wrapped envelope provenance, got %+v", events[0])
	}
	if terminalSeen != "task-1" {
		t.Fatalf("expected terminal observer invoked for task-1, got %q", terminalSeen)
	}
}
