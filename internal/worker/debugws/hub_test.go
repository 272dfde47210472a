package debugws

import (
	"context"
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

type fakeSource struct {
	ch chan v1.Envelope
}

func (f *fakeSource) Subscribe(taskID string) (<-chan v1.Envelope, func(), bool) {
	if taskID != "task-1" {
		return nil, nil, false
	}
	return f.ch, func() {}, true
}

func TestHubRelaysEventsToSubscribedClient(t *testing.T) {
	source := &fakeSource{ch: make(chan v1.Envelope, 4)}
	log := newTestLogger(t)
	hub := NewHub(source, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := &Client{ID: "client-1", taskIDs: make(map[string]bool), send: make(chan []byte, 8), hub: hub, logger: log}
	hub.Register(client)
	time.Sleep(10 * time.Millisecond)

	client.Subscribe("task-1")
	time.Sleep(10 * time.Millisecond)

	source.ch <- v1.Envelope{TaskID: "task-1", Type: v1.SSEEventProgress}

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Fatal("expected non-empty relayed frame")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for relayed event")
	}
}

func TestHubUnsubscribeStopsRelay(t *testing.T) {
	source := &fakeSource{ch: make(chan v1.Envelope, 4)}
	log := newTestLogger(t)
	hub := NewHub(source, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := &Client{ID: "client-1", taskIDs: make(map[string]bool), send: make(chan []byte, 8), hub: hub, logger: log}
	hub.Register(client)
	time.Sleep(10 * time.Millisecond)

	client.Subscribe("task-1")
	time.Sleep(10 * time.Millisecond)
	client.Unsubscribe("task-1")
	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	_, relaying := hub.relayStop["task-1"]
	hub.mu.RUnlock()
	if relaying {
		t.Fatal("expected relay to stop once the last subscriber unsubscribed")
	}
}

func TestClientCountTracksRegistration(t *testing.T) {
	source := &fakeSource{ch: make(chan v1.Envelope, 1)}
	log := newTestLogger(t)
	hub := NewHub(source, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := &Client{ID: "client-1", taskIDs: make(map[string]bool), send: make(chan []byte, 8), hub: hub, logger: log}
	hub.Register(client)
	time.Sleep(10 * time.Millisecond)
	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 registered client, got %d", hub.ClientCount())
	}

	hub.Unregister(client)
	time.Sleep(10 * time.Millisecond)
	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 registered clients after unregister, got %d", hub.ClientCount())
	}
}
