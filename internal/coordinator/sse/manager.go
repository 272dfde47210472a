// Package sse implements the coordinator-side SSEManager: for each task a
// client subscribes to, it opens a single downstream SSE connection to the
// assigned worker, parses the frames, and fans a coordinator-wrapped
// envelope out to every subscribed client.
package sse

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/claudecluster/claudecluster/internal/common/logger"
)

// Envelope is what every subscribed client receives: the worker's frame,
// wrapped with relay provenance fields.
type Envelope struct {
	Source       string          `json:"source"`
	RelayedBy    string          `json:"relayedBy"`
	MCPTimestamp time.Time       `json:"mcpTimestamp"`
	Event        string          `json:"event"`
	Data         json.RawMessage `json:"data"`
	RawData      string          `json:"rawData,omitempty"`
}

// terminalEventTypes are the worker event names that end a task's stream.
var terminalEventTypes = map[string]bool{
	"complete": true,
	"failed":   true,
}

// TerminalObserver is invoked once per task the first time a terminal frame
// is relayed, letting the coordinator's TaskManager reconcile without
// waiting on its own poll cycle.
type TerminalObserver func(taskID string, eventType string, rawData json.RawMessage)

// subscriber is one client attached to a task's fan-out.
type subscriber struct {
	id          string
	ch          chan Envelope
	connectedAt time.Time
}

// taskStream is the single downstream connection and its fan-out set for
// one task.
type taskStream struct {
	taskID string
	mu     sync.Mutex
	subs   map[string]*subscriber
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager coordinates one downstream-per-task against many client
// subscribers.
type Manager struct {
	http     *http.Client
	logger   *logger.Logger
	observer TerminalObserver

	mu      sync.Mutex
	streams map[string]*taskStream
}

// NewManager returns a Manager with no active downstreams.
func NewManager(httpClient *http.Client, observer TerminalObserver, log *logger.Logger) *Manager {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Manager{
		http:     httpClient,
		logger:   log.WithFields(zap.String("component", "sse_manager")),
		observer: observer,
		streams:  make(map[string]*taskStream),
	}
}

// Subscribe attaches a new client to taskID's event stream, opening the
// downstream connection to endpoint if this is the first subscriber.
// Returns the client's envelope channel, its connection time, and an
// unsubscribe function.
func (m *Manager) Subscribe(taskID, endpoint string) (<-chan Envelope, time.Time, func()) {
	m.mu.Lock()
	ts, ok := m.streams[taskID]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		ts = &taskStream{
			taskID: taskID,
			subs:   make(map[string]*subscriber),
			cancel: cancel,
			done:   make(chan struct{}),
		}
		m.streams[taskID] = ts
		go m.runDownstream(ctx, ts, endpoint)
	}
	m.mu.Unlock()

	sub := &subscriber{id: uuid.New().String(), ch: make(chan Envelope, 64), connectedAt: time.Now().UTC()}
	ts.mu.Lock()
	ts.subs[sub.id] = sub
	ts.mu.Unlock()

	unsubscribe := func() {
		ts.mu.Lock()
		delete(ts.subs, sub.id)
		remaining := len(ts.subs)
		ts.mu.Unlock()

		if remaining == 0 {
			m.closeStream(taskID, ts)
		}
	}

	return sub.ch, sub.connectedAt, unsubscribe
}

func (m *Manager) closeStream(taskID string, ts *taskStream) {
	m.mu.Lock()
	if current, ok := m.streams[taskID]; ok && current == ts {
		delete(m.streams, taskID)
	}
	m.mu.Unlock()
	ts.cancel()
}

func (m *Manager) runDownstream(ctx context.Context, ts *taskStream, endpoint string) {
	defer close(ts.done)

	frames := make(chan Frame, 64)
	errCh := make(chan error, 1)
	go func() {
		errCh <- openDownstream(ctx, m.http, endpoint, ts.taskID, frames)
		close(frames)
	}()

	for frame := range frames {
		m.relay(ts, frame)
		if terminalEventTypes[frame.Event] {
			break
		}
	}

	if err := <-errCh; err != nil && ctx.Err() == nil {
		m.logger.Warn("downstream sse closed with error", zap.String("task_id", ts.taskID), zap.Error(err))
	}

	m.broadcastFinal(ts)
	time.Sleep(1 * time.Second)
	m.closeAllSubs(ts)

	time.AfterFunc(5*time.Second, func() {
		m.mu.Lock()
		if current, ok := m.streams[ts.taskID]; ok && current == ts {
			delete(m.streams, ts.taskID)
		}
		m.mu.Unlock()
	})
}

func (m *Manager) relay(ts *taskStream, frame Frame) {
	env := Envelope{
		Source:       "worker",
		RelayedBy:    "mcp-server",
		MCPTimestamp: time.Now().UTC(),
		Event:        frame.Event,
	}

	if json.Valid([]byte(frame.Data)) {
		env.Data = json.RawMessage(frame.Data)
	} else {
		env.RawData = frame.Data
		if frame.Data != "" {
			m.logger.Warn("non-JSON sse payload forwarded raw", zap.String("task_id", ts.taskID), zap.String("event", frame.Event))
		}
	}

	if terminalEventTypes[frame.Event] && m.observer != nil {
		m.observer(ts.taskID, frame.Event, env.Data)
	}

	m.broadcast(ts, env)
}

func (m *Manager) broadcast(ts *taskStream, env Envelope) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, sub := range ts.subs {
		select {
		case sub.ch <- env:
		default:
			m.logger.Warn("dropping sse client: send buffer full", zap.String("task_id", ts.taskID), zap.String("client_id", sub.id))
			close(sub.ch)
			delete(ts.subs, sub.id)
		}
	}
}

func (m *Manager) broadcastFinal(ts *taskStream) {
	m.broadcast(ts, Envelope{
		Source:       "worker",
		RelayedBy:    "mcp-server",
		MCPTimestamp: time.Now().UTC(),
		Event:        "complete",
	})
}

func (m *Manager) closeAllSubs(ts *taskStream) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for id, sub := range ts.subs {
		close(sub.ch)
		delete(ts.subs, id)
	}
}

// Shutdown emits a server_shutdown event to every subscribed client across
// every active task stream and closes them.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	streams := make([]*taskStream, 0, len(m.streams))
	for _, ts := range m.streams {
		streams = append(streams, ts)
	}
	m.streams = make(map[string]*taskStream)
	m.mu.Unlock()

	for _, ts := range streams {
		m.broadcast(ts, Envelope{
			Source:       "coordinator",
			RelayedBy:    "mcp-server",
			MCPTimestamp: time.Now().UTC(),
			Event:        "server_shutdown",
		})
		m.closeAllSubs(ts)
		ts.cancel()
	}
}
