// Package debugws is an optional low-level duplex channel for operators to
// tail a worker's raw executor I/O outside of the task-facing SSE stream
// mandated by the public API surface.
package debugws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/claudecluster/claudecluster/internal/common/logger"
	v1 "github.com/claudecluster/claudecluster/pkg/api/v1"
)

// EventSource is the subset of the task execution engine the hub needs to
// tail a task's raw output: the same per-task envelope subscription used by
// the client-facing SSE stream.
type EventSource interface {
	Subscribe(taskID string) (<-chan v1.Envelope, func(), bool)
}

// Client is one connected operator WebSocket connection.
type Client struct {
	ID      string
	conn    *websocket.Conn
	taskIDs map[string]bool
	send    chan []byte
	hub     *Hub
	mu      sync.RWMutex
	logger  *logger.Logger
}

// NewClient wraps an accepted WebSocket connection.
func NewClient(id string, conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	return &Client{
		ID:      id,
		conn:    conn,
		taskIDs: make(map[string]bool),
		send:    make(chan []byte, 256),
		hub:     hub,
		logger:  log.WithFields(zap.String("client_id", id)),
	}
}

// Hub fans out task events to every subscribed debug client.
type Hub struct {
	clients     map[*Client]bool
	taskClients map[string]map[*Client]bool
	relayStop   map[string]context.CancelFunc

	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMessage

	source EventSource
	mu     sync.RWMutex
	logger *logger.Logger
}

type broadcastMessage struct {
	TaskID  string
	Payload interface{}
}

// NewHub returns an idle hub bound to source, the task engine's per-task
// event stream. Call Run to start its processing loop.
func NewHub(source EventSource, log *logger.Logger) *Hub {
	return &Hub{
		clients:     make(map[*Client]bool),
		taskClients: make(map[string]map[*Client]bool),
		relayStop:   make(map[string]context.CancelFunc),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *broadcastMessage, 256),
		source:      source,
		logger:      log.WithFields(zap.String("component", "debugws_hub")),
	}
}

// Run processes registrations, unregistrations, and broadcasts until ctx
// is cancelled, at which point every connected client is closed.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("debug websocket hub started")
	defer h.logger.Info("debug websocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.taskClients = make(map[string]map[*Client]bool)
			for taskID, stop := range h.relayStop {
				stop()
				delete(h.relayStop, taskID)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				for taskID := range client.taskIDs {
					if clients, ok := h.taskClients[taskID]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.taskClients, taskID)
						}
					}
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			clients := h.taskClients[msg.TaskID]
			h.mu.RUnlock()
			if len(clients) == 0 {
				continue
			}

			data, err := json.Marshal(msg.Payload)
			if err != nil {
				h.logger.Error("failed to marshal debug payload", zap.Error(err))
				continue
			}

			for client := range clients {
				select {
				case client.send <- data:
				default:
					h.dropSlowClient(client)
				}
			}
		}
	}
}

func (h *Hub) dropSlowClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	close(client.send)
	delete(h.clients, client)
	for taskID := range client.taskIDs {
		if clients, ok := h.taskClients[taskID]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.taskClients, taskID)
			}
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) { h.register <- client }

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) { h.unregister <- client }

// Broadcast fans payload out to every client subscribed to taskID.
func (h *Hub) Broadcast(taskID string, payload interface{}) {
	h.broadcast <- &broadcastMessage{TaskID: taskID, Payload: payload}
}

// SubscribeClient attaches client to taskID's fan-out set, starting a relay
// from the task engine's event stream if this is the first subscriber.
func (h *Hub) SubscribeClient(client *Client, taskID string) {
	h.mu.Lock()
	if _, ok := h.taskClients[taskID]; !ok {
		h.taskClients[taskID] = make(map[*Client]bool)
	}
	h.taskClients[taskID][client] = true
	_, relaying := h.relayStop[taskID]
	h.mu.Unlock()

	if !relaying {
		h.startRelay(taskID)
	}
}

// UnsubscribeClient detaches client from taskID's fan-out set, stopping the
// relay once no clients remain.
func (h *Hub) UnsubscribeClient(client *Client, taskID string) {
	h.mu.Lock()
	empty := false
	if clients, ok := h.taskClients[taskID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.taskClients, taskID)
			empty = true
		}
	}
	var stop context.CancelFunc
	if empty {
		stop = h.relayStop[taskID]
		delete(h.relayStop, taskID)
	}
	h.mu.Unlock()

	if stop != nil {
		stop()
	}
}

// startRelay subscribes to the task engine's event stream for taskID and
// forwards every envelope into the hub's broadcast channel until the
// relay's context is cancelled or the engine closes the stream.
func (h *Hub) startRelay(taskID string) {
	if h.source == nil {
		return
	}
	events, unsubscribe, ok := h.source.Subscribe(taskID)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.mu.Lock()
	h.relayStop[taskID] = cancel
	h.mu.Unlock()

	go func() {
		defer unsubscribe()
		for {
			select {
			case env, open := <-events:
				if !open {
					return
				}
				h.Broadcast(taskID, env)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// ClientCount reports the number of connected operator clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
