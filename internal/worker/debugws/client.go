package debugws

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
)

// controlMessage is what an operator sends to attach/detach from a task's
// raw output.
type controlMessage struct {
	Action string `json:"action"` // "subscribe" or "unsubscribe"
	TaskID string `json:"taskId"`
}

// ReadPump drains operator control messages (subscribe/unsubscribe) until
// the connection closes or errors. Must run in its own goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("debug client read error", zap.Error(err))
			}
			return
		}

		var msg controlMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Warn("malformed debug control message", zap.Error(err))
			continue
		}

		switch msg.Action {
		case "subscribe":
			c.Subscribe(msg.TaskID)
		case "unsubscribe":
			c.Unsubscribe(msg.TaskID)
		}
	}
}

// WritePump delivers hub-broadcast frames to the operator connection and
// sends periodic pings. Must run in its own goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Subscribe attaches this client to a task's raw output fan-out.
func (c *Client) Subscribe(taskID string) {
	c.mu.Lock()
	c.taskIDs[taskID] = true
	c.mu.Unlock()
	c.hub.SubscribeClient(c, taskID)
}

// Unsubscribe detaches this client from a task's raw output fan-out.
func (c *Client) Unsubscribe(taskID string) {
	c.mu.Lock()
	delete(c.taskIDs, taskID)
	c.mu.Unlock()
	c.hub.UnsubscribeClient(c, taskID)
}

// IsSubscribed reports whether this client is currently receiving taskID's
// output.
func (c *Client) IsSubscribed(taskID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.taskIDs[taskID]
}
