// Package ws is the websocket surface for the notification widget: it
// pushes flushed notifications to connected clients, forwards recovery
// trigger requests across the boundary, and accepts retry/dismiss actions
// back from the widget.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/capturekit/resilience/internal/infrastructure/logging"
	"github.com/capturekit/resilience/internal/notify"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The extension connects from its own origin; the server binds
		// loopback, so origin checks add nothing here.
		return true
	},
}

// triggerTimeout bounds how long a recovery strategy waits for the widget
// to acknowledge a trigger request.
const triggerTimeout = 5 * time.Second

// inbound is a message read from a widget client.
type inbound struct {
	Type           string `json:"type"`
	ID             string `json:"id,omitempty"`
	OK             bool   `json:"ok,omitempty"`
	NotificationID string `json:"notification_id,omitempty"`
	ErrorID        string `json:"error_id,omitempty"`
}

// triggerResult is the widget's answer to a trigger request.
type triggerResult struct {
	ok bool
}

// Actions lets the server react to widget interactions without the hub
// importing the pipeline.
type Actions interface {
	// RetryError is invoked when the user presses retry on a
	// notification; the id is the originating record's id.
	RetryError(id string)
	// DismissNotification removes a persistent notification.
	DismissNotification(id string) bool
}

// Hub fans notifications out to widget connections and routes trigger
// requests to them. It implements notify.Sink and recovery's Trigger.
type Hub struct {
	log     *logging.Logger
	actions Actions

	mu      sync.Mutex
	clients map[*client]struct{}
	pending map[string]chan triggerResult
}

type client struct {
	conn *websocket.Conn
	// writeMu serializes writes; gorilla allows one concurrent writer.
	writeMu sync.Mutex
}

// NewHub creates a hub with no connected clients.
func NewHub(log *logging.Logger, actions Actions) *Hub {
	return &Hub{
		log:     log.Named("ws"),
		actions: actions,
		clients: make(map[*client]struct{}),
		pending: make(map[string]chan triggerResult),
	}
}

// SetActions wires widget interactions after construction. The hub and
// the pipeline reference each other, so one side attaches late.
func (h *Hub) SetActions(a Actions) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.actions = a
}

func (h *Hub) getActions() Actions {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.actions
}

// ClientCount reports connected widget clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleConnection upgrades the request and serves the client until it
// disconnects.
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	cl := &client{conn: conn}

	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, cl)
		h.mu.Unlock()
		conn.Close()
	}()

	h.writeTo(cl, map[string]any{"type": "connected"})
	h.readLoop(cl)
}

func (h *Hub) readLoop(cl *client) {
	for {
		_, raw, err := cl.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("websocket read ended", zap.Error(err))
			}
			return
		}

		var msg inbound
		if err := sonic.Unmarshal(raw, &msg); err != nil {
			h.writeTo(cl, map[string]any{"type": "error", "message": "malformed message"})
			continue
		}

		switch msg.Type {
		case "trigger_result":
			h.resolveTrigger(msg)
		case "retry":
			if a := h.getActions(); a != nil && msg.ErrorID != "" {
				a.RetryError(msg.ErrorID)
			}
		case "dismiss":
			ok := false
			if a := h.getActions(); a != nil {
				ok = a.DismissNotification(msg.NotificationID)
			}
			h.writeTo(cl, map[string]any{"type": "dismissed", "id": msg.NotificationID, "ok": ok})
		case "ping":
			h.writeTo(cl, map[string]any{"type": "pong"})
		default:
			h.writeTo(cl, map[string]any{"type": "error", "message": "unknown message type"})
		}
	}
}

// Deliver pushes a flushed notification to every connected client.
func (h *Hub) Deliver(n *notify.Notification) {
	h.broadcast(map[string]any{
		"type":         "notification",
		"notification": n,
	})
}

// Fire sends a recovery trigger to the widget and waits for the first
// acknowledgement. With no clients connected it reports unhandled so the
// strategy fails softly.
func (h *Hub) Fire(ctx context.Context, action string, params map[string]any) (bool, error) {
	h.mu.Lock()
	if len(h.clients) == 0 {
		h.mu.Unlock()
		return false, nil
	}
	id := uuid.NewString()
	ch := make(chan triggerResult, 1)
	h.pending[id] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
	}()

	h.broadcast(map[string]any{
		"type":   "trigger",
		"id":     id,
		"action": action,
		"params": params,
	})

	timer := time.NewTimer(triggerTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.ok, nil
	case <-timer.C:
		return false, errors.New("trigger timed out: " + action)
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Close disconnects every client and fails pending trigger waits.
// http.Server.Shutdown does not touch hijacked connections, so shutdown
// calls this after the final notification flush.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for cl := range h.clients {
		clients = append(clients, cl)
	}
	for id, ch := range h.pending {
		delete(h.pending, id)
		ch <- triggerResult{ok: false}
	}
	h.mu.Unlock()

	for _, cl := range clients {
		cl.conn.Close()
	}
}

// resolveTrigger completes a pending Fire call. Late or duplicate results
// are dropped.
func (h *Hub) resolveTrigger(msg inbound) {
	h.mu.Lock()
	ch, ok := h.pending[msg.ID]
	if ok {
		delete(h.pending, msg.ID)
	}
	h.mu.Unlock()
	if ok {
		ch <- triggerResult{ok: msg.OK}
	}
}

// broadcast writes payload to every client, dropping ones whose
// connection has gone bad.
func (h *Hub) broadcast(payload any) {
	data, err := sonic.Marshal(payload)
	if err != nil {
		h.log.Error("broadcast encode failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for cl := range h.clients {
		targets = append(targets, cl)
	}
	h.mu.Unlock()

	for _, cl := range targets {
		cl.writeMu.Lock()
		err := cl.conn.WriteMessage(websocket.TextMessage, data)
		cl.writeMu.Unlock()
		if err != nil {
			h.log.Debug("websocket write failed, dropping client", zap.Error(err))
			h.mu.Lock()
			delete(h.clients, cl)
			h.mu.Unlock()
			cl.conn.Close()
		}
	}
}

// writeTo sends payload to a single client.
func (h *Hub) writeTo(cl *client, payload any) {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return
	}
	cl.writeMu.Lock()
	defer cl.writeMu.Unlock()
	if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.log.Debug("websocket write failed", zap.Error(err))
	}
}
