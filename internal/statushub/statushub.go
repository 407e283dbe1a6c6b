// Package statushub broadcasts session lifecycle events to connected
// websocket clients, following the teacher's dashboard broadcaster
// idiom (internal/modules/pluginmodule/dashboard_api.go): an upgrader,
// a registry of live connections, and a fan-out broadcast rather than
// per-client polling.
package statushub

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
)

// Event is a status-change notification for one (videoId, label).
type Event struct {
	Type      string      `json:"type"` // "started", "paused", "stopped", "failed"
	VideoID   string      `json:"video_id"`
	Label     string      `json:"label"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// Hub tracks connected clients and fans an Event out to all of them.
type Hub struct {
	logger   hclog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*websocket.Conn
}

// NewHub creates a Hub. CheckOrigin always allows, matching the
// teacher's dashboard websocket handler (the HTTP layer in front of
// this module is expected to enforce any origin policy).
func NewHub(logger hclog.Logger) *Hub {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Hub{
		logger: logger.Named("statushub"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*websocket.Conn),
	}
}

// ServeWS upgrades the request to a websocket connection and holds it
// open, reading (and discarding) client frames until the connection
// closes, matching the teacher's "read loop just to detect
// disconnect" pattern.
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("websocket upgrade failed: %v", err)})
		return
	}
	defer conn.Close()

	clientID := fmt.Sprintf("client_%d", time.Now().UnixNano())
	h.mu.Lock()
	h.clients[clientID] = conn
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, clientID)
		h.mu.Unlock()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Publish fans out ev to every connected client. Unreachable clients
// are dropped from the registry; a broadcast failure is never fatal to
// the caller.
func (h *Hub) Publish(ev Event) {
	ev.Timestamp = time.Now().UnixMilli()
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("failed to marshal status event", "error", err)
		return
	}

	h.mu.RLock()
	targets := make(map[string]*websocket.Conn, len(h.clients))
	for id, conn := range h.clients {
		targets[id] = conn
	}
	h.mu.RUnlock()

	for id, conn := range targets {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Debug("dropping unreachable status client", "client_id", id, "error", err)
			h.mu.Lock()
			delete(h.clients, id)
			h.mu.Unlock()
		}
	}
}

// ClientCount reports the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
