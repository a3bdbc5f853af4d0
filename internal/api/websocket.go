// internal/api/websocket.go
package api

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/plotloom/plotloom/internal/services"
	"github.com/plotloom/plotloom/internal/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Tighten for production deployments behind a known origin.
		return true
	},
}

// wsClient is one subscriber watching a generation session.
type wsClient struct {
	conn      *websocket.Conn
	sessionID string
	userID    string
	closed    int32
	createdAt time.Time
}

func (c *wsClient) close() {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		c.conn.Close()
	}
}

func (c *wsClient) isClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// WebSocketHandler streams session progress to subscribed clients.
type WebSocketHandler struct {
	progress *services.ProgressService
	queue    *services.QueueService

	mu      sync.RWMutex
	clients map[string]map[*wsClient]bool // sessionID -> clients
}

// NewWebSocketHandler creates the websocket handler.
func NewWebSocketHandler(progress *services.ProgressService, queue *services.QueueService) *WebSocketHandler {
	return &WebSocketHandler{
		progress: progress,
		queue:    queue,
		clients:  make(map[string]map[*wsClient]bool),
	}
}

func (h *WebSocketHandler) register(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.sessionID] == nil {
		h.clients[client.sessionID] = make(map[*wsClient]bool)
	}
	h.clients[client.sessionID][client] = true
}

func (h *WebSocketHandler) unregister(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.clients[client.sessionID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.clients, client.sessionID)
		}
	}
	client.close()
}

// QueueWebSocket upgrades the connection and streams progress updates
// and session snapshots until the session finishes or the client
// disconnects.
func (h *WebSocketHandler) QueueWebSocket(c *gin.Context) {
	sessionID := c.Param("session_id")

	tracker, exists := h.progress.GetTracker(sessionID)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.GetLogger().Errorf("websocket upgrade failed for session %s: %v", sessionID, err)
		return
	}

	client := &wsClient{
		conn:      conn,
		sessionID: sessionID,
		userID:    c.GetHeader("X-User-ID"),
		createdAt: time.Now(),
	}
	h.register(client)
	defer h.unregister(client)

	subscriber := tracker.Subscribe()
	defer tracker.Unsubscribe(subscriber)

	// Reader goroutine: drains control frames and detects disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case update, ok := <-subscriber:
			if !ok {
				return
			}
			payload := gin.H{
				"type":     "progress",
				"progress": update.Progress,
				"message":  update.Message,
				"status":   update.Status,
			}
			if status, err := h.queue.Status(sessionID); err == nil {
				payload["session"] = status
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(payload); err != nil {
				return
			}
			if update.Status == "completed" || update.Status == "failed" {
				return
			}

		case <-tracker.Done:
			if status, err := h.queue.Status(sessionID); err == nil {
				conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				conn.WriteJSON(gin.H{"type": "done", "session": status})
			}
			return

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return

		case <-c.Request.Context().Done():
			return
		}
	}
}

// Status reports connection counts per session.
func (h *WebSocketHandler) Status() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sessions := make(map[string]interface{}, len(h.clients))
	total := 0
	for sessionID, clients := range h.clients {
		active := 0
		for client := range clients {
			if !client.isClosed() {
				active++
			}
		}
		sessions[sessionID] = map[string]interface{}{"client_count": active}
		total += active
	}

	return map[string]interface{}{
		"total_sessions":    len(h.clients),
		"total_connections": total,
		"sessions":          sessions,
	}
}

// GetWebSocketStatus exposes the hub status for debugging.
func (h *Handler) GetWebSocketStatus(c *gin.Context) {
	h.Response.Success(c, h.WebSocketHandler.Status())
}
