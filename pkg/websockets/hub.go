package websockets

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// LocalHub holds WebSocket connections opened directly against this process.
// It is the local-development counterpart of DefaultPublisher.
type LocalHub struct {
	mu    sync.Mutex
	conns map[string]map[string]*websocket.Conn
}

var _ Publisher = (*LocalHub)(nil)

func NewLocalHub() *LocalHub {
	return &LocalHub{conns: make(map[string]map[string]*websocket.Conn)}
}

// Register adds conn under userID and returns its connection ID.
func (h *LocalHub) Register(userID string, conn *websocket.Conn) string {
	connectionID := uuid.New().String()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[string]*websocket.Conn)
	}
	h.conns[userID][connectionID] = conn
	return connectionID
}

func (h *LocalHub) Unregister(userID, connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns[userID], connectionID)
	if len(h.conns[userID]) == 0 {
		delete(h.conns, userID)
	}
}

// Publish writes the message to each of the user's local connections.
func (h *LocalHub) Publish(ctx context.Context, userID string, message Message) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	// Writes stay under the hub lock: gorilla connections allow one concurrent writer.
	h.mu.Lock()
	defer h.mu.Unlock()
	for connectionID, conn := range h.conns[userID] {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			slog.Error("failed to write to local connection", "connectionId", connectionID, "error", err)
		}
	}
	return nil
}

// Count returns the number of local connections open for userID.
func (h *LocalHub) Count(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[userID])
}
