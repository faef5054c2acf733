package storage

import "context"

// WebSocketManager defines the interface for storing and retrieving WebSocket connection IDs.
// Connections are keyed by the authenticated user so notifications reach only the owner.
type WebSocketManager interface {
	AddConnection(ctx context.Context, connectionID, userID string) error
	RemoveConnection(ctx context.Context, connectionID string) error
	GetConnections(ctx context.Context, userID string) ([]string, error)
}
