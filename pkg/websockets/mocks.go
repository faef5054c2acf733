package websockets

import (
	"context"
	"sync"
)

// NoOpPublisher is a publisher that does nothing.
type NoOpPublisher struct{}

// Publish does nothing.
func (p *NoOpPublisher) Publish(ctx context.Context, userID string, message Message) error {
	return nil
}

// RecordingPublisher keeps every published message. Used by tests.
type RecordingPublisher struct {
	mu       sync.Mutex
	Messages map[string][]Message
}

func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{Messages: make(map[string][]Message)}
}

func (p *RecordingPublisher) Publish(ctx context.Context, userID string, message Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Messages[userID] = append(p.Messages[userID], message)
	return nil
}

// For returns a copy of the messages sent to userID.
func (p *RecordingPublisher) For(userID string) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.Messages[userID]))
	copy(out, p.Messages[userID])
	return out
}
