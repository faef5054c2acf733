package websockets

// MessageType defines the type of a WebSocket message.
type MessageType string

const (
	// MessageTypeBalanceUpdated is sent whenever a completed transaction changes a balance.
	MessageTypeBalanceUpdated MessageType = "balanceUpdated"
	// MessageTypeTopUpResolved is sent when a top-up request reaches a terminal state.
	MessageTypeTopUpResolved MessageType = "topUpResolved"
)

// Message represents a generic WebSocket message.
type Message struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

// BalanceUpdatedPayload is the payload for a balanceUpdated message.
type BalanceUpdatedPayload struct {
	AccountID     string `json:"account_id"`
	TransactionID string `json:"transaction_id"`
	Change        int64  `json:"change"`
	NewBalance    int64  `json:"new_balance"`
	Currency      string `json:"currency"`
}

// TopUpResolvedPayload is the payload for a topUpResolved message.
type TopUpResolvedPayload struct {
	RequestID     string `json:"request_id"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}
