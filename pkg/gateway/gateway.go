package gateway

import (
	"context"
	"errors"
)

// ErrInvalidSignature is returned when a callback payload fails verification.
var ErrInvalidSignature = errors.New("invalid callback signature")

// ErrUnsupportedEvent is returned for well-signed events that carry no top-up outcome.
var ErrUnsupportedEvent = errors.New("unsupported callback event")

// ErrMalformedPayload is returned when a verified payload cannot be decoded.
var ErrMalformedPayload = errors.New("malformed callback payload")

// Callback is a verified payment outcome reported by an external gateway.
type Callback struct {
	RequestID        string
	GatewayReference string
	Succeeded        bool
	Amount           int64
	Currency         string
	Reason           string
	ReceiptURL       string
}

// Verifier authenticates and decodes a gateway's callback payload.
type Verifier interface {
	Verify(ctx context.Context, payload []byte, signature string) (*Callback, error)
}
