package gateway

import (
	"encoding/json"
	"fmt"
)

// Envelope carries an unverified callback through a queue. Payload keeps the raw
// bytes so the signature can still be checked on the other side.
type Envelope struct {
	Method    string `json:"method"`
	Signature string `json:"signature"`
	Payload   []byte `json:"payload"`
}

// DecodeEnvelope parses a queued message body.
func DecodeEnvelope(body string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.Method == "" || len(env.Payload) == 0 {
		return Envelope{}, fmt.Errorf("%w: envelope needs a method and a payload", ErrMalformedPayload)
	}
	return env, nil
}
