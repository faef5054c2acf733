package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chris/classifieds-wallet/pkg/money"
)

// CashNetworkVerifier verifies agent-network confirmations. The signature is the
// hex-encoded HMAC-SHA256 of the raw body under the shared secret.
type CashNetworkVerifier struct {
	Secret string
}

var _ Verifier = (*CashNetworkVerifier)(nil)

func NewCashNetworkVerifier(secret string) *CashNetworkVerifier {
	return &CashNetworkVerifier{Secret: secret}
}

type cashNetworkPayload struct {
	RequestID      string `json:"request_id"`
	TransactionRef string `json:"transaction_ref"`
	Status         string `json:"status"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	Reason         string `json:"reason"`
	ReceiptURL     string `json:"receipt_url"`
}

// Sign returns the signature the network would send for payload.
func (v *CashNetworkVerifier) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(v.Secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (v *CashNetworkVerifier) Verify(ctx context.Context, payload []byte, signature string) (*Callback, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	given, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return nil, fmt.Errorf("%w: signature is not hex", ErrInvalidSignature)
	}
	expected, _ := hex.DecodeString(v.Sign(payload))
	if !hmac.Equal(given, expected) {
		return nil, ErrInvalidSignature
	}

	var p cashNetworkPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.RequestID == "" {
		return nil, fmt.Errorf("%w: missing request_id", ErrMalformedPayload)
	}

	cb := &Callback{
		RequestID:        p.RequestID,
		GatewayReference: p.TransactionRef,
		Currency:         strings.ToUpper(p.Currency),
		Reason:           p.Reason,
		ReceiptURL:       p.ReceiptURL,
	}
	switch strings.ToUpper(p.Status) {
	case "SUCCESS", "PAID":
		cb.Succeeded = true
	case "FAILED", "REVERSED", "EXPIRED":
		if cb.Reason == "" {
			cb.Reason = "cash payment " + strings.ToLower(p.Status)
		}
	default:
		return nil, fmt.Errorf("%w: status %q", ErrUnsupportedEvent, p.Status)
	}

	cb.Amount, err = money.ParseMinor(p.Amount, p.Currency)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return cb, nil
}
