package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/webhook"
)

// RequestIDMetadataKey is the PaymentIntent metadata key carrying our top-up request ID.
const RequestIDMetadataKey = "topup_request_id"

const (
	eventPaymentSucceeded = "payment_intent.succeeded"
	eventPaymentFailed    = "payment_intent.payment_failed"
	eventPaymentCanceled  = "payment_intent.canceled"
)

// StripeVerifier verifies card-gateway webhooks signed with the Stripe-Signature scheme.
type StripeVerifier struct {
	Secret string
}

var _ Verifier = (*StripeVerifier)(nil)

func NewStripeVerifier(secret string) *StripeVerifier {
	return &StripeVerifier{Secret: secret}
}

func (v *StripeVerifier) Verify(ctx context.Context, payload []byte, signature string) (*Callback, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := webhook.ValidatePayload(payload, signature, v.Secret); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if event.Data == nil {
		return nil, fmt.Errorf("%w: event %s has no data", ErrMalformedPayload, event.ID)
	}

	var succeeded bool
	switch event.Type {
	case eventPaymentSucceeded:
		succeeded = true
	case eventPaymentFailed, eventPaymentCanceled:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, event.Type)
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	cb := &Callback{
		RequestID:        intent.Metadata[RequestIDMetadataKey],
		GatewayReference: intent.ID,
		Succeeded:        succeeded,
		Amount:           intent.Amount,
		Currency:         strings.ToUpper(string(intent.Currency)),
	}
	if !succeeded {
		cb.Reason = "card payment failed"
		if intent.LastPaymentError != nil && intent.LastPaymentError.Msg != "" {
			cb.Reason = intent.LastPaymentError.Msg
		} else if event.Type == eventPaymentCanceled {
			cb.Reason = "card payment canceled"
		}
	}
	if cb.RequestID == "" {
		return nil, fmt.Errorf("%w: payment intent %s has no %s metadata", ErrMalformedPayload, intent.ID, RequestIDMetadataKey)
	}
	return cb, nil
}
