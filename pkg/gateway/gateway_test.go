package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stripeSignature(secret string, payload []byte, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func stripeEvent(eventType, intentJSON string) []byte {
	return []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","type":%q,"data":{"object":%s}}`, eventType, intentJSON))
}

func TestStripeVerifier(t *testing.T) {
	ctx := context.Background()
	v := NewStripeVerifier("whsec_test")

	t.Run("Succeeded", func(t *testing.T) {
		payload := stripeEvent("payment_intent.succeeded",
			`{"id":"pi_123","object":"payment_intent","amount":2500,"currency":"usd","metadata":{"topup_request_id":"req-1"}}`)

		cb, err := v.Verify(ctx, payload, stripeSignature("whsec_test", payload, time.Now()))

		require.NoError(t, err)
		assert.Equal(t, "req-1", cb.RequestID)
		assert.Equal(t, "pi_123", cb.GatewayReference)
		assert.True(t, cb.Succeeded)
		assert.Equal(t, int64(2500), cb.Amount)
		assert.Equal(t, "USD", cb.Currency)
	})

	t.Run("Failed", func(t *testing.T) {
		payload := stripeEvent("payment_intent.payment_failed",
			`{"id":"pi_9","object":"payment_intent","amount":100,"currency":"usd","metadata":{"topup_request_id":"req-2"},"last_payment_error":{"message":"card declined"}}`)

		cb, err := v.Verify(ctx, payload, stripeSignature("whsec_test", payload, time.Now()))

		require.NoError(t, err)
		assert.False(t, cb.Succeeded)
		assert.Equal(t, "card declined", cb.Reason)
	})

	t.Run("Bad Signature", func(t *testing.T) {
		payload := stripeEvent("payment_intent.succeeded", `{"id":"pi_1","metadata":{"topup_request_id":"r"}}`)

		_, err := v.Verify(ctx, payload, stripeSignature("wrong", payload, time.Now()))

		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("Unsupported Event", func(t *testing.T) {
		payload := stripeEvent("charge.refunded", `{"id":"ch_1"}`)

		_, err := v.Verify(ctx, payload, stripeSignature("whsec_test", payload, time.Now()))

		assert.ErrorIs(t, err, ErrUnsupportedEvent)
	})

	t.Run("Missing Request ID", func(t *testing.T) {
		payload := stripeEvent("payment_intent.succeeded", `{"id":"pi_1","amount":1,"currency":"usd"}`)

		_, err := v.Verify(ctx, payload, stripeSignature("whsec_test", payload, time.Now()))

		assert.ErrorIs(t, err, ErrMalformedPayload)
	})
}

func TestCashNetworkVerifier(t *testing.T) {
	ctx := context.Background()
	v := NewCashNetworkVerifier("agent-secret")

	t.Run("Success", func(t *testing.T) {
		payload := []byte(`{"request_id":"req-3","transaction_ref":"CN-77","status":"SUCCESS","amount":"12.50","currency":"usd","receipt_url":"https://cash.example/r/77"}`)

		cb, err := v.Verify(ctx, payload, v.Sign(payload))

		require.NoError(t, err)
		assert.True(t, cb.Succeeded)
		assert.Equal(t, int64(1250), cb.Amount)
		assert.Equal(t, "CN-77", cb.GatewayReference)
		assert.Equal(t, "https://cash.example/r/77", cb.ReceiptURL)
	})

	t.Run("Failure Reason Defaults", func(t *testing.T) {
		payload := []byte(`{"request_id":"req-3","transaction_ref":"CN-78","status":"EXPIRED","amount":"12.50","currency":"USD"}`)

		cb, err := v.Verify(ctx, payload, v.Sign(payload))

		require.NoError(t, err)
		assert.False(t, cb.Succeeded)
		assert.Equal(t, "cash payment expired", cb.Reason)
	})

	t.Run("Tampered Body", func(t *testing.T) {
		payload := []byte(`{"request_id":"req-3","status":"SUCCESS","amount":"12.50","currency":"USD"}`)
		sig := v.Sign(payload)
		tampered := []byte(`{"request_id":"req-3","status":"SUCCESS","amount":"99.50","currency":"USD"}`)

		_, err := v.Verify(ctx, tampered, sig)

		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("Too Precise Amount", func(t *testing.T) {
		payload := []byte(`{"request_id":"req-3","status":"SUCCESS","amount":"12.505","currency":"USD"}`)

		_, err := v.Verify(ctx, payload, v.Sign(payload))

		assert.ErrorIs(t, err, ErrMalformedPayload)
	})
}

func TestDecodeEnvelope(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		env, err := DecodeEnvelope(`{"method":"cashNetwork","signature":"ab","payload":"eyJhIjoxfQ=="}`)
		require.NoError(t, err)
		assert.Equal(t, "cashNetwork", env.Method)
		assert.Equal(t, []byte(`{"a":1}`), env.Payload)
	})

	t.Run("Missing Payload", func(t *testing.T) {
		_, err := DecodeEnvelope(`{"method":"cashNetwork"}`)
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})

	t.Run("Not JSON", func(t *testing.T) {
		_, err := DecodeEnvelope(`nope`)
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})
}
