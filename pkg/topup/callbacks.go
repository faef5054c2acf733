package topup

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chris/classifieds-wallet/pkg/gateway"
	"github.com/chris/classifieds-wallet/pkg/ledger"
	"github.com/chris/classifieds-wallet/pkg/models"
	"github.com/chris/classifieds-wallet/pkg/storage"
)

// Anomaly kinds reported to metrics and logs.
const (
	anomalyUnknownRequest   = "unknown_request"
	anomalyMethodMismatch   = "method_mismatch"
	anomalyCancelled        = "cancelled_request"
	anomalyRejectedPaid     = "paid_after_rejection"
	anomalyFailureApproved  = "failure_after_approval"
	anomalyReferenceChanged = "reference_mismatch"
	anomalyAmountMismatch   = "amount_mismatch"
	anomalyReceiptMissing   = "receipt_missing"
)

// HandleCallback verifies a raw gateway payload with the method's verifier and
// applies the outcome. Verification is bounded by UpstreamTimeout.
func (w *Workflow) HandleCallback(ctx context.Context, method models.TopUpMethod, payload []byte, signature string) (*models.TopUpRequest, error) {
	verifier, ok := w.Verifiers[method]
	if !ok {
		return nil, fmt.Errorf("%w: no callback verifier for %q", ErrUnsupportedMethod, method)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, w.UpstreamTimeout)
	defer cancel()
	cb, err := verifier.Verify(verifyCtx, payload, signature)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			w.Metrics.UpstreamTimeout("callback_verify")
			return nil, fmt.Errorf("%w: verifying %s callback", ledger.ErrUpstreamTimeout, method)
		}
		w.Logger.Warn("callback rejected", "method", method, "error", err)
		return nil, err
	}

	return w.ApplyCallback(ctx, method, cb)
}

// ApplyCallback reconciles a verified gateway outcome with the request state. Callbacks
// may arrive late, twice, or out of order:
//   - success on pending approves (unless the amount differs)
//   - failure on pending rejects
//   - success on approved is a no-op
//   - failure on approved is logged as an anomaly and never reverses the credit
//   - anything on cancelled or unknown requests is refused and logged
func (w *Workflow) ApplyCallback(ctx context.Context, method models.TopUpMethod, cb *gateway.Callback) (*models.TopUpRequest, error) {
	req, err := w.Store.GetTopUp(ctx, cb.RequestID)
	if err != nil {
		if errors.Is(err, storage.ErrTopUpNotFound) {
			w.anomaly(method, anomalyUnknownRequest, cb, nil)
			return nil, fmt.Errorf("%w: callback for %s", ErrUnknownRequest, cb.RequestID)
		}
		return nil, fmt.Errorf("failed to get top-up request: %w", err)
	}
	if req.Method != method {
		w.anomaly(method, anomalyMethodMismatch, cb, req)
		return nil, fmt.Errorf("%w: %s callback for a %s request", ErrUnknownRequest, method, req.Method)
	}

	var result *models.TopUpRequest
	err = w.inRequest(ctx, cb.RequestID, func(lw *ledger.Writer, req *models.TopUpRequest) error {
		result = req

		switch req.Status {
		case models.TOPUP_CANCELLED:
			w.anomaly(method, anomalyCancelled, cb, req)
			return fmt.Errorf("%w: request %s was cancelled", ledger.ErrInvalidTransition, req.Id)

		case models.TOPUP_REJECTED:
			if cb.Succeeded {
				w.anomaly(method, anomalyRejectedPaid, cb, req)
				return fmt.Errorf("%w: request %s was rejected", ledger.ErrInvalidTransition, req.Id)
			}
			return nil

		case models.TOPUP_APPROVED:
			if !cb.Succeeded {
				w.anomaly(method, anomalyFailureApproved, cb, req)
				return nil
			}
			if req.Reference != "" && cb.GatewayReference != "" && req.Reference != cb.GatewayReference {
				w.anomaly(method, anomalyReferenceChanged, cb, req)
			}
			if req.TransactionId == "" {
				_, err := w.settle(ctx, lw, req)
				return err
			}
			return nil
		}

		if !cb.Succeeded {
			if cb.GatewayReference != "" {
				req.Reference = cb.GatewayReference
			}
			reason := cb.Reason
			if reason == "" {
				reason = "payment failed"
			}
			if err := w.resolve(ctx, req, models.TOPUP_REJECTED, "gateway:"+string(method), reason); err != nil {
				return err
			}
			w.resolved(lw, req)
			return nil
		}

		if cb.Amount != req.Amount || (cb.Currency != "" && !strings.EqualFold(cb.Currency, req.Currency)) {
			w.anomaly(method, anomalyAmountMismatch, cb, req)
			return fmt.Errorf("%w: gateway reported %d %s, request is %d %s",
				ErrAmountMismatch, cb.Amount, cb.Currency, req.Amount, req.Currency)
		}

		if cb.ReceiptURL != "" && req.ReceiptUrl == "" {
			req.ReceiptUrl = cb.ReceiptURL
		}
		if req.Method.RequiresReceipt() && req.ReceiptUrl == "" {
			w.anomaly(method, anomalyReceiptMissing, cb, req)
			return fmt.Errorf("%w: %s confirmation for %s carried no receipt", ErrReceiptRequired, method, req.Id)
		}

		if cb.GatewayReference != "" {
			req.Reference = cb.GatewayReference
		}
		if err := w.resolve(ctx, req, models.TOPUP_APPROVED, "gateway:"+string(method), ""); err != nil {
			return err
		}
		if _, err := w.settle(ctx, lw, req); err != nil {
			return err
		}
		w.resolved(lw, req)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (w *Workflow) anomaly(method models.TopUpMethod, kind string, cb *gateway.Callback, req *models.TopUpRequest) {
	w.Metrics.CallbackAnomaly(string(method), kind)

	attrs := []any{
		"method", method,
		"kind", kind,
		"request_id", cb.RequestID,
		"gateway_reference", cb.GatewayReference,
		"succeeded", cb.Succeeded,
		"amount", cb.Amount,
	}
	if req != nil {
		attrs = append(attrs, "status", req.Status, "account_id", req.AccountId, "request_reference", req.Reference)
	}
	if kind == anomalyFailureApproved {
		w.Logger.Error("gateway reported failure for an approved top-up; manual review needed", attrs...)
		return
	}
	w.Logger.Warn("gateway callback anomaly", attrs...)
}
