package topup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chris/classifieds-wallet/pkg/blobstore"
	"github.com/chris/classifieds-wallet/pkg/clock"
	"github.com/chris/classifieds-wallet/pkg/gateway"
	"github.com/chris/classifieds-wallet/pkg/ids"
	"github.com/chris/classifieds-wallet/pkg/ledger"
	"github.com/chris/classifieds-wallet/pkg/metrics"
	"github.com/chris/classifieds-wallet/pkg/models"
	"github.com/chris/classifieds-wallet/pkg/storage"
	"github.com/chris/classifieds-wallet/pkg/websockets"
)

// Workflow drives top-up requests through pending -> approved | rejected | cancelled.
// Every transition runs inside the account's ledger critical section, so of two
// racing transitions the first to enter wins and the other sees a terminal state.
type Workflow struct {
	Store     storage.TopUpStore
	Ledger    *ledger.Engine
	Receipts  blobstore.Store
	Verifiers map[models.TopUpMethod]gateway.Verifier
	Metrics   metrics.Recorder
	Clock     clock.Clock
	Logger    *slog.Logger

	// UpstreamTimeout bounds receipt uploads and callback verification.
	UpstreamTimeout time.Duration
	// MaxReceiptBytes caps uploaded receipt size.
	MaxReceiptBytes int64
}

// New creates a Workflow with default timeouts and no gateway verifiers.
func New(store storage.TopUpStore, engine *ledger.Engine, receipts blobstore.Store) *Workflow {
	return &Workflow{
		Store:           store,
		Ledger:          engine,
		Receipts:        receipts,
		Verifiers:       make(map[models.TopUpMethod]gateway.Verifier),
		Metrics:         metrics.Noop{},
		Clock:           clock.RealClock{},
		Logger:          slog.Default(),
		UpstreamTimeout: 5 * time.Second,
		MaxReceiptBytes: 10 << 20,
	}
}

// SubmitRequest carries a user's new top-up.
type SubmitRequest struct {
	AccountID   string
	RequesterID string
	Method      models.TopUpMethod
	Amount      int64
	Currency    string
	Reference   string
	ReceiptURL  string
}

// Submit creates a pending request, opening the account on first use. A non-empty
// reference makes the call idempotent: resubmitting the same (account, method,
// reference) returns the request created first, whatever its status.
func (w *Workflow) Submit(ctx context.Context, in SubmitRequest) (*models.TopUpRequest, error) {
	if !in.Method.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, in.Method)
	}
	if in.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive, got %d", ledger.ErrInvalidAmount, in.Amount)
	}
	if in.RequesterID == "" {
		in.RequesterID = in.AccountID
	}
	in.Reference = strings.TrimSpace(in.Reference)

	acct, err := w.Ledger.OpenAccount(ctx, in.AccountID, in.Currency)
	if err != nil {
		return nil, err
	}
	currency := strings.ToUpper(in.Currency)
	if currency == "" {
		currency = acct.Currency
	} else if currency != acct.Currency {
		return nil, fmt.Errorf("%w: %s != %s", ledger.ErrCurrencyMismatch, currency, acct.Currency)
	}

	now := w.Clock.Now()
	req := &models.TopUpRequest{
		Id:          ids.NewRequestID(),
		AccountId:   in.AccountID,
		RequesterId: in.RequesterID,
		Method:      in.Method,
		Amount:      in.Amount,
		Currency:    currency,
		Status:      models.TOPUP_PENDING,
		Reference:   in.Reference,
		ReceiptUrl:  in.ReceiptURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if _, err := w.Store.CreateTopUp(ctx, req); err != nil {
		if errors.Is(err, storage.ErrDuplicateReference) {
			existing, findErr := w.Store.FindTopUpByReference(ctx, in.AccountID, in.Method, in.Reference)
			if findErr != nil {
				return nil, fmt.Errorf("failed to load top-up request for reference %q: %w", in.Reference, findErr)
			}
			w.Logger.Info("duplicate top-up submission", "request_id", existing.Id, "account_id", existing.AccountId, "reference", in.Reference)
			return existing, nil
		}
		return nil, fmt.Errorf("failed to create top-up request: %w", err)
	}

	w.Logger.Info("top-up submitted", "request_id", req.Id, "account_id", req.AccountId, "method", req.Method, "amount", req.Amount)
	return req, nil
}

// Get returns a single request.
func (w *Workflow) Get(ctx context.Context, requestID string) (*models.TopUpRequest, error) {
	req, err := w.Store.GetTopUp(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to get top-up request %s: %w", requestID, err)
	}
	return req, nil
}

// List returns requests matching the filter, newest first.
func (w *Workflow) List(ctx context.Context, filter storage.TopUpFilter) ([]models.TopUpRequest, error) {
	reqs, err := w.Store.ListTopUps(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list top-up requests: %w", err)
	}
	return reqs, nil
}

// Approve moves a pending request to approved and credits the account exactly once,
// using the request ID as the ledger reference. Approving an already approved request
// returns its transaction, finishing the credit if an earlier attempt was interrupted.
// Card requests are refused with ErrGatewayManaged; only their callback approves them.
func (w *Workflow) Approve(ctx context.Context, requestID, reviewerID string) (*models.TopUpRequest, *models.Transaction, error) {
	var (
		result *models.TopUpRequest
		tx     *models.Transaction
	)
	err := w.inRequest(ctx, requestID, func(lw *ledger.Writer, req *models.TopUpRequest) error {
		switch req.Status {
		case models.TOPUP_APPROVED:
			var err error
			tx, err = w.settle(ctx, lw, req)
			result = req
			return err
		case models.TOPUP_PENDING:
		default:
			return invalidTransition(req, models.TOPUP_APPROVED)
		}

		if req.Method == models.CARD_GATEWAY {
			return fmt.Errorf("%w: %s top-up %s", ErrGatewayManaged, req.Method, req.Id)
		}
		if req.Method.RequiresReceipt() && req.ReceiptUrl == "" {
			return fmt.Errorf("%w: %s top-up %s", ErrReceiptRequired, req.Method, req.Id)
		}

		if err := w.resolve(ctx, req, models.TOPUP_APPROVED, reviewerID, ""); err != nil {
			return err
		}
		var err error
		tx, err = w.settle(ctx, lw, req)
		if err != nil {
			return err
		}
		w.resolved(lw, req)
		result = req
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result, tx, nil
}

// Reject moves a pending request to rejected.
func (w *Workflow) Reject(ctx context.Context, requestID, reviewerID, reason string) (*models.TopUpRequest, error) {
	var result *models.TopUpRequest
	err := w.inRequest(ctx, requestID, func(lw *ledger.Writer, req *models.TopUpRequest) error {
		if req.Status != models.TOPUP_PENDING {
			return invalidTransition(req, models.TOPUP_REJECTED)
		}
		if err := w.resolve(ctx, req, models.TOPUP_REJECTED, reviewerID, reason); err != nil {
			return err
		}
		w.resolved(lw, req)
		result = req
		return nil
	})
	return result, err
}

// Cancel lets the original requester withdraw a pending request.
func (w *Workflow) Cancel(ctx context.Context, requestID, requesterID string) (*models.TopUpRequest, error) {
	var result *models.TopUpRequest
	err := w.inRequest(ctx, requestID, func(lw *ledger.Writer, req *models.TopUpRequest) error {
		if req.RequesterId != requesterID {
			return ErrNotRequester
		}
		if req.Status != models.TOPUP_PENDING {
			return invalidTransition(req, models.TOPUP_CANCELLED)
		}
		if err := w.resolve(ctx, req, models.TOPUP_CANCELLED, "", "cancelled by requester"); err != nil {
			return err
		}
		w.resolved(lw, req)
		result = req
		return nil
	})
	return result, err
}

// AttachReceipt records a receipt URL on a pending request.
func (w *Workflow) AttachReceipt(ctx context.Context, requestID, requesterID, receiptURL string) (*models.TopUpRequest, error) {
	if receiptURL == "" {
		return nil, ledger.ErrMissingReceipt
	}

	var result *models.TopUpRequest
	err := w.inRequest(ctx, requestID, func(lw *ledger.Writer, req *models.TopUpRequest) error {
		if req.RequesterId != requesterID {
			return ErrNotRequester
		}
		if req.Status != models.TOPUP_PENDING {
			return fmt.Errorf("%w: request %s is %s", ledger.ErrInvalidTransition, req.Id, req.Status)
		}

		req.ReceiptUrl = receiptURL
		req.UpdatedAt = w.Clock.Now()
		if err := w.Store.UpdateTopUp(ctx, req, models.TOPUP_PENDING); err != nil {
			return conflictOr(err, "failed to attach receipt")
		}
		result = req
		return nil
	})
	return result, err
}

// Resume finishes an approved request whose credit never landed. It is safe to run
// repeatedly and on requests that are already complete.
func (w *Workflow) Resume(ctx context.Context, requestID string) (*models.Transaction, error) {
	var tx *models.Transaction
	err := w.inRequest(ctx, requestID, func(lw *ledger.Writer, req *models.TopUpRequest) error {
		if req.Status != models.TOPUP_APPROVED {
			return nil
		}
		var err error
		tx, err = w.settle(ctx, lw, req)
		return err
	})
	return tx, err
}

// inRequest loads the request, enters its account's critical section and reloads it,
// so fn always sees the latest state.
func (w *Workflow) inRequest(ctx context.Context, requestID string, fn func(lw *ledger.Writer, req *models.TopUpRequest) error) error {
	req, err := w.Get(ctx, requestID)
	if err != nil {
		return err
	}
	return w.Ledger.InAccount(ctx, req.AccountId, func(lw *ledger.Writer) error {
		current, err := w.Get(ctx, requestID)
		if err != nil {
			return err
		}
		return fn(lw, current)
	})
}

func (w *Workflow) resolve(ctx context.Context, req *models.TopUpRequest, status models.TopUpStatus, actor, reason string) error {
	now := w.Clock.Now()
	req.Status = status
	req.ReviewerId = actor
	req.Reason = reason
	req.UpdatedAt = now
	req.ResolvedAt = &now

	if err := w.Store.UpdateTopUp(ctx, req, models.TOPUP_PENDING); err != nil {
		return conflictOr(err, "failed to update top-up request")
	}

	w.Metrics.TopUpResolved(string(req.Method), string(status))
	w.Logger.Info("top-up resolved", "request_id", req.Id, "status", status, "actor", actor, "reason", reason)
	return nil
}

// settle credits the account for an approved request and links the transaction.
func (w *Workflow) settle(ctx context.Context, lw *ledger.Writer, req *models.TopUpRequest) (*models.Transaction, error) {
	tx, err := lw.Credit(ctx, ledger.CreditRequest{
		AccountID:   req.AccountId,
		Type:        models.TOPUP,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Reference:   req.Id,
		Description: fmt.Sprintf("Top-up via %s", req.Method),
		ReceiptURL:  req.ReceiptUrl,
		Metadata: map[string]string{
			"topup_request_id":  req.Id,
			"method":            string(req.Method),
			"gateway_reference": req.Reference,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to credit top-up %s: %w", req.Id, err)
	}

	if req.TransactionId != tx.Id {
		req.TransactionId = tx.Id
		req.UpdatedAt = w.Clock.Now()
		if err := w.Store.UpdateTopUp(ctx, req, models.TOPUP_APPROVED); err != nil {
			return nil, conflictOr(err, "failed to link top-up transaction")
		}
	}
	return tx, nil
}

func (w *Workflow) resolved(lw *ledger.Writer, req *models.TopUpRequest) {
	lw.Notify(req.AccountId, websockets.Message{
		Type: websockets.MessageTypeTopUpResolved,
		Payload: websockets.TopUpResolvedPayload{
			RequestID:     req.Id,
			Status:        string(req.Status),
			TransactionID: req.TransactionId,
			Reason:        req.Reason,
		},
	})
}

func invalidTransition(req *models.TopUpRequest, to models.TopUpStatus) error {
	return fmt.Errorf("%w: request %s is %s, cannot become %s", ledger.ErrInvalidTransition, req.Id, req.Status, to)
}

func conflictOr(err error, msg string) error {
	if errors.Is(err, storage.ErrStatusConflict) {
		return fmt.Errorf("%w: %v", ledger.ErrInvalidTransition, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
