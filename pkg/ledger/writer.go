package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chris/classifieds-wallet/pkg/ids"
	"github.com/chris/classifieds-wallet/pkg/models"
	"github.com/chris/classifieds-wallet/pkg/storage"
	"github.com/chris/classifieds-wallet/pkg/websockets"
)

// Writer performs ledger writes for an account whose critical section is already held.
// Obtain one through Engine.InAccount.
type Writer struct {
	engine *Engine
	events []notification
}

type notification struct {
	userID  string
	message websockets.Message
}

// Credit applies a completed, positive-magnitude transaction.
func (w *Writer) Credit(ctx context.Context, req CreditRequest) (*models.Transaction, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	return w.apply(ctx, req, models.COMPLETED, true)
}

// Hold records a pending transaction. Deductions are checked against the current
// balance so a hold that could never complete is refused up front.
func (w *Writer) Hold(ctx context.Context, req CreditRequest) (*models.Transaction, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	return w.apply(ctx, req, models.PENDING, true)
}

// Adjust applies a signed adjustment without a funds check.
func (w *Writer) Adjust(ctx context.Context, req CreditRequest) (*models.Transaction, error) {
	req.Type = models.ADJUSTMENT
	if req.Amount == 0 {
		return nil, fmt.Errorf("%w: adjustment must be non-zero", ErrInvalidAmount)
	}
	if req.Reference == "" {
		return nil, ErrMissingReference
	}
	return w.apply(ctx, req, models.COMPLETED, false)
}

func validate(req CreditRequest) error {
	if req.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidAmount, req.Amount)
	}
	if !req.Type.Valid() || req.Type == models.ADJUSTMENT {
		return fmt.Errorf("%w: %q", ErrInvalidType, req.Type)
	}
	if req.Reference == "" {
		return ErrMissingReference
	}
	return nil
}

func (w *Writer) apply(ctx context.Context, req CreditRequest, status models.TransactionStatus, checkFunds bool) (*models.Transaction, error) {
	e := w.engine

	existing, err := e.Store.FindByReference(ctx, req.AccountID, req.Reference)
	if err == nil {
		e.Metrics.DuplicateReference()
		return existing, nil
	}
	if !errors.Is(err, storage.ErrTransactionNotFound) {
		return nil, fmt.Errorf("failed to look up reference: %w", err)
	}

	for attempt := 1; ; attempt++ {
		acct, err := e.Store.GetAccount(ctx, req.AccountID)
		if err != nil {
			return nil, fmt.Errorf("failed to get account: %w", err)
		}

		currency := strings.ToUpper(req.Currency)
		if currency == "" {
			currency = acct.Currency
		} else if currency != acct.Currency {
			return nil, fmt.Errorf("%w: %s != %s", ErrCurrencyMismatch, currency, acct.Currency)
		}

		now := e.Clock.Now()
		tx := &models.Transaction{
			Id:               ids.NewTransactionID(now),
			AccountId:        req.AccountID,
			Type:             req.Type,
			Amount:           req.Amount,
			Currency:         currency,
			Status:           status,
			Description:      req.Description,
			DescriptionLocal: req.DescriptionLocal,
			Reference:        req.Reference,
			RelatedListingId: req.RelatedListingID,
			ReceiptUrl:       req.ReceiptURL,
			Metadata:         req.Metadata,
			CreatedAt:        now,
		}

		delta := tx.SignedAmount()
		if checkFunds && delta < 0 && acct.Balance+delta < e.Config.Policy.floor() {
			e.Metrics.InsufficientFunds()
			return nil, fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientFunds, acct.Balance, -delta)
		}
		if status == models.COMPLETED {
			tx.BalanceAfter = acct.Balance + delta
			tx.CompletedAt = &now
		} else {
			tx.BalanceAfter = acct.Balance
		}

		err = e.Store.AppendTransaction(ctx, tx, acct.Version)
		switch {
		case err == nil:
			e.Metrics.TransactionApplied(string(tx.Type), string(tx.Status))
			e.Logger.Info("transaction applied",
				"transaction_id", tx.Id,
				"account_id", tx.AccountId,
				"type", tx.Type,
				"status", tx.Status,
				"amount", tx.Amount,
				"balance_after", tx.BalanceAfter,
			)
			if status == models.COMPLETED {
				w.balanceChanged(tx, delta)
			}
			return tx, nil

		case errors.Is(err, storage.ErrDuplicateReference):
			e.Metrics.DuplicateReference()
			original, err := e.Store.FindByReference(ctx, req.AccountID, req.Reference)
			if err != nil {
				return nil, fmt.Errorf("failed to load transaction for duplicate reference: %w", err)
			}
			return original, nil

		case errors.Is(err, storage.ErrVersionConflict) && attempt < maxAppendAttempts:
			e.Logger.Warn("account version conflict, retrying", "account_id", req.AccountID, "attempt", attempt)
			continue

		default:
			return nil, fmt.Errorf("failed to append transaction: %w", err)
		}
	}
}

// Complete moves a pending transaction to completed.
func (w *Writer) Complete(ctx context.Context, txID string) (*models.Transaction, error) {
	e := w.engine

	for attempt := 1; ; attempt++ {
		tx, err := e.Store.GetTransaction(ctx, txID)
		if err != nil {
			return nil, fmt.Errorf("failed to get transaction %s: %w", txID, err)
		}
		switch tx.Status {
		case models.COMPLETED:
			return tx, nil
		case models.FAILED:
			return nil, fmt.Errorf("%w: transaction %s is failed", ErrInvalidTransition, txID)
		}

		acct, err := e.Store.GetAccount(ctx, tx.AccountId)
		if err != nil {
			return nil, fmt.Errorf("failed to get account: %w", err)
		}

		delta := tx.SignedAmount()
		if delta < 0 && acct.Balance+delta < e.Config.Policy.floor() {
			e.Metrics.InsufficientFunds()
			return nil, fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientFunds, acct.Balance, -delta)
		}

		now := e.Clock.Now()
		tx.Status = models.COMPLETED
		tx.BalanceAfter = acct.Balance + delta
		tx.CompletedAt = &now

		err = e.Store.CompleteTransaction(ctx, tx, acct.Version)
		switch {
		case err == nil:
			e.Metrics.TransactionApplied(string(tx.Type), string(tx.Status))
			e.Logger.Info("transaction completed", "transaction_id", tx.Id, "account_id", tx.AccountId, "balance_after", tx.BalanceAfter)
			w.balanceChanged(tx, delta)
			return tx, nil
		case (errors.Is(err, storage.ErrVersionConflict) || errors.Is(err, storage.ErrStatusConflict)) && attempt < maxAppendAttempts:
			continue
		default:
			return nil, fmt.Errorf("failed to complete transaction: %w", err)
		}
	}
}

// MarkFailed moves a pending transaction to failed and frees its reference.
func (w *Writer) MarkFailed(ctx context.Context, txID, reason string) (*models.Transaction, error) {
	e := w.engine

	tx, err := e.Store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", txID, err)
	}
	switch tx.Status {
	case models.FAILED:
		return tx, nil
	case models.COMPLETED:
		return nil, fmt.Errorf("%w: transaction %s is completed", ErrInvalidTransition, txID)
	}

	tx.Status = models.FAILED
	tx.FailureReason = reason
	if err := e.Store.FailTransaction(ctx, tx); err != nil {
		if errors.Is(err, storage.ErrStatusConflict) {
			return w.MarkFailed(ctx, txID, reason)
		}
		return nil, fmt.Errorf("failed to mark transaction failed: %w", err)
	}

	e.Metrics.TransactionApplied(string(tx.Type), string(tx.Status))
	e.Logger.Info("transaction failed", "transaction_id", tx.Id, "account_id", tx.AccountId, "reason", reason)
	return tx, nil
}

// AttachReceipt sets the receipt URL of a transaction.
func (w *Writer) AttachReceipt(ctx context.Context, txID, receiptURL string) (*models.Transaction, error) {
	if receiptURL == "" {
		return nil, ErrMissingReceipt
	}
	if err := w.engine.Store.AttachTransactionReceipt(ctx, txID, receiptURL); err != nil {
		return nil, fmt.Errorf("failed to attach receipt: %w", err)
	}
	return w.engine.Transaction(ctx, txID)
}

// Reconcile recomputes the account balance from its completed transactions.
func (w *Writer) Reconcile(ctx context.Context, accountID string) (*Reconciliation, error) {
	e := w.engine

	acct, err := e.Store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	sum, err := e.Store.SumCompleted(ctx, accountID)
	if errors.Is(err, storage.ErrLedgerBehind) {
		// The cached balance is newer than the log read; healing now would undo it.
		e.Logger.Info("skipping consistency check, ledger not caught up", "account_id", accountID, "error", err)
		return &Reconciliation{Account: acct, Cached: acct.Balance, Computed: acct.Balance}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to sum ledger: %w", err)
	}

	now := e.Clock.Now()
	rec := &Reconciliation{Cached: acct.Balance, Computed: sum}
	if sum != acct.Balance {
		rec.Drifted = true
		e.Metrics.DriftDetected(sum - acct.Balance)
		e.Logger.Warn("balance drift detected", "account_id", accountID, "cached", acct.Balance, "computed", sum)

		record := &models.DriftRecord{AccountId: accountID, Cached: acct.Balance, Computed: sum, DetectedAt: now}
		if err := e.Store.RecordDrift(ctx, record); err != nil {
			e.Logger.Error("failed to record drift", "account_id", accountID, "error", err)
		}
		acct.UpdatedAt = now
	}

	expected := acct.Version
	acct.Balance = sum
	acct.CheckedAt = now
	if err := e.Store.SaveReconciliation(ctx, acct, expected); err != nil {
		return nil, fmt.Errorf("failed to save reconciliation: %w", err)
	}

	rec.Account = acct
	return rec, nil
}

func (w *Writer) balanceChanged(tx *models.Transaction, delta int64) {
	w.events = append(w.events, notification{
		userID: tx.AccountId,
		message: websockets.Message{
			Type: websockets.MessageTypeBalanceUpdated,
			Payload: websockets.BalanceUpdatedPayload{
				AccountID:     tx.AccountId,
				TransactionID: tx.Id,
				Change:        delta,
				NewBalance:    tx.BalanceAfter,
				Currency:      tx.Currency,
			},
		},
	})
}

// Notify queues a message for userID, delivered once the critical section is released.
func (w *Writer) Notify(userID string, message websockets.Message) {
	w.events = append(w.events, notification{userID: userID, message: message})
}
