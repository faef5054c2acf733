package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chris/classifieds-wallet/pkg/clock"
	"github.com/chris/classifieds-wallet/pkg/lock"
	"github.com/chris/classifieds-wallet/pkg/metrics"
	"github.com/chris/classifieds-wallet/pkg/models"
	"github.com/chris/classifieds-wallet/pkg/storage"
	"github.com/chris/classifieds-wallet/pkg/websockets"
)

// maxAppendAttempts bounds retries after a version conflict, which only happens when
// a writer outside this engine's lock touched the account.
const maxAppendAttempts = 5

// Policy decides how far below zero a deduction may take a balance.
type Policy struct {
	AllowOverdraft bool
	OverdraftLimit int64
}

func (p Policy) floor() int64 {
	if p.AllowOverdraft {
		return -p.OverdraftLimit
	}
	return 0
}

// Config holds the engine's tunables.
type Config struct {
	Policy          Policy
	DefaultCurrency string
	// ConsistencyCheckInterval is how stale an account's last check may be before
	// GetBalance recomputes it from the ledger. Zero disables the lazy check.
	ConsistencyCheckInterval time.Duration
	// LockTimeout bounds the wait for an account's critical section.
	LockTimeout time.Duration
}

// Engine applies balance-affecting operations to accounts. Every mutation of an
// account runs inside that account's critical section.
type Engine struct {
	Store     storage.LedgerStore
	Locker    lock.Locker
	Publisher websockets.Publisher
	Metrics   metrics.Recorder
	Clock     clock.Clock
	Logger    *slog.Logger
	Config    Config
}

// New creates an Engine with no-op notifications and metrics. Callers replace the
// exported fields to wire real ones.
func New(store storage.LedgerStore, locker lock.Locker, cfg Config) *Engine {
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "USD"
	}
	return &Engine{
		Store:     store,
		Locker:    locker,
		Publisher: &websockets.NoOpPublisher{},
		Metrics:   metrics.Noop{},
		Clock:     clock.RealClock{},
		Logger:    slog.Default(),
		Config:    cfg,
	}
}

// CreditRequest describes a balance-affecting write. Amount is a positive magnitude
// for every type except adjustments, where it is a signed delta.
type CreditRequest struct {
	AccountID        string
	Type             models.TransactionType
	Amount           int64
	Currency         string
	Reference        string
	Description      string
	DescriptionLocal string
	RelatedListingID string
	ReceiptURL       string
	Metadata         map[string]string
}

// Reconciliation is the outcome of a consistency check.
type Reconciliation struct {
	Account  *models.Account
	Cached   int64
	Computed int64
	Drifted  bool
}

// InAccount runs fn inside the account's critical section. Writer methods must only
// be used within fn. Notifications queued by fn are sent after the lock is released.
func (e *Engine) InAccount(ctx context.Context, accountID string, fn func(w *Writer) error) error {
	release, err := e.acquire(ctx, accountID)
	if err != nil {
		return err
	}

	w := &Writer{engine: e}
	err = func() error {
		defer release()
		return fn(w)
	}()

	e.flush(ctx, w.events)
	return err
}

func (e *Engine) acquire(ctx context.Context, accountID string) (func(), error) {
	lockCtx := ctx
	if e.Config.LockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, e.Config.LockTimeout)
		defer cancel()
	}

	start := time.Now()
	release, err := e.Locker.Lock(lockCtx, "account:"+accountID)
	e.Metrics.LockWait(time.Since(start))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			e.Metrics.UpstreamTimeout("account_lock")
			return nil, fmt.Errorf("%w: waiting for lock on account %s", ErrUpstreamTimeout, accountID)
		}
		return nil, fmt.Errorf("failed to lock account %s: %w", accountID, err)
	}
	return release, nil
}

func (e *Engine) flush(ctx context.Context, events []notification) {
	for _, n := range events {
		if err := e.Publisher.Publish(ctx, n.userID, n.message); err != nil {
			e.Logger.Error("failed to publish notification", "user_id", n.userID, "type", n.message.Type, "error", err)
		}
	}
}

// OpenAccount returns the account, creating an empty one on first access.
func (e *Engine) OpenAccount(ctx context.Context, accountID, currency string) (*models.Account, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: empty account id", ErrUnknownAccount)
	}

	acct, err := e.Store.GetAccount(ctx, accountID)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, storage.ErrAccountNotFound) {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	if currency == "" {
		currency = e.Config.DefaultCurrency
	}
	now := e.Clock.Now()
	acct = &models.Account{
		Id:        accountID,
		Currency:  strings.ToUpper(currency),
		CreatedAt: now,
		UpdatedAt: now,
		CheckedAt: now,
	}

	if _, err := e.Store.CreateAccount(ctx, acct); err != nil {
		if errors.Is(err, storage.ErrAccountExists) {
			return e.Store.GetAccount(ctx, accountID)
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	e.Logger.Info("account opened", "account_id", accountID, "currency", acct.Currency)
	return acct, nil
}

// GetBalance returns the cached projection. If the last consistency check is older
// than ConsistencyCheckInterval the balance is recomputed first; a failed check is
// logged and the cached value returned.
func (e *Engine) GetBalance(ctx context.Context, accountID string) (*models.Account, error) {
	acct, err := e.Store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	interval := e.Config.ConsistencyCheckInterval
	if interval <= 0 || e.Clock.Now().Sub(acct.CheckedAt) < interval {
		return acct, nil
	}

	rec, err := e.Reconcile(ctx, accountID)
	if err != nil {
		e.Logger.Error("consistency check failed", "account_id", accountID, "error", err)
		return acct, nil
	}
	return rec.Account, nil
}

// Credit applies a completed transaction. Deductions are refused if they would take
// the balance below the policy floor. A repeated reference returns the original
// transaction unchanged.
func (e *Engine) Credit(ctx context.Context, req CreditRequest) (*models.Transaction, error) {
	var tx *models.Transaction
	err := e.InAccount(ctx, req.AccountID, func(w *Writer) error {
		var err error
		tx, err = w.Credit(ctx, req)
		return err
	})
	return tx, err
}

// Adjust applies a signed compensating adjustment. It is the only way to move a
// balance in the opposite direction of a completed transaction and skips the funds check.
func (e *Engine) Adjust(ctx context.Context, req CreditRequest) (*models.Transaction, error) {
	var tx *models.Transaction
	err := e.InAccount(ctx, req.AccountID, func(w *Writer) error {
		var err error
		tx, err = w.Adjust(ctx, req)
		return err
	})
	return tx, err
}

// Hold records a pending transaction with no balance effect.
func (e *Engine) Hold(ctx context.Context, req CreditRequest) (*models.Transaction, error) {
	var tx *models.Transaction
	err := e.InAccount(ctx, req.AccountID, func(w *Writer) error {
		var err error
		tx, err = w.Hold(ctx, req)
		return err
	})
	return tx, err
}

// Complete moves a pending transaction to completed and applies it to the balance.
func (e *Engine) Complete(ctx context.Context, txID string) (*models.Transaction, error) {
	return e.onTransaction(ctx, txID, func(w *Writer) (*models.Transaction, error) {
		return w.Complete(ctx, txID)
	})
}

// MarkFailed moves a pending transaction to failed. Failing an already failed
// transaction is a no-op; failing a completed one is an invalid transition.
func (e *Engine) MarkFailed(ctx context.Context, txID, reason string) (*models.Transaction, error) {
	return e.onTransaction(ctx, txID, func(w *Writer) (*models.Transaction, error) {
		return w.MarkFailed(ctx, txID, reason)
	})
}

// AttachReceipt sets the receipt URL of a transaction. It is the only field that may
// change after completion.
func (e *Engine) AttachReceipt(ctx context.Context, txID, receiptURL string) (*models.Transaction, error) {
	return e.onTransaction(ctx, txID, func(w *Writer) (*models.Transaction, error) {
		return w.AttachReceipt(ctx, txID, receiptURL)
	})
}

func (e *Engine) onTransaction(ctx context.Context, txID string, fn func(w *Writer) (*models.Transaction, error)) (*models.Transaction, error) {
	current, err := e.Transaction(ctx, txID)
	if err != nil {
		return nil, err
	}

	var tx *models.Transaction
	err = e.InAccount(ctx, current.AccountId, func(w *Writer) error {
		var err error
		tx, err = fn(w)
		return err
	})
	return tx, err
}

// Transaction returns a single transaction.
func (e *Engine) Transaction(ctx context.Context, txID string) (*models.Transaction, error) {
	tx, err := e.Store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", txID, err)
	}
	return tx, nil
}

// Reconcile recomputes the balance from the ledger, records any drift and repairs
// the cached projection.
func (e *Engine) Reconcile(ctx context.Context, accountID string) (*Reconciliation, error) {
	var rec *Reconciliation
	err := e.InAccount(ctx, accountID, func(w *Writer) error {
		var err error
		rec, err = w.Reconcile(ctx, accountID)
		return err
	})
	return rec, err
}

// DriftHistory lists the drift records of an account.
func (e *Engine) DriftHistory(ctx context.Context, accountID string) ([]models.DriftRecord, error) {
	records, err := e.Store.ListDrift(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list drift records: %w", err)
	}
	return records, nil
}
