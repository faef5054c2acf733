package storage

import (
	"context"
	"time"

	"github.com/chris/classifieds-wallet/pkg/models"
)

// TransactionFilter narrows a transaction listing. Zero values mean "any".
type TransactionFilter struct {
	Type   models.TransactionType
	Status models.TransactionStatus
	Since  time.Time
}

// Matches reports whether tx passes the filter.
func (f TransactionFilter) Matches(tx *models.Transaction) bool {
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	if f.Status != "" && tx.Status != f.Status {
		return false
	}
	if !f.Since.IsZero() && tx.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

// TransactionReader defines the interface for reading transaction data.
type TransactionReader interface {
	// GetTransaction retrieves a transaction by its ID.
	GetTransaction(ctx context.Context, txID string) (*models.Transaction, error)

	// FindByReference retrieves the non-failed transaction holding (accountID, reference).
	FindByReference(ctx context.Context, accountID, reference string) (*models.Transaction, error)

	// ListTransactions returns an account's transactions newest first (ties broken by ID, descending),
	// skipping offset matches and returning at most limit.
	ListTransactions(ctx context.Context, accountID string, filter TransactionFilter, limit, offset int) ([]models.Transaction, error)

	// SumCompleted returns the signed sum of all completed transactions of an account.
	// Returns ErrLedgerBehind if the log read is older than the cached balance.
	SumCompleted(ctx context.Context, accountID string) (int64, error)
}

// SortKey returns the ordering key used for listing: fixed-width UTC time then ID,
// so lexical order matches (createdAt, id).
func SortKey(tx *models.Transaction) string {
	return SortTime(tx.CreatedAt) + "#" + tx.Id
}

// SortTime formats t in the fixed-width layout used by SortKey.
func SortTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}
