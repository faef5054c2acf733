package storage

import (
	"context"

	"github.com/chris/classifieds-wallet/pkg/models"
)

// AccountStore defines the interface for managing account projections.
type AccountStore interface {
	// GetAccount retrieves an account by ID. Returns ErrAccountNotFound if absent.
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)

	// CreateAccount stores a new account. Returns ErrAccountExists if the ID is taken.
	CreateAccount(ctx context.Context, account *models.Account) (*models.Account, error)

	// ListAccounts retrieves all accounts.
	ListAccounts(ctx context.Context) ([]models.Account, error)

	// SaveReconciliation overwrites the cached balance after a consistency check.
	// It fails with ErrVersionConflict if the account changed since expectedVersion.
	SaveReconciliation(ctx context.Context, account *models.Account, expectedVersion int64) error
}

// ApiStore defines the read-only operations used by the query surfaces
// (history, advisory).
type ApiStore interface {
	AccountStore
	TransactionReader
}
