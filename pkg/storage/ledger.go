package storage

import (
	"context"

	"github.com/chris/classifieds-wallet/pkg/models"
)

// LedgerWriter defines the write side of the transaction log. Every method that
// touches a balance does so in the same atomic unit as the transaction write.
type LedgerWriter interface {
	// AppendTransaction inserts tx. If tx is completed, the account balance is set to
	// tx.BalanceAfter and its version bumped, conditioned on expectedVersion.
	// Returns ErrDuplicateReference if (account, reference) is already held by a
	// non-failed transaction and ErrVersionConflict on a stale version.
	AppendTransaction(ctx context.Context, tx *models.Transaction, expectedVersion int64) error

	// CompleteTransaction moves a pending tx to completed, applying tx.BalanceAfter to
	// the account. Returns ErrStatusConflict if the stored tx is no longer pending.
	CompleteTransaction(ctx context.Context, tx *models.Transaction, expectedVersion int64) error

	// FailTransaction moves a pending tx to failed and releases its reference.
	// Returns ErrStatusConflict if the stored tx is no longer pending.
	FailTransaction(ctx context.Context, tx *models.Transaction) error

	// AttachTransactionReceipt sets the receipt URL of an existing transaction.
	AttachTransactionReceipt(ctx context.Context, txID, receiptURL string) error
}

// AuditStore records balance drift found by consistency checks.
type AuditStore interface {
	RecordDrift(ctx context.Context, record *models.DriftRecord) error
	ListDrift(ctx context.Context, accountID string) ([]models.DriftRecord, error)
}
