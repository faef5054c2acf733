package postgres

import (
	"context"
	"fmt"

	"github.com/chris/classifieds-wallet/pkg/models"
	"github.com/chris/classifieds-wallet/pkg/storage"
	"github.com/jackc/pgx/v5"
)

func (s *Store) AppendTransaction(ctx context.Context, t *models.Transaction, expectedVersion int64) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO transactions (`+transactionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		`,
			t.Id, t.AccountId, t.Type, t.Amount, t.Currency, t.Status, t.Description, t.DescriptionLocal,
			t.Reference, t.RelatedListingId, t.ReceiptUrl, t.FailureReason, t.Metadata, t.BalanceAfter,
			t.CreatedAt, t.CompletedAt,
		)
		if err != nil {
			if isUniqueViolation(err, referenceConstraint) {
				return storage.ErrDuplicateReference
			}
			return fmt.Errorf("failed to insert transaction: %w", err)
		}

		if t.Status == models.COMPLETED {
			if err := applyBalance(ctx, tx, t, expectedVersion); err != nil {
				return err
			}
		}
		t.SortKey = storage.SortKey(t)
		return nil
	})
}

func (s *Store) CompleteTransaction(ctx context.Context, t *models.Transaction, expectedVersion int64) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE transactions SET status = $2, completed_at = $3, balance_after = $4
			WHERE id = $1 AND status = $5
		`, t.Id, models.COMPLETED, t.CompletedAt, t.BalanceAfter, models.PENDING)
		if err != nil {
			return fmt.Errorf("failed to complete transaction: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return s.missingOrConflict(ctx, tx, t.Id)
		}
		return applyBalance(ctx, tx, t, expectedVersion)
	})
}

func (s *Store) FailTransaction(ctx context.Context, t *models.Transaction) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE transactions SET status = $2, failure_reason = $3
			WHERE id = $1 AND status = $4
		`, t.Id, models.FAILED, t.FailureReason, models.PENDING)
		if err != nil {
			return fmt.Errorf("failed to fail transaction: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return s.missingOrConflict(ctx, tx, t.Id)
		}
		return nil
	})
}

func (s *Store) AttachTransactionReceipt(ctx context.Context, txID, receiptURL string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE transactions SET receipt_url = $2 WHERE id = $1`, txID, receiptURL)
	if err != nil {
		return fmt.Errorf("failed to attach receipt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrTransactionNotFound
	}
	return nil
}

func (s *Store) RecordDrift(ctx context.Context, record *models.DriftRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO balance_drift (account_id, cached, computed, detected_at) VALUES ($1, $2, $3, $4)
	`, record.AccountId, record.Cached, record.Computed, record.DetectedAt)
	if err != nil {
		return fmt.Errorf("failed to record drift: %w", err)
	}
	return nil
}

func (s *Store) ListDrift(ctx context.Context, accountID string) ([]models.DriftRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT account_id, cached, computed, detected_at FROM balance_drift WHERE account_id = $1 ORDER BY id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list drift records: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.DriftRecord, error) {
		var r models.DriftRecord
		err := row.Scan(&r.AccountId, &r.Cached, &r.Computed, &r.DetectedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan drift records: %w", err)
	}
	return records, nil
}

// inTx runs fn in a database transaction, committing only if fn succeeds.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) missingOrConflict(ctx context.Context, tx pgx.Tx, txID string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1)`, txID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check transaction: %w", err)
	}
	if !exists {
		return storage.ErrTransactionNotFound
	}
	return storage.ErrStatusConflict
}
