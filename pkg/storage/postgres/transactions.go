package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chris/classifieds-wallet/pkg/models"
	"github.com/chris/classifieds-wallet/pkg/storage"
	"github.com/jackc/pgx/v5"
)

const transactionColumns = `id, account_id, type, amount, currency, status, description, description_local,
	reference, related_listing_id, receipt_url, failure_reason, metadata, balance_after, created_at, completed_at`

func scanTransaction(row pgx.Row) (models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(
		&t.Id,
		&t.AccountId,
		&t.Type,
		&t.Amount,
		&t.Currency,
		&t.Status,
		&t.Description,
		&t.DescriptionLocal,
		&t.Reference,
		&t.RelatedListingId,
		&t.ReceiptUrl,
		&t.FailureReason,
		&t.Metadata,
		&t.BalanceAfter,
		&t.CreatedAt,
		&t.CompletedAt,
	)
	if err != nil {
		return t, err
	}
	t.SortKey = storage.SortKey(&t)
	return t, nil
}

func (s *Store) GetTransaction(ctx context.Context, txID string) (*models.Transaction, error) {
	t, err := scanTransaction(s.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, txID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &t, nil
}

func (s *Store) FindByReference(ctx context.Context, accountID, reference string) (*models.Transaction, error) {
	t, err := scanTransaction(s.pool.QueryRow(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE account_id = $1 AND reference = $2 AND status <> 'failed'
	`, accountID, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to find transaction by reference: %w", err)
	}
	return &t, nil
}

func (s *Store) ListTransactions(ctx context.Context, accountID string, filter storage.TransactionFilter, limit, offset int) ([]models.Transaction, error) {
	conds := []string{"account_id = $1"}
	args := []any{accountID}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conds = append(conds, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` + strings.Join(conds, " AND ") +
		` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	txs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Transaction, error) {
		return scanTransaction(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan transactions: %w", err)
	}
	return txs, nil
}

func (s *Store) SumCompleted(ctx context.Context, accountID string) (int64, error) {
	var sum int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN type = $2 THEN -amount ELSE amount END), 0)
		FROM transactions
		WHERE account_id = $1 AND status = $3
	`, accountID, models.DEDUCTION, models.COMPLETED).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum completed transactions: %w", err)
	}
	return sum, nil
}
