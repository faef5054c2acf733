package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/chris/classifieds-wallet/pkg/models"
	"github.com/chris/classifieds-wallet/pkg/storage"
	"github.com/jackc/pgx/v5"
)

const accountColumns = `id, currency, balance, version, created_at, updated_at, checked_at`

func scanAccount(row pgx.Row) (models.Account, error) {
	var a models.Account
	err := row.Scan(&a.Id, &a.Currency, &a.Balance, &a.Version, &a.CreatedAt, &a.UpdatedAt, &a.CheckedAt)
	return a, err
}

func (s *Store) CreateAccount(ctx context.Context, account *models.Account) (*models.Account, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, account.Id, account.Currency, account.Balance, account.Version, account.CreatedAt, account.UpdatedAt, account.CheckedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			return nil, storage.ErrAccountExists
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return account, nil
}

func (s *Store) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &a, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	accounts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Account, error) {
		return scanAccount(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan accounts: %w", err)
	}
	return accounts, nil
}

func (s *Store) SaveReconciliation(ctx context.Context, account *models.Account, expectedVersion int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET balance = $3, checked_at = $4, updated_at = $5, version = version + 1
		WHERE id = $1 AND version = $2
	`, account.Id, expectedVersion, account.Balance, account.CheckedAt, account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save reconciliation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrVersionConflict
	}
	account.Version = expectedVersion + 1
	return nil
}

// applyBalance moves the cached balance inside tx, guarded by the account version.
func applyBalance(ctx context.Context, tx pgx.Tx, t *models.Transaction, expectedVersion int64) error {
	at := t.CreatedAt
	if t.CompletedAt != nil {
		at = *t.CompletedAt
	}
	tag, err := tx.Exec(ctx, `
		UPDATE accounts SET balance = $3, updated_at = $4, version = version + 1
		WHERE id = $1 AND version = $2
	`, t.AccountId, expectedVersion, t.BalanceAfter, at)
	if err != nil {
		return fmt.Errorf("failed to update account balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrVersionConflict
	}
	return nil
}
