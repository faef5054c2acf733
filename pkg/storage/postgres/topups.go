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

const topUpColumns = `id, account_id, requester_id, method, amount, currency, status, reference, receipt_url,
	reviewer_id, reason, transaction_id, version, created_at, updated_at, resolved_at`

func scanTopUp(row pgx.Row) (models.TopUpRequest, error) {
	var r models.TopUpRequest
	err := row.Scan(
		&r.Id,
		&r.AccountId,
		&r.RequesterId,
		&r.Method,
		&r.Amount,
		&r.Currency,
		&r.Status,
		&r.Reference,
		&r.ReceiptUrl,
		&r.ReviewerId,
		&r.Reason,
		&r.TransactionId,
		&r.Version,
		&r.CreatedAt,
		&r.UpdatedAt,
		&r.ResolvedAt,
	)
	return r, err
}

func (s *Store) CreateTopUp(ctx context.Context, req *models.TopUpRequest) (*models.TopUpRequest, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO topup_requests (`+topUpColumns+`, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NULLIF($17, ''))
	`,
		req.Id, req.AccountId, req.RequesterId, req.Method, req.Amount, req.Currency, req.Status, req.Reference,
		req.ReceiptUrl, req.ReviewerId, req.Reason, req.TransactionId, req.Version, req.CreatedAt, req.UpdatedAt,
		req.ResolvedAt, storage.TopUpKey(req.AccountId, req.Method, req.Reference),
	)
	if err != nil {
		if isUniqueViolation(err, topUpKeyConstraint) {
			return nil, storage.ErrDuplicateReference
		}
		return nil, fmt.Errorf("failed to create top-up request: %w", err)
	}
	return req, nil
}

func (s *Store) FindTopUpByReference(ctx context.Context, accountID string, method models.TopUpMethod, reference string) (*models.TopUpRequest, error) {
	key := storage.TopUpKey(accountID, method, reference)
	if key == "" {
		return nil, storage.ErrTopUpNotFound
	}
	r, err := scanTopUp(s.pool.QueryRow(ctx, `SELECT `+topUpColumns+` FROM topup_requests WHERE idempotency_key = $1`, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrTopUpNotFound
		}
		return nil, fmt.Errorf("failed to find top-up request: %w", err)
	}
	return &r, nil
}

func (s *Store) GetTopUp(ctx context.Context, requestID string) (*models.TopUpRequest, error) {
	r, err := scanTopUp(s.pool.QueryRow(ctx, `SELECT `+topUpColumns+` FROM topup_requests WHERE id = $1`, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrTopUpNotFound
		}
		return nil, fmt.Errorf("failed to get top-up request: %w", err)
	}
	return &r, nil
}

func (s *Store) ListTopUps(ctx context.Context, filter storage.TopUpFilter) ([]models.TopUpRequest, error) {
	var (
		conds []string
		args  []any
	)
	if filter.AccountID != "" {
		args = append(args, filter.AccountID)
		conds = append(conds, fmt.Sprintf("account_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + topUpColumns + ` FROM topup_requests`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list top-up requests: %w", err)
	}
	reqs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.TopUpRequest, error) {
		return scanTopUp(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan top-up requests: %w", err)
	}
	return reqs, nil
}

func (s *Store) UpdateTopUp(ctx context.Context, req *models.TopUpRequest, expectedStatus models.TopUpStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE topup_requests
		SET status = $3, reference = $4, receipt_url = $5, reviewer_id = $6, reason = $7,
			transaction_id = $8, updated_at = $9, resolved_at = $10, version = version + 1
		WHERE id = $1 AND version = $2 AND status = $11
	`,
		req.Id, req.Version, req.Status, req.Reference, req.ReceiptUrl, req.ReviewerId, req.Reason,
		req.TransactionId, req.UpdatedAt, req.ResolvedAt, expectedStatus,
	)
	if err != nil {
		return fmt.Errorf("failed to update top-up request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrStatusConflict
	}
	req.Version++
	return nil
}

func (s *Store) AddConnection(ctx context.Context, connectionID, userID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO websocket_connections (connection_id, user_id) VALUES ($1, $2)
		ON CONFLICT (connection_id) DO UPDATE SET user_id = EXCLUDED.user_id
	`, connectionID, userID)
	if err != nil {
		return fmt.Errorf("failed to add connection: %w", err)
	}
	return nil
}

func (s *Store) RemoveConnection(ctx context.Context, connectionID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM websocket_connections WHERE connection_id = $1`, connectionID); err != nil {
		return fmt.Errorf("failed to remove connection: %w", err)
	}
	return nil
}

func (s *Store) GetConnections(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT connection_id FROM websocket_connections WHERE user_id = $1 ORDER BY connection_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan connections: %w", err)
	}
	return ids, nil
}
