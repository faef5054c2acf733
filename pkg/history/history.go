package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/chris/classifieds-wallet/pkg/models"
	"github.com/chris/classifieds-wallet/pkg/storage"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ErrInvalidFilter is returned for an unknown type filter or a negative page.
var ErrInvalidFilter = errors.New("invalid history filter")

// Query selects one page of an account's history. An empty Type means all types;
// zero Page and PageSize take the defaults.
type Query struct {
	AccountID string
	Type      models.TransactionType
	Status    models.TransactionStatus
	Page      int
	PageSize  int
}

// Page is one page of history, newest first.
//
// HasMore is true when the page came back full. It is a hint that the next page is
// worth requesting, not an exact count, and false does not guarantee the end of data
// under concurrent writes.
type Page struct {
	Items    []models.Transaction
	Page     int
	PageSize int
	HasMore  bool
}

// Service is the read path over the transaction log.
type Service struct {
	Store storage.ApiStore
}

// New creates a new Service.
func New(store storage.ApiStore) *Service {
	return &Service{Store: store}
}

// GetHistory returns the requested page of an account's transactions.
func (s *Service) GetHistory(ctx context.Context, q Query) (*Page, error) {
	q, err := normalize(q)
	if err != nil {
		return nil, err
	}

	if _, err := s.Store.GetAccount(ctx, q.AccountID); err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", q.AccountID, err)
	}

	offset := (q.Page - 1) * q.PageSize
	items, err := s.Store.ListTransactions(ctx, q.AccountID, storage.TransactionFilter{Type: q.Type, Status: q.Status}, q.PageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	if items == nil {
		items = []models.Transaction{}
	}

	return &Page{
		Items:    items,
		Page:     q.Page,
		PageSize: q.PageSize,
		HasMore:  len(items) == q.PageSize,
	}, nil
}

func normalize(q Query) (Query, error) {
	if q.Type == "all" {
		q.Type = ""
	}
	if q.Type != "" && !q.Type.Valid() {
		return q, fmt.Errorf("%w: unknown type %q", ErrInvalidFilter, q.Type)
	}
	switch q.Status {
	case "", models.PENDING, models.COMPLETED, models.FAILED:
	default:
		return q, fmt.Errorf("%w: unknown status %q", ErrInvalidFilter, q.Status)
	}
	if q.Page < 0 || q.PageSize < 0 {
		return q, fmt.Errorf("%w: page and page size must not be negative", ErrInvalidFilter)
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PageSize == 0 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	return q, nil
}
