package storage

import (
	"context"

	"github.com/chris/classifieds-wallet/pkg/models"
)

// TopUpFilter narrows a top-up listing. Zero values mean "any".
type TopUpFilter struct {
	AccountID string
	Status    models.TopUpStatus
}

// Matches reports whether req passes the filter.
func (f TopUpFilter) Matches(req *models.TopUpRequest) bool {
	if f.AccountID != "" && req.AccountId != f.AccountID {
		return false
	}
	if f.Status != "" && req.Status != f.Status {
		return false
	}
	return true
}

// TopUpKey is the idempotency key of a top-up submission. It is empty when the
// request carries no reference.
func TopUpKey(accountID string, method models.TopUpMethod, reference string) string {
	if reference == "" {
		return ""
	}
	return accountID + "#" + string(method) + "#" + reference
}

// TopUpStore defines the interface for persisting top-up requests.
type TopUpStore interface {
	// CreateTopUp stores a new request. A request with a reference reserves its
	// (account, method, reference) key; a second request for the same key fails with
	// ErrDuplicateReference.
	CreateTopUp(ctx context.Context, req *models.TopUpRequest) (*models.TopUpRequest, error)

	// FindTopUpByReference returns the request holding the (account, method, reference)
	// key, or ErrTopUpNotFound.
	FindTopUpByReference(ctx context.Context, accountID string, method models.TopUpMethod, reference string) (*models.TopUpRequest, error)

	// GetTopUp returns ErrTopUpNotFound if the request does not exist.
	GetTopUp(ctx context.Context, requestID string) (*models.TopUpRequest, error)

	// ListTopUps returns matching requests, newest first.
	ListTopUps(ctx context.Context, filter TopUpFilter) ([]models.TopUpRequest, error)

	// UpdateTopUp replaces req if the stored request is still in expectedStatus at
	// req.Version. On success req.Version is incremented. Returns ErrStatusConflict otherwise.
	UpdateTopUp(ctx context.Context, req *models.TopUpRequest, expectedStatus models.TopUpStatus) error
}
