package ledger

import (
	"errors"

	"github.com/chris/classifieds-wallet/pkg/storage"
)

// ErrInvalidAmount is returned when an amount is zero, negative where a magnitude is expected,
// or otherwise unusable.
var ErrInvalidAmount = errors.New("invalid amount")

// ErrInvalidType is returned for an unknown transaction type or one the operation does not accept.
var ErrInvalidType = errors.New("invalid transaction type")

// ErrMissingReference is returned when a write has no idempotency reference.
var ErrMissingReference = errors.New("reference is required")

// ErrCurrencyMismatch is returned when a write's currency differs from the account's.
var ErrCurrencyMismatch = errors.New("currency does not match account")

// ErrInsufficientFunds is returned when a deduction would take the balance below the allowed floor.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrInvalidTransition is returned when a status change is not allowed from the current state.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrUpstreamTimeout is returned when an external dependency did not answer in time.
var ErrUpstreamTimeout = errors.New("upstream timeout")

// ErrUnknownAccount is returned when the account does not exist.
var ErrUnknownAccount = storage.ErrAccountNotFound

// ErrUnknownTransaction is returned when the transaction does not exist.
var ErrUnknownTransaction = storage.ErrTransactionNotFound

// ErrMissingReceipt is returned when a receipt attachment has no URL.
var ErrMissingReceipt = errors.New("receipt url is required")
