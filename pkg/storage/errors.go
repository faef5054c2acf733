package storage

import "errors"

// ErrDuplicateReference is returned when a non-failed transaction with the same
// (account, reference) pair already exists.
var ErrDuplicateReference = errors.New("duplicate transaction reference")

// ErrVersionConflict is returned when an account was modified since it was read.
var ErrVersionConflict = errors.New("account version conflict")

// ErrStatusConflict is returned when a conditional status transition finds the record in another state.
var ErrStatusConflict = errors.New("record status changed concurrently")

// ErrLedgerBehind is returned when the transaction log read for an account has not yet
// caught up with the completed transactions already applied to its balance.
var ErrLedgerBehind = errors.New("ledger read lags the account balance")

// ErrAccountNotFound is returned when no account exists for the given ID.
var ErrAccountNotFound = errors.New("account not found")

// ErrAccountExists is returned when creating an account that already exists.
var ErrAccountExists = errors.New("account already exists")

// ErrTransactionNotFound is returned when no transaction matches the lookup.
var ErrTransactionNotFound = errors.New("transaction not found")

// ErrTopUpNotFound is returned when no top-up request exists for the given ID.
var ErrTopUpNotFound = errors.New("top-up request not found")
