package storage

// Storage defines the root interface for the entire data layer.
// It composes all available storage operations. Components should depend on the
// more granular interfaces (LedgerStore, TopUpStore, ApiStore) instead of this one.
type Storage interface {
	LedgerStore
	TopUpStore
}

// LedgerStore is everything the transaction engine needs: the account projections,
// the append-only transaction log and the drift audit trail.
type LedgerStore interface {
	AccountStore
	TransactionReader
	LedgerWriter
	AuditStore
}
