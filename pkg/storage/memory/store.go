package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/chris/classifieds-wallet/pkg/models"
	"github.com/chris/classifieds-wallet/pkg/storage"
)

// Store implements the Storage interface in process memory. Every write that
// touches both a transaction and an account happens under one mutex, which gives
// the same all-or-nothing visibility as the DynamoDB and Postgres stores.
type Store struct {
	mu           sync.RWMutex
	accounts     map[string]*models.Account
	transactions map[string]*models.Transaction
	byAccount    map[string][]string
	references   map[string]string
	topUps       map[string]*models.TopUpRequest
	topUpRefs    map[string]string
	drift        map[string][]models.DriftRecord
	connections  map[string]string
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		accounts:     make(map[string]*models.Account),
		transactions: make(map[string]*models.Transaction),
		byAccount:    make(map[string][]string),
		references:   make(map[string]string),
		topUps:       make(map[string]*models.TopUpRequest),
		topUpRefs:    make(map[string]string),
		drift:        make(map[string][]models.DriftRecord),
		connections:  make(map[string]string),
	}
}

// Make sure we conform to the interfaces
var _ storage.Storage = (*Store)(nil)
var _ storage.WebSocketManager = (*Store)(nil)

func referenceKey(accountID, reference string) string {
	return accountID + "\x00" + reference
}

func copyTx(tx *models.Transaction) *models.Transaction {
	c := *tx
	if tx.Metadata != nil {
		c.Metadata = make(map[string]string, len(tx.Metadata))
		for k, v := range tx.Metadata {
			c.Metadata[k] = v
		}
	}
	if tx.CompletedAt != nil {
		t := *tx.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func (s *Store) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return nil, storage.ErrAccountNotFound
	}
	c := *acct
	return &c, nil
}

func (s *Store) CreateAccount(ctx context.Context, account *models.Account) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.Id]; ok {
		return nil, storage.ErrAccountExists
	}
	c := *account
	s.accounts[account.Id] = &c
	return account, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]models.Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		accounts = append(accounts, *acct)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Id < accounts[j].Id })
	return accounts, nil
}

func (s *Store) SaveReconciliation(ctx context.Context, account *models.Account, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[account.Id]
	if !ok {
		return storage.ErrAccountNotFound
	}
	if acct.Version != expectedVersion {
		return storage.ErrVersionConflict
	}
	acct.Balance = account.Balance
	acct.CheckedAt = account.CheckedAt
	acct.UpdatedAt = account.UpdatedAt
	acct.Version++
	account.Version = acct.Version
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, txID string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[txID]
	if !ok {
		return nil, storage.ErrTransactionNotFound
	}
	return copyTx(tx), nil
}

func (s *Store) FindByReference(ctx context.Context, accountID, reference string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.references[referenceKey(accountID, reference)]
	if !ok {
		return nil, storage.ErrTransactionNotFound
	}
	return copyTx(s.transactions[id]), nil
}

func (s *Store) ListTransactions(ctx context.Context, accountID string, filter storage.TransactionFilter, limit, offset int) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Transaction
	for _, id := range s.byAccount[accountID] {
		tx := s.transactions[id]
		if filter.Matches(tx) {
			matched = append(matched, tx)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return strings.Compare(storage.SortKey(matched[i]), storage.SortKey(matched[j])) > 0
	})

	if offset >= len(matched) {
		return []models.Transaction{}, nil
	}
	end := len(matched)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	result := make([]models.Transaction, 0, end-offset)
	for _, tx := range matched[offset:end] {
		result = append(result, *copyTx(tx))
	}
	return result, nil
}

func (s *Store) SumCompleted(ctx context.Context, accountID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum int64
	for _, id := range s.byAccount[accountID] {
		tx := s.transactions[id]
		if tx.Status == models.COMPLETED {
			sum += tx.SignedAmount()
		}
	}
	return sum, nil
}

func (s *Store) AppendTransaction(ctx context.Context, tx *models.Transaction, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	refKey := referenceKey(tx.AccountId, tx.Reference)
	if _, ok := s.references[refKey]; ok {
		return storage.ErrDuplicateReference
	}

	if tx.Status == models.COMPLETED {
		acct, ok := s.accounts[tx.AccountId]
		if !ok {
			return storage.ErrAccountNotFound
		}
		if acct.Version != expectedVersion {
			return storage.ErrVersionConflict
		}
		acct.Balance = tx.BalanceAfter
		acct.UpdatedAt = tx.CreatedAt
		acct.Version++
	}

	tx.SortKey = storage.SortKey(tx)
	s.transactions[tx.Id] = copyTx(tx)
	s.byAccount[tx.AccountId] = append(s.byAccount[tx.AccountId], tx.Id)
	s.references[refKey] = tx.Id
	return nil
}

func (s *Store) CompleteTransaction(ctx context.Context, tx *models.Transaction, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.transactions[tx.Id]
	if !ok {
		return storage.ErrTransactionNotFound
	}
	if stored.Status != models.PENDING {
		return storage.ErrStatusConflict
	}
	acct, ok := s.accounts[tx.AccountId]
	if !ok {
		return storage.ErrAccountNotFound
	}
	if acct.Version != expectedVersion {
		return storage.ErrVersionConflict
	}

	acct.Balance = tx.BalanceAfter
	if tx.CompletedAt != nil {
		acct.UpdatedAt = *tx.CompletedAt
	}
	acct.Version++
	s.transactions[tx.Id] = copyTx(tx)
	return nil
}

func (s *Store) FailTransaction(ctx context.Context, tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.transactions[tx.Id]
	if !ok {
		return storage.ErrTransactionNotFound
	}
	if stored.Status != models.PENDING {
		return storage.ErrStatusConflict
	}

	s.transactions[tx.Id] = copyTx(tx)
	refKey := referenceKey(tx.AccountId, tx.Reference)
	if s.references[refKey] == tx.Id {
		delete(s.references, refKey)
	}
	return nil
}

func (s *Store) AttachTransactionReceipt(ctx context.Context, txID, receiptURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[txID]
	if !ok {
		return storage.ErrTransactionNotFound
	}
	tx.ReceiptUrl = receiptURL
	return nil
}

func (s *Store) RecordDrift(ctx context.Context, record *models.DriftRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.drift[record.AccountId] = append(s.drift[record.AccountId], *record)
	return nil
}

func (s *Store) ListDrift(ctx context.Context, accountID string) ([]models.DriftRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]models.DriftRecord, len(s.drift[accountID]))
	copy(records, s.drift[accountID])
	return records, nil
}

// ForceBalance overwrites a cached balance without touching the ledger.
// It exists to simulate drift in tests and local debugging.
func (s *Store) ForceBalance(accountID string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if acct, ok := s.accounts[accountID]; ok {
		acct.Balance = balance
	}
}
