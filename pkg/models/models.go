package models

import (
	"time"
)

// TransactionType defines the kind of balance-affecting event a transaction records.
type TransactionType string

const (
	TOPUP      TransactionType = "topup"
	DEDUCTION  TransactionType = "deduction"
	BONUS      TransactionType = "bonus"
	REFUND     TransactionType = "refund"
	ADJUSTMENT TransactionType = "adjustment"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TOPUP, DEDUCTION, BONUS, REFUND, ADJUSTMENT:
		return true
	}
	return false
}

// TransactionStatus defines the possible states of a transaction.
type TransactionStatus string

const (
	PENDING   TransactionStatus = "pending"
	COMPLETED TransactionStatus = "completed"
	FAILED    TransactionStatus = "failed"
)

// Transaction represents a single immutable entry in an account's ledger.
// It includes dynamodbav tags for marshalling.
type Transaction struct {
	Id               string            `json:"id" dynamodbav:"id"`
	AccountId        string            `json:"account_id" dynamodbav:"account_id"`
	Type             TransactionType   `json:"type" dynamodbav:"type"`
	Amount           int64             `json:"amount" dynamodbav:"amount"`
	Currency         string            `json:"currency" dynamodbav:"currency"`
	Status           TransactionStatus `json:"status" dynamodbav:"status"`
	Description      string            `json:"description" dynamodbav:"description"`
	DescriptionLocal string            `json:"description_local,omitempty" dynamodbav:"description_local,omitempty"`
	Reference        string            `json:"reference" dynamodbav:"reference"`
	RelatedListingId string            `json:"related_listing_id,omitempty" dynamodbav:"related_listing_id,omitempty"`
	ReceiptUrl       string            `json:"receipt_url,omitempty" dynamodbav:"receipt_url,omitempty"`
	FailureReason    string            `json:"failure_reason,omitempty" dynamodbav:"failure_reason,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty" dynamodbav:"metadata,omitempty"`
	BalanceAfter     int64             `json:"balance_after" dynamodbav:"balance_after"`
	CreatedAt        time.Time         `json:"created_at" dynamodbav:"created_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty" dynamodbav:"completed_at,omitempty"`
	SortKey          string            `json:"-" dynamodbav:"sort_key"`
}

// SignedAmount returns the balance effect of the transaction once completed.
// Deductions subtract, adjustments carry their own sign, everything else adds.
func (tx *Transaction) SignedAmount() int64 {
	switch tx.Type {
	case DEDUCTION:
		return -tx.Amount
	default:
		return tx.Amount
	}
}

// Account is a user's wallet. Balance is a cached projection of the completed
// transactions in the account's ledger.
type Account struct {
	Id        string    `json:"id" dynamodbav:"id"`
	Currency  string    `json:"currency" dynamodbav:"currency"`
	Balance   int64     `json:"balance" dynamodbav:"balance"`
	Version   int64     `json:"version" dynamodbav:"version"`
	CreatedAt time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt time.Time `json:"updated_at" dynamodbav:"updated_at"`
	CheckedAt time.Time `json:"checked_at" dynamodbav:"checked_at"`
	// CompletedCount is the number of completed transactions applied to Balance.
	// Stores whose transaction reads can lag use it to detect a stale ledger.
	CompletedCount int64 `json:"-" dynamodbav:"completed_count"`
}

// TopUpMethod identifies how a top-up is paid.
type TopUpMethod string

const (
	CARD_GATEWAY  TopUpMethod = "cardGateway"
	BANK_TRANSFER TopUpMethod = "bankTransfer"
	CASH_NETWORK  TopUpMethod = "cashNetwork"
	COUPON_REDEEM TopUpMethod = "couponRedeem"
)

// Valid reports whether m is one of the supported top-up methods.
func (m TopUpMethod) Valid() bool {
	switch m {
	case CARD_GATEWAY, BANK_TRANSFER, CASH_NETWORK, COUPON_REDEEM:
		return true
	}
	return false
}

// RequiresReceipt reports whether a reviewer must see a receipt before approving.
func (m TopUpMethod) RequiresReceipt() bool {
	return m == BANK_TRANSFER || m == CASH_NETWORK
}

// TopUpStatus defines the states of a top-up request.
type TopUpStatus string

const (
	TOPUP_PENDING   TopUpStatus = "pending"
	TOPUP_APPROVED  TopUpStatus = "approved"
	TOPUP_REJECTED  TopUpStatus = "rejected"
	TOPUP_CANCELLED TopUpStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s TopUpStatus) Terminal() bool {
	return s != TOPUP_PENDING
}

// TopUpRequest is a user's request to add funds, resolved by a reviewer or a gateway callback.
type TopUpRequest struct {
	Id            string      `json:"id" dynamodbav:"id"`
	AccountId     string      `json:"account_id" dynamodbav:"account_id"`
	RequesterId   string      `json:"requester_id" dynamodbav:"requester_id"`
	Method        TopUpMethod `json:"method" dynamodbav:"method"`
	Amount        int64       `json:"amount" dynamodbav:"amount"`
	Currency      string      `json:"currency" dynamodbav:"currency"`
	Status        TopUpStatus `json:"status" dynamodbav:"status"`
	Reference     string      `json:"reference,omitempty" dynamodbav:"reference,omitempty"`
	ReceiptUrl    string      `json:"receipt_url,omitempty" dynamodbav:"receipt_url,omitempty"`
	ReviewerId    string      `json:"reviewer_id,omitempty" dynamodbav:"reviewer_id,omitempty"`
	Reason        string      `json:"reason,omitempty" dynamodbav:"reason,omitempty"`
	TransactionId string      `json:"transaction_id,omitempty" dynamodbav:"transaction_id,omitempty"`
	Version       int64       `json:"version" dynamodbav:"version"`
	CreatedAt     time.Time   `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" dynamodbav:"updated_at"`
	ResolvedAt    *time.Time  `json:"resolved_at,omitempty" dynamodbav:"resolved_at,omitempty"`
}

// DriftRecord is written whenever an account's cached balance disagreed with its ledger.
type DriftRecord struct {
	AccountId  string    `json:"account_id" dynamodbav:"account_id"`
	Cached     int64     `json:"cached" dynamodbav:"cached"`
	Computed   int64     `json:"computed" dynamodbav:"computed"`
	DetectedAt time.Time `json:"detected_at" dynamodbav:"detected_at"`
}
