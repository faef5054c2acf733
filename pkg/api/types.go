package api

import "time"

// Money is an amount in minor units with its display form.
type Money struct {
	Amount   int64  `json:"amount"`
	Display  string `json:"display"`
	Currency string `json:"currency"`
}

// Wallet is the confirmed balance of an account.
type Wallet struct {
	AccountId string    `json:"account_id"`
	Balance   Money     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction is one ledger entry.
type Transaction struct {
	Id               string            `json:"id"`
	AccountId        string            `json:"account_id"`
	Type             string            `json:"type"`
	Status           string            `json:"status"`
	Amount           Money             `json:"amount"`
	SignedAmount     int64             `json:"signed_amount"`
	BalanceAfter     int64             `json:"balance_after"`
	Description      string            `json:"description"`
	DescriptionLocal string            `json:"description_local,omitempty"`
	Reference        string            `json:"reference"`
	RelatedListingId string            `json:"related_listing_id,omitempty"`
	ReceiptUrl       string            `json:"receipt_url,omitempty"`
	FailureReason    string            `json:"failure_reason,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
}

// History is one page of transactions.
type History struct {
	Items    []Transaction `json:"items"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	HasMore  bool          `json:"has_more"`
}

// Advisory is a non-binding balance warning.
type Advisory struct {
	AccountId     string   `json:"account_id"`
	Balance       Money    `json:"balance"`
	BurnRate      float64  `json:"burn_rate_per_day"`
	WindowDays    int      `json:"window_days"`
	DaysRemaining *float64 `json:"days_remaining"`
	Level         string   `json:"level"`
}

// TopUp is a top-up request.
type TopUp struct {
	Id            string     `json:"id"`
	AccountId     string     `json:"account_id"`
	RequesterId   string     `json:"requester_id"`
	Method        string     `json:"method"`
	Amount        Money      `json:"amount"`
	Status        string     `json:"status"`
	Reference     string     `json:"reference,omitempty"`
	ReceiptUrl    string     `json:"receipt_url,omitempty"`
	ReviewerId    string     `json:"reviewer_id,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	TransactionId string     `json:"transaction_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

// Approval is the result of approving a top-up.
type Approval struct {
	Request     TopUp       `json:"request"`
	Transaction Transaction `json:"transaction"`
}

// Reconciliation is the result of a consistency check.
type Reconciliation struct {
	Wallet   Wallet `json:"wallet"`
	Cached   int64  `json:"cached"`
	Computed int64  `json:"computed"`
	Drifted  bool   `json:"drifted"`
}

// Drift is one recorded balance discrepancy.
type Drift struct {
	Cached     int64     `json:"cached"`
	Computed   int64     `json:"computed"`
	DetectedAt time.Time `json:"detected_at"`
}

// NewTopUp is the body of POST /v1/topups. Send either Amount in minor units or
// AmountDecimal in major units ("12.50").
type NewTopUp struct {
	Method        string `json:"method"`
	Amount        *int64 `json:"amount,omitempty"`
	AmountDecimal string `json:"amount_decimal,omitempty"`
	Currency      string `json:"currency,omitempty"`
	Reference     string `json:"reference,omitempty"`
	ReceiptUrl    string `json:"receipt_url,omitempty"`
}

// Receipt attaches an already uploaded receipt by URL.
type Receipt struct {
	ReceiptUrl string `json:"receipt_url"`
}

// Rejection is the body of the reject endpoint.
type Rejection struct {
	Reason string `json:"reason"`
}

// NewTransaction is the body of the internal credit and hold endpoints, and of
// reviewer adjustments (where Amount is a signed delta).
type NewTransaction struct {
	Type             string            `json:"type"`
	Amount           *int64            `json:"amount,omitempty"`
	AmountDecimal    string            `json:"amount_decimal,omitempty"`
	Currency         string            `json:"currency,omitempty"`
	Reference        string            `json:"reference"`
	Description      string            `json:"description"`
	DescriptionLocal string            `json:"description_local,omitempty"`
	RelatedListingId string            `json:"related_listing_id,omitempty"`
	ReceiptUrl       string            `json:"receipt_url,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// Failure is the body of the fail endpoint.
type Failure struct {
	Reason string `json:"reason"`
}
