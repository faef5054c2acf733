package service

import (
	"context"
	"net/http"

	"github.com/chris/classifieds-wallet/pkg/api"
	"github.com/chris/classifieds-wallet/pkg/ledger"
	"github.com/chris/classifieds-wallet/pkg/mapping"
	"github.com/chris/classifieds-wallet/pkg/models"
)

// TransactionsHandler serves the service-to-service ledger endpoints the listing
// service uses to charge, refund and reward.
type TransactionsHandler struct {
	Ledger *ledger.Engine
}

// NewTransactionsHandler creates a new TransactionsHandler.
func NewTransactionsHandler(engine *ledger.Engine) *TransactionsHandler {
	return &TransactionsHandler{Ledger: engine}
}

type applyFunc func(ctx context.Context, req ledger.CreditRequest) (*models.Transaction, error)

// CreateTransaction applies a completed transaction. Retrying with the same
// reference returns the original transaction.
func (h *TransactionsHandler) CreateTransaction(w http.ResponseWriter, r *http.Request, accountID string) {
	h.apply(w, r, accountID, h.Ledger.Credit)
}

// CreateHold records a pending charge that is completed or failed later.
func (h *TransactionsHandler) CreateHold(w http.ResponseWriter, r *http.Request, accountID string) {
	h.apply(w, r, accountID, h.Ledger.Hold)
}

func (h *TransactionsHandler) apply(w http.ResponseWriter, r *http.Request, accountID string, fn applyFunc) {
	var body api.NewTransaction
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, r, err)
		return
	}
	acct, err := h.Ledger.OpenAccount(r.Context(), accountID, body.Currency)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}

	req, err := mapping.ToDomainCreditRequest(accountID, acct.Currency, &body)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	tx, err := fn(r.Context(), req)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, r, http.StatusCreated, mapping.ToApiTransaction(tx))
}

// GetTransaction returns a single transaction.
func (h *TransactionsHandler) GetTransaction(w http.ResponseWriter, r *http.Request, transactionID string) {
	tx, err := h.Ledger.Transaction(r.Context(), transactionID)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, r, http.StatusOK, mapping.ToApiTransaction(tx))
}

// CompleteTransaction settles a pending hold against the balance.
func (h *TransactionsHandler) CompleteTransaction(w http.ResponseWriter, r *http.Request, transactionID string) {
	tx, err := h.Ledger.Complete(r.Context(), transactionID)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, r, http.StatusOK, mapping.ToApiTransaction(tx))
}

// FailTransaction abandons a pending hold.
func (h *TransactionsHandler) FailTransaction(w http.ResponseWriter, r *http.Request, transactionID string) {
	var body api.Failure
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, r, err)
		return
	}
	tx, err := h.Ledger.MarkFailed(r.Context(), transactionID, body.Reason)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, r, http.StatusOK, mapping.ToApiTransaction(tx))
}

// AttachReceipt sets the receipt URL of a transaction.
func (h *TransactionsHandler) AttachReceipt(w http.ResponseWriter, r *http.Request, transactionID string) {
	var body api.Receipt
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, r, err)
		return
	}
	tx, err := h.Ledger.AttachReceipt(r.Context(), transactionID, body.ReceiptUrl)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, r, http.StatusOK, mapping.ToApiTransaction(tx))
}
