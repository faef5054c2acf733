package admin

import (
	"net/http"

	"github.com/chris/classifieds-wallet/pkg/api"
	"github.com/chris/classifieds-wallet/pkg/ledger"
	"github.com/chris/classifieds-wallet/pkg/mapping"
	"github.com/chris/classifieds-wallet/pkg/models"
	"github.com/chris/classifieds-wallet/pkg/storage"
	"github.com/chris/classifieds-wallet/pkg/topup"
)

// AdminHandler serves the reviewer endpoints.
type AdminHandler struct {
	Workflow *topup.Workflow
	Ledger   *ledger.Engine
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(wf *topup.Workflow, engine *ledger.Engine) *AdminHandler {
	return &AdminHandler{Workflow: wf, Ledger: engine}
}

// ListTopUps lists requests across accounts, optionally narrowed to one status or account.
func (h *AdminHandler) ListTopUps(w http.ResponseWriter, r *http.Request, status models.TopUpStatus, accountID string) {
	reqs, err := h.Workflow.List(r.Context(), storage.TopUpFilter{AccountID: accountID, Status: status})
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, r, http.StatusOK, mapping.ToApiTopUps(reqs))
}

// ApproveTopUp approves a pending request and credits the wallet.
func (h *AdminHandler) ApproveTopUp(w http.ResponseWriter, r *http.Request, requestID, reviewerID string) {
	req, tx, err := h.Workflow.Approve(r.Context(), requestID, reviewerID)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, r, http.StatusOK, api.Approval{
		Request:     *mapping.ToApiTopUp(req),
		Transaction: *mapping.ToApiTransaction(tx),
	})
}

// RejectTopUp rejects a pending request with a reason.
func (h *AdminHandler) RejectTopUp(w http.ResponseWriter, r *http.Request, requestID, reviewerID string) {
	var body api.Rejection
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, r, err)
		return
	}
	req, err := h.Workflow.Reject(r.Context(), requestID, reviewerID, body.Reason)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, r, http.StatusOK, mapping.ToApiTopUp(req))
}

// CreateAdjustment applies a signed compensating adjustment. The reviewer is recorded
// in the transaction metadata.
func (h *AdminHandler) CreateAdjustment(w http.ResponseWriter, r *http.Request, accountID, reviewerID string) {
	var body api.NewTransaction
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, r, err)
		return
	}
	acct, err := h.Ledger.GetBalance(r.Context(), accountID)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}

	req, err := mapping.ToDomainCreditRequest(accountID, acct.Currency, &body)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	if req.Metadata == nil {
		req.Metadata = make(map[string]string)
	}
	req.Metadata["reviewer_id"] = reviewerID

	tx, err := h.Ledger.Adjust(r.Context(), req)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, r, http.StatusCreated, mapping.ToApiTransaction(tx))
}

// Reconcile runs a consistency check on an account now.
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request, accountID string) {
	rec, err := h.Ledger.Reconcile(r.Context(), accountID)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, r, http.StatusOK, mapping.ToApiReconciliation(rec))
}

// GetDrift lists the balance discrepancies found on an account.
func (h *AdminHandler) GetDrift(w http.ResponseWriter, r *http.Request, accountID string) {
	records, err := h.Ledger.DriftHistory(r.Context(), accountID)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, r, http.StatusOK, mapping.ToApiDrift(records))
}
