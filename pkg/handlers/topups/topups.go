package topups

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/chris/classifieds-wallet/pkg/api"
	"github.com/chris/classifieds-wallet/pkg/ledger"
	"github.com/chris/classifieds-wallet/pkg/mapping"
	"github.com/chris/classifieds-wallet/pkg/models"
	"github.com/chris/classifieds-wallet/pkg/storage"
	"github.com/chris/classifieds-wallet/pkg/topup"
	"github.com/oapi-codegen/runtime"
)

// receiptField is the multipart form field carrying a receipt file.
const receiptField = "receipt"

// TopUpsHandler holds the dependencies for the user-facing top-up endpoints.
type TopUpsHandler struct {
	Workflow *topup.Workflow
}

// NewTopUpsHandler creates a new TopUpsHandler.
func NewTopUpsHandler(wf *topup.Workflow) *TopUpsHandler {
	return &TopUpsHandler{Workflow: wf}
}

// BindStatus reads the optional status filter from the query string.
func BindStatus(r *http.Request) (models.TopUpStatus, error) {
	var status *string
	if err := runtime.BindQueryParameter("form", true, false, "status", r.URL.Query(), &status); err != nil {
		return "", fmt.Errorf("%w: status: %v", api.ErrBadRequest, err)
	}
	if status == nil {
		return "", nil
	}
	s := models.TopUpStatus(*status)
	switch s {
	case models.TOPUP_PENDING, models.TOPUP_APPROVED, models.TOPUP_REJECTED, models.TOPUP_CANCELLED:
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", api.ErrBadRequest, *status)
}

// CreateTopUp submits a new top-up request for the caller's account.
func (h *TopUpsHandler) CreateTopUp(w http.ResponseWriter, r *http.Request, accountID string) {
	var body api.NewTopUp
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, r, err)
		return
	}

	currency := body.Currency
	if currency == "" {
		acct, err := h.Workflow.Ledger.OpenAccount(r.Context(), accountID, "")
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		currency = acct.Currency
	}
	amount, err := mapping.ResolveAmount(body.Amount, body.AmountDecimal, currency)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}

	req, err := h.Workflow.Submit(r.Context(), topup.SubmitRequest{
		AccountID:   accountID,
		RequesterID: accountID,
		Method:      models.TopUpMethod(body.Method),
		Amount:      amount,
		Currency:    body.Currency,
		Reference:   body.Reference,
		ReceiptURL:  body.ReceiptUrl,
	})
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, r, http.StatusCreated, mapping.ToApiTopUp(req))
}

// ListTopUps lists the caller's requests, newest first.
func (h *TopUpsHandler) ListTopUps(w http.ResponseWriter, r *http.Request, accountID string, status models.TopUpStatus) {
	reqs, err := h.Workflow.List(r.Context(), storage.TopUpFilter{AccountID: accountID, Status: status})
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, r, http.StatusOK, mapping.ToApiTopUps(reqs))
}

// GetTopUp returns one of the caller's requests. Requests of other accounts look
// like they do not exist.
func (h *TopUpsHandler) GetTopUp(w http.ResponseWriter, r *http.Request, accountID, requestID string) {
	req, err := h.Workflow.Get(r.Context(), requestID)
	if err == nil && req.AccountId != accountID {
		err = fmt.Errorf("%w: %s", topup.ErrUnknownRequest, requestID)
	}
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, r, http.StatusOK, mapping.ToApiTopUp(req))
}

// CancelTopUp withdraws a pending request.
func (h *TopUpsHandler) CancelTopUp(w http.ResponseWriter, r *http.Request, accountID, requestID string) {
	req, err := h.Workflow.Cancel(r.Context(), requestID, accountID)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, r, http.StatusOK, mapping.ToApiTopUp(req))
}

// AttachReceipt accepts either a JSON body with a receipt URL or a multipart upload
// with the file in the "receipt" field.
func (h *TopUpsHandler) AttachReceipt(w http.ResponseWriter, r *http.Request, accountID, requestID string) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasPrefix(mediaType, "multipart/") {
		h.uploadReceipt(w, r, accountID, requestID)
		return
	}

	var body api.Receipt
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, r, err)
		return
	}
	req, err := h.Workflow.AttachReceipt(r.Context(), requestID, accountID, body.ReceiptUrl)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, r, http.StatusOK, mapping.ToApiTopUp(req))
}

func (h *TopUpsHandler) uploadReceipt(w http.ResponseWriter, r *http.Request, accountID, requestID string) {
	// Leave room for the multipart envelope around the file.
	r.Body = http.MaxBytesReader(w, r.Body, h.Workflow.MaxReceiptBytes+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.WriteError(w, r, fmt.Errorf("%w: upload exceeds %d bytes", topup.ErrInvalidReceipt, h.Workflow.MaxReceiptBytes))
			return
		}
		api.WriteError(w, r, fmt.Errorf("%w: invalid multipart body: %v", api.ErrBadRequest, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(receiptField)
	if err != nil {
		api.WriteError(w, r, fmt.Errorf("%w: %v", ledger.ErrMissingReceipt, err))
		return
	}
	defer file.Close()

	req, err := h.Workflow.UploadReceipt(r.Context(), requestID, accountID, topup.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, r, http.StatusOK, mapping.ToApiTopUp(req))
}
