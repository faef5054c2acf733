package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/chris/classifieds-wallet/pkg/gateway"
	"github.com/chris/classifieds-wallet/pkg/history"
	"github.com/chris/classifieds-wallet/pkg/ledger"
	"github.com/chris/classifieds-wallet/pkg/money"
	"github.com/chris/classifieds-wallet/pkg/storage"
	"github.com/chris/classifieds-wallet/pkg/topup"
	"github.com/go-chi/render"
)

// ErrBadRequest marks malformed request bodies and parameters.
var ErrBadRequest = errors.New("bad request")

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

// Checked in order; the first match wins.
var errorMappings = []errorMapping{
	{ledger.ErrInsufficientFunds, http.StatusUnprocessableEntity, "insufficient_funds", "Your balance is too low for this charge. Top up your wallet and try again."},
	{topup.ErrReceiptRequired, http.StatusUnprocessableEntity, "receipt_required", "Attach the payment receipt before this top-up can be approved."},
	{topup.ErrGatewayManaged, http.StatusConflict, "gateway_managed", "Card top-ups are approved by the payment gateway, not by a reviewer."},
	{ledger.ErrInvalidTransition, http.StatusConflict, "invalid_transition", "This request has already been resolved and cannot change state."},
	{topup.ErrAmountMismatch, http.StatusConflict, "amount_mismatch", "The gateway reported a different amount than the request."},
	{topup.ErrNotRequester, http.StatusForbidden, "not_requester", "Only the person who submitted this request can do that."},
	{topup.ErrUnknownRequest, http.StatusNotFound, "unknown_request", "No top-up request exists with that ID."},
	{ledger.ErrUnknownAccount, http.StatusNotFound, "unknown_account", "No wallet exists for that account."},
	{ledger.ErrUnknownTransaction, http.StatusNotFound, "unknown_transaction", "No transaction exists with that ID."},
	{ledger.ErrUpstreamTimeout, http.StatusGatewayTimeout, "upstream_timeout", "A payment or storage provider did not answer in time. Retry with the same reference."},
	{ledger.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount", "Amounts must be positive whole numbers of minor currency units."},
	{money.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount", "The amount could not be read for this currency."},
	{ledger.ErrInvalidType, http.StatusBadRequest, "invalid_type", "That transaction type is not allowed here."},
	{ledger.ErrMissingReference, http.StatusBadRequest, "missing_reference", "Send a reference that is unique for this operation so retries are safe."},
	{ledger.ErrCurrencyMismatch, http.StatusBadRequest, "currency_mismatch", "The currency does not match the wallet's currency."},
	{ledger.ErrMissingReceipt, http.StatusBadRequest, "missing_receipt", "A receipt URL or file is required."},
	{topup.ErrInvalidReceipt, http.StatusBadRequest, "invalid_receipt", "Receipts must be JPEG, PNG, WebP or PDF files within the size limit."},
	{topup.ErrUnsupportedMethod, http.StatusBadRequest, "unsupported_method", "That payment method is not supported."},
	{history.ErrInvalidFilter, http.StatusBadRequest, "invalid_filter", "Check the type, status and page parameters."},
	{gateway.ErrInvalidSignature, http.StatusUnauthorized, "invalid_signature", "The callback signature could not be verified."},
	{gateway.ErrMalformedPayload, http.StatusBadRequest, "malformed_payload", "The callback body could not be parsed."},
	{gateway.ErrUnsupportedEvent, http.StatusBadRequest, "unsupported_event", "The callback event type is not handled."},
	{storage.ErrAccountExists, http.StatusConflict, "account_exists", "A wallet already exists for that account."},
	{ErrBadRequest, http.StatusBadRequest, "bad_request", "The request could not be read."},
}

// StatusFor maps an error to its HTTP status, defaulting to 500.
func StatusFor(err error) int {
	if m, ok := lookup(err); ok {
		return m.status
	}
	return http.StatusInternalServerError
}

func lookup(err error) (errorMapping, bool) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m, true
		}
	}
	return errorMapping{}, false
}

// WriteError renders err as an ErrorResponse. Unmapped errors are logged and
// their detail withheld from the client.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	m, ok := lookup(err)
	if !ok {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		WriteJSON(w, r, http.StatusInternalServerError, ErrorResponse{
			Code:    "internal",
			Message: "Something went wrong on our side. Please try again.",
		})
		return
	}
	WriteJSON(w, r, m.status, ErrorResponse{Code: m.code, Message: m.message, Detail: err.Error()})
}

// WriteMessage renders a plain error body with the given status.
func WriteMessage(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	WriteJSON(w, r, status, ErrorResponse{Code: code, Message: message})
}

// WriteJSON renders v as JSON with the given status.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}
