package wallets

import (
	"fmt"
	"net/http"

	"github.com/chris/classifieds-wallet/pkg/advisory"
	"github.com/chris/classifieds-wallet/pkg/api"
	"github.com/chris/classifieds-wallet/pkg/history"
	"github.com/chris/classifieds-wallet/pkg/ledger"
	"github.com/chris/classifieds-wallet/pkg/mapping"
	"github.com/chris/classifieds-wallet/pkg/models"
	"github.com/oapi-codegen/runtime"
)

// WalletsHandler holds the dependencies for the wallet read endpoints.
type WalletsHandler struct {
	Ledger   *ledger.Engine
	History  *history.Service
	Advisory *advisory.Service
}

// NewWalletsHandler creates a new WalletsHandler.
func NewWalletsHandler(engine *ledger.Engine, hist *history.Service, adv *advisory.Service) *WalletsHandler {
	return &WalletsHandler{Ledger: engine, History: hist, Advisory: adv}
}

// HistoryParams are the query parameters of the history endpoints.
type HistoryParams struct {
	Type     *string
	Status   *string
	Page     *int
	PageSize *int
}

// BindHistoryParams reads type, status, page and page_size from the query string.
func BindHistoryParams(r *http.Request) (HistoryParams, error) {
	var params HistoryParams
	query := r.URL.Query()

	if err := runtime.BindQueryParameter("form", true, false, "type", query, &params.Type); err != nil {
		return params, fmt.Errorf("%w: type: %v", history.ErrInvalidFilter, err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "status", query, &params.Status); err != nil {
		return params, fmt.Errorf("%w: status: %v", history.ErrInvalidFilter, err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "page", query, &params.Page); err != nil {
		return params, fmt.Errorf("%w: page: %v", history.ErrInvalidFilter, err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "page_size", query, &params.PageSize); err != nil {
		return params, fmt.Errorf("%w: page_size: %v", history.ErrInvalidFilter, err)
	}
	return params, nil
}

// GetWallet returns the confirmed balance of an account.
func (h *WalletsHandler) GetWallet(w http.ResponseWriter, r *http.Request, accountID string) {
	acct, err := h.Ledger.GetBalance(r.Context(), accountID)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, r, http.StatusOK, mapping.ToApiWallet(acct))
}

// GetHistory returns one page of an account's transactions, newest first.
func (h *WalletsHandler) GetHistory(w http.ResponseWriter, r *http.Request, accountID string, params HistoryParams) {
	q := history.Query{AccountID: accountID}
	if params.Type != nil {
		q.Type = models.TransactionType(*params.Type)
	}
	if params.Status != nil {
		q.Status = models.TransactionStatus(*params.Status)
	}
	if params.Page != nil {
		q.Page = *params.Page
	}
	if params.PageSize != nil {
		q.PageSize = *params.PageSize
	}

	page, err := h.History.GetHistory(r.Context(), q)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, r, http.StatusOK, mapping.ToApiHistory(page))
}

// GetAdvisory returns the low-balance advisory of an account.
func (h *WalletsHandler) GetAdvisory(w http.ResponseWriter, r *http.Request, accountID string) {
	adv, err := h.Advisory.Compute(r.Context(), accountID)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, r, http.StatusOK, mapping.ToApiAdvisory(adv))
}

// OpenWallet makes sure the caller's account exists before the wrapped handler runs.
// Accounts are opened on first access in the default currency.
func (h *WalletsHandler) OpenWallet(accountID func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := h.Ledger.OpenAccount(r.Context(), accountID(r), ""); err != nil {
				api.WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
