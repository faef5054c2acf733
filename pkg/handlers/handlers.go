package handlers

import (
	"log/slog"
	"net/http"

	"github.com/chris/classifieds-wallet/pkg/advisory"
	"github.com/chris/classifieds-wallet/pkg/api"
	"github.com/chris/classifieds-wallet/pkg/handlers/admin"
	"github.com/chris/classifieds-wallet/pkg/handlers/callbacks"
	"github.com/chris/classifieds-wallet/pkg/handlers/service"
	"github.com/chris/classifieds-wallet/pkg/handlers/topups"
	"github.com/chris/classifieds-wallet/pkg/handlers/wallets"
	"github.com/chris/classifieds-wallet/pkg/history"
	"github.com/chris/classifieds-wallet/pkg/ledger"
	"github.com/chris/classifieds-wallet/pkg/middleware"
	"github.com/chris/classifieds-wallet/pkg/topup"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// ApiHandler groups the per-area handlers behind one router.
type ApiHandler struct {
	Wallets   *wallets.WalletsHandler
	TopUps    *topups.TopUpsHandler
	Admin     *admin.AdminHandler
	Service   *service.TransactionsHandler
	Callbacks *callbacks.CallbacksHandler

	// WebSocket serves GET /v1/ws when set.
	WebSocket http.Handler
}

// NewApiHandler creates an ApiHandler over the domain services.
func NewApiHandler(engine *ledger.Engine, wf *topup.Workflow, hist *history.Service, adv *advisory.Service) *ApiHandler {
	return &ApiHandler{
		Wallets:   wallets.NewWalletsHandler(engine, hist, adv),
		TopUps:    topups.NewTopUpsHandler(wf),
		Admin:     admin.NewAdminHandler(wf, engine),
		Service:   service.NewTransactionsHandler(engine),
		Callbacks: callbacks.NewCallbacksHandler(wf),
	}
}

// RouterOptions configures the cross-cutting parts of the router.
type RouterOptions struct {
	Auth           *middleware.Authenticator
	Logger         *slog.Logger
	AllowedOrigins []string
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
}

// Router mounts every endpoint on a chi router.
func (h *ApiHandler) Router(opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewStructuredLogger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Post("/v1/callbacks/{method}", func(w http.ResponseWriter, r *http.Request) {
		h.Callbacks.HandleCallback(w, r, chi.URLParam(r, "method"))
	})

	r.Group(func(r chi.Router) {
		r.Use(opts.Auth.Authenticate)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(middleware.RoleUser))
			r.Use(h.Wallets.OpenWallet(subject))
			h.userRoutes(r)
		})

		r.Route("/v1/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(middleware.RoleReviewer))
			h.adminRoutes(r)
		})

		r.Route("/v1/internal", func(r chi.Router) {
			r.Use(middleware.RequireRole(middleware.RoleService))
			h.serviceRoutes(r)
		})
	})

	return r
}

func (h *ApiHandler) userRoutes(r chi.Router) {
	r.Get("/v1/wallet", func(w http.ResponseWriter, r *http.Request) {
		h.Wallets.GetWallet(w, r, subject(r))
	})
	r.Get("/v1/wallet/history", func(w http.ResponseWriter, r *http.Request) {
		params, err := wallets.BindHistoryParams(r)
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		h.Wallets.GetHistory(w, r, subject(r), params)
	})
	r.Get("/v1/wallet/advisory", func(w http.ResponseWriter, r *http.Request) {
		h.Wallets.GetAdvisory(w, r, subject(r))
	})

	r.Get("/v1/topups", func(w http.ResponseWriter, r *http.Request) {
		status, err := topups.BindStatus(r)
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		h.TopUps.ListTopUps(w, r, subject(r), status)
	})
	r.Post("/v1/topups", func(w http.ResponseWriter, r *http.Request) {
		h.TopUps.CreateTopUp(w, r, subject(r))
	})
	r.Get("/v1/topups/{requestID}", func(w http.ResponseWriter, r *http.Request) {
		h.TopUps.GetTopUp(w, r, subject(r), chi.URLParam(r, "requestID"))
	})
	r.Post("/v1/topups/{requestID}/cancel", func(w http.ResponseWriter, r *http.Request) {
		h.TopUps.CancelTopUp(w, r, subject(r), chi.URLParam(r, "requestID"))
	})
	r.Post("/v1/topups/{requestID}/receipt", func(w http.ResponseWriter, r *http.Request) {
		h.TopUps.AttachReceipt(w, r, subject(r), chi.URLParam(r, "requestID"))
	})

	if h.WebSocket != nil {
		r.Method(http.MethodGet, "/v1/ws", h.WebSocket)
	}
}

func (h *ApiHandler) adminRoutes(r chi.Router) {
	r.Get("/topups", func(w http.ResponseWriter, r *http.Request) {
		status, err := topups.BindStatus(r)
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		h.Admin.ListTopUps(w, r, status, r.URL.Query().Get("account_id"))
	})
	r.Post("/topups/{requestID}/approve", func(w http.ResponseWriter, r *http.Request) {
		h.Admin.ApproveTopUp(w, r, chi.URLParam(r, "requestID"), subject(r))
	})
	r.Post("/topups/{requestID}/reject", func(w http.ResponseWriter, r *http.Request) {
		h.Admin.RejectTopUp(w, r, chi.URLParam(r, "requestID"), subject(r))
	})

	r.Get("/accounts/{accountID}", func(w http.ResponseWriter, r *http.Request) {
		h.Wallets.GetWallet(w, r, chi.URLParam(r, "accountID"))
	})
	r.Get("/accounts/{accountID}/history", func(w http.ResponseWriter, r *http.Request) {
		params, err := wallets.BindHistoryParams(r)
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		h.Wallets.GetHistory(w, r, chi.URLParam(r, "accountID"), params)
	})
	r.Post("/accounts/{accountID}/adjustments", func(w http.ResponseWriter, r *http.Request) {
		h.Admin.CreateAdjustment(w, r, chi.URLParam(r, "accountID"), subject(r))
	})
	r.Post("/accounts/{accountID}/reconcile", func(w http.ResponseWriter, r *http.Request) {
		h.Admin.Reconcile(w, r, chi.URLParam(r, "accountID"))
	})
	r.Get("/accounts/{accountID}/drift", func(w http.ResponseWriter, r *http.Request) {
		h.Admin.GetDrift(w, r, chi.URLParam(r, "accountID"))
	})
}

func (h *ApiHandler) serviceRoutes(r chi.Router) {
	r.Post("/accounts/{accountID}/transactions", func(w http.ResponseWriter, r *http.Request) {
		h.Service.CreateTransaction(w, r, chi.URLParam(r, "accountID"))
	})
	r.Post("/accounts/{accountID}/holds", func(w http.ResponseWriter, r *http.Request) {
		h.Service.CreateHold(w, r, chi.URLParam(r, "accountID"))
	})
	r.Get("/transactions/{transactionID}", func(w http.ResponseWriter, r *http.Request) {
		h.Service.GetTransaction(w, r, chi.URLParam(r, "transactionID"))
	})
	r.Post("/transactions/{transactionID}/complete", func(w http.ResponseWriter, r *http.Request) {
		h.Service.CompleteTransaction(w, r, chi.URLParam(r, "transactionID"))
	})
	r.Post("/transactions/{transactionID}/fail", func(w http.ResponseWriter, r *http.Request) {
		h.Service.FailTransaction(w, r, chi.URLParam(r, "transactionID"))
	})
	r.Post("/transactions/{transactionID}/receipt", func(w http.ResponseWriter, r *http.Request) {
		h.Service.AttachReceipt(w, r, chi.URLParam(r, "transactionID"))
	})
}

// subject returns the authenticated caller. Only called behind Authenticate.
func subject(r *http.Request) string {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	return claims.Subject
}
