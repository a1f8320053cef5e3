package handlers

import (
	"net/http"

	"timebank/internal/config"
	"timebank/internal/db"
	"timebank/internal/logging"
	"timebank/internal/middleware"
	"timebank/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type Handler struct {
	txRunner db.TxRunner
	cfg      config.Config
	users    UserStore
	accounts AccountStore
	admin    AdminStore
	audit    AuditStore
	ledger   LedgerService
	hub      *websocket.Hub
	metrics  http.Handler
	logger   *logging.Logger
}

// New builds the HTTP surface. metrics may be nil to leave /metrics unmounted.
func New(txRunner db.TxRunner, cfg config.Config, users UserStore, accounts AccountStore, admin AdminStore, audit AuditStore, ledger LedgerService, hub *websocket.Hub, metrics http.Handler, logger *logging.Logger) *Handler {
	return &Handler{
		txRunner: txRunner,
		cfg:      cfg,
		users:    users,
		accounts: accounts,
		admin:    admin,
		audit:    audit,
		ledger:   ledger,
		hub:      hub,
		metrics:  metrics,
		logger:   logging.OrNop(logger).Named("http"),
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.Logger)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{h.cfg.AllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	authenticated := middleware.Auth(h.cfg.JWTSecret)
	withActor := middleware.ResolveActor(h.admin)

	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.With(authenticated).Get("/me", h.Me)
	})

	router.Group(func(r chi.Router) {
		r.Use(authenticated, withActor)
		r.Get("/accounts/{id}/balance", h.GetBalance)
		r.Get("/entries", h.ListEntries)
		r.Get("/entries/{id}", h.GetEntry)
		r.Post("/entries/{id}/cancel", h.CancelEntry)
		r.Post("/transfers", h.CreateTransfer)
		r.Post("/transfers/{id}/resolve", h.ResolveTransfer)
		r.Post("/wallet/charges", h.ChargeWallet)
		r.Get("/ws/events", h.WSEvents)

		r.Route("/admin", func(r chi.Router) {
			r.With(middleware.RequireAdmin()).Post("/credits", h.AdminCredit)
			r.With(middleware.RequireStaff()).Post("/manual-payments/{id}/confirm", h.ConfirmManualPayment)
			r.With(middleware.RequireStaff()).Post("/manual-payments/{id}/reject", h.RejectManualPayment)
			r.With(middleware.RequireStaff()).Post("/entries/{id}/reconcile", h.ReconcileEntry)
			r.With(middleware.RequireStaff()).Get("/drift", h.DriftReport)
			r.With(middleware.RequireStaff()).Get("/audit", h.ListAuditLogs)
			r.With(middleware.RequireOwner()).Post("/promote", h.PromoteAdmin)
			r.With(middleware.RequireOwner()).Post("/roles/grant", h.GrantRole)
		})
	})

	if h.metrics != nil {
		router.Handle("/metrics", h.metrics)
	}
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return router
}
