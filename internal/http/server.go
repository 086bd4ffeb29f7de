package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	Router *chi.Mux
}

func NewServer(handler *Handler) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/webhooks/payments", handler.PaymentWebhook)

	r.Route("/swaps", func(r chi.Router) {
		r.Get("/{paymentRef}/status", handler.SwapStatus)
		r.Post("/recover", handler.RecoverSwap)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Get("/wallet/balances", handler.WalletBalances)
		r.Post("/reconcile", handler.TriggerReconcile)
	})

	return &Server{Router: r}
}
