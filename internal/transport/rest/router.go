package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/fastgas/payment-reconciliation/internal/payment"
	"github.com/fastgas/payment-reconciliation/internal/transport/middleware"
	"github.com/fastgas/payment-reconciliation/internal/transport/swagger"
	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
)

func RegisterAllRoutes(router *chi.Mux, db *sql.DB, paymentHandler *payment.Handler, webhookHandler *payment.WebhookHandler, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db)

	// Apply global middleware
	router.Use(middleware.CORS)
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	// Serve OpenAPI spec at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	// Swagger UI route at root
	router.Handle("/swagger/*", swagger.Handler())

	// Mount API under /api/v1 to match OpenAPI basePath
	router.Route("/api/v1", func(r chi.Router) {
		// Health check routes
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		// Gateway callback: no auth, always acknowledged
		if webhookHandler != nil {
			r.Post("/payments/callback", webhookHandler.HandleGatewayCallback)
		}

		// Checkout-facing payment routes
		if paymentHandler != nil {
			r.Route("/payments", func(pr chi.Router) {
				pr.Post("/stk", paymentHandler.InitiatePayment) // POST /payments/stk
				pr.Get("/status", paymentHandler.GetStatus)     // GET /payments/status
			})
		}
	})
}
