/**
 * @description
 * This file sets up the HTTP router for the ledger-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies
 * middleware for authentication, CORS, logging, and panic recovery.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// LedgerRoutes creates and returns the router for the ledger service.
func LedgerRoutes(h *LedgerHandlers, jwksURL, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Provider webhooks authenticate by payload signature, not by JWT.
	r.Post("/webhooks/stripe", h.StripeWebhookHandler)
	r.Post("/webhooks/momo", h.MomoWebhookHandler)

	// Endpoints that require an authenticated user.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		r.Post("/withdrawals", h.WithdrawHandler)
		r.Post("/guarantees/execute", h.ExecuteGuaranteeHandler)
	})

	// Service-to-service endpoints.
	r.Group(func(r chi.Router) {
		r.Use(InternalKeyMiddleware(internalAPIKey))

		r.Delete("/internal/users/{userID}", h.CleanupUserHandler)
	})

	return r
}
