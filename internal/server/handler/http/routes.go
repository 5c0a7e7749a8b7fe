package http

import (
	"net/http"

	"github.com/atinyakov/accounts/internal/middleware"
	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter constructs and returns an HTTP handler that serves the account
// API.
//
// Routes:
//
//	POST   /api/signup        → accountHandler.Signup
//	POST   /api/login         → accountHandler.Login
//	GET    /api/verify-email  → accountHandler.VerifyEmail
//	POST   /api/logout        → accountHandler.Logout (bearer token)
//	DELETE /api/account       → accountHandler.Delete (bearer token)
//	GET    /healthz           → healthHandler.Health
//
// Middleware chain (applied in order):
//  1. RequestID and Recoverer
//  2. AllowContentType("application/json"), rejects non-JSON bodies
//  3. WithRequestLogging(logger)
//  4. BearerAuth on the protected group
func NewRouter(
	accountHandler *AccountHandler,
	healthHandler *HealthHandler,
	verifier middleware.TokenVerifier,
	revocations middleware.RevocationChecker,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.AllowContentType("application/json"))
	r.Use(middleware.WithRequestLogging(logger))

	r.Get("/healthz", healthHandler.Health)

	r.Route("/api", func(r chi.Router) {
		// Public endpoints
		r.Post("/signup", accountHandler.Signup)
		r.Post("/login", accountHandler.Login)
		r.Get("/verify-email", accountHandler.VerifyEmail)

		// Protected group: requires a valid, unrevoked session token
		r.Group(func(r chi.Router) {
			r.Use(middleware.BearerAuth(verifier, revocations, logger))
			r.Post("/logout", accountHandler.Logout)
			r.Delete("/account", accountHandler.Delete)
		})
	})

	return r
}
