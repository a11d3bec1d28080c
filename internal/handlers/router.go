package handlers

import (
	"context"
	"net/http"

	"github.com/hysteria-id/hysteria/internal/handlers/middleware"
	"github.com/hysteria-id/hysteria/internal/logger"
	"github.com/hysteria-id/hysteria/internal/models"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

// AuthService is everything the router needs from the session layer.
type AuthService interface {
	authService

	// Route guard decision: verify the access cookie or silently
	// refresh, attaching fresh cookies to the response
	AuthenticateRequest(ctx context.Context, w http.ResponseWriter, r *http.Request) (models.Identity, error)

	// Double-submit anti-forgery check
	RequireCSRF(r *http.Request) error
}

// NewRouter mounts the auth API and guards the admin surface. The
// admin handler itself is a collaborator: it receives requests only
// after the guard verified credentials, role and status.
func NewRouter(authService AuthService, adminHandler http.Handler, loginURL string, l logger.Logger) http.Handler {
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	guard := middleware.NewGuard(authService)
	csrf := middleware.CSRF(authService)

	authHandler := NewAuth(authService, l)

	apiauth := http.NewServeMux()
	apiauth.Handle("POST /login", http.HandlerFunc(authHandler.login))
	apiauth.Handle("POST /refresh", chain(http.HandlerFunc(authHandler.refresh), csrf))
	apiauth.Handle("POST /logout", chain(http.HandlerFunc(authHandler.logout), csrf))
	apiauth.Handle("GET /me", guard.Auth(http.HandlerFunc(authHandler.me)))

	root := http.NewServeMux()
	root.Handle("/api/auth/", http.StripPrefix("/api/auth", apiauth))

	if adminHandler != nil {
		pageGuard := guard.WithLoginRedirect(loginURL)
		root.Handle("/admin/", chain(adminHandler,
			pageGuard.Auth,
			pageGuard.RequireRoles(models.RoleAdmin),
		))
	}

	return chain(root,
		middleware.LoggerMiddleware(l),
	)
}
