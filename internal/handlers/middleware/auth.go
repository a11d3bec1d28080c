package middleware

import (
	"context"
	"net/http"

	"github.com/hysteria-id/hysteria/internal/handlers/render"
	"github.com/hysteria-id/hysteria/internal/models"
)

type authService interface {
	// Authenticate the request: verify the access cookie or silently
	// refresh with the refresh cookie, attaching new cookies to w.
	AuthenticateRequest(ctx context.Context, w http.ResponseWriter, r *http.Request) (models.Identity, error)
}

// Guard is the route guard. Requests with valid or refreshable
// credentials proceed with the identity in context. Everything else is
// denied: a redirect to loginURL when set, 401 otherwise. Credentials
// are never cleared here; that is the login flow's job.
type Guard struct {
	auth     authService
	loginURL string
}

func NewGuard(auth authService) *Guard {
	return &Guard{auth: auth}
}

// WithLoginRedirect makes denials redirect instead of answering 401.
// Used for server-rendered page routes.
func (g *Guard) WithLoginRedirect(loginURL string) *Guard {
	return &Guard{auth: g.auth, loginURL: loginURL}
}

func (g *Guard) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := g.auth.AuthenticateRequest(r.Context(), w, r)
		if err != nil {
			g.deny(w, r)
			return
		}

		ctx := NewContextWithIdentity(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRoles additionally gates on role membership and active status.
// A valid credential without a required role is denied all the same.
// Must be mounted inside Auth.
func (g *Guard) RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok || identity.Status != models.StatusActive {
				g.deny(w, r)
				return
			}

			for _, role := range roles {
				if identity.HasRole(role) {
					next.ServeHTTP(w, r)
					return
				}
			}

			g.deny(w, r)
		})
	}
}

func (g *Guard) deny(w http.ResponseWriter, r *http.Request) {
	if g.loginURL != "" {
		http.Redirect(w, r, g.loginURL, http.StatusFound)
		return
	}
	render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
}
