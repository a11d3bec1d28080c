package middleware

import (
	"net/http"

	"github.com/hysteria-id/hysteria/internal/handlers/render"
)

type csrfService interface {
	// Compare the anti-forgery cookie against the request header
	RequireCSRF(r *http.Request) error
}

// CSRF enforces the double-submit check on mutating methods. Reads and
// other idempotent methods pass untouched.
func CSRF(cs csrfService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			if err := cs.RequireCSRF(r); err != nil {
				render.ServiceError(w, "Invalid CSRF token", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
