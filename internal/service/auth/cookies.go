package auth

import (
	"fmt"
	"net/http"
	"time"

	"github.com/hysteria-id/hysteria/internal/apperrors"
	"github.com/hysteria-id/hysteria/internal/models"
)

// Cookie and header names the session layer owns.
const (
	AccessCookieName  = "access_token"
	RefreshCookieName = "refresh_token"
	CSRFCookieName    = "csrf_token"
	CSRFHeaderName    = "X-CSRF-Token"
)

// SetTokenPairToResponse writes the three session cookies. Access and
// refresh cookies are HttpOnly; the csrf cookie must stay readable so
// scripts can echo it into the header.
func (s *Service) SetTokenPairToResponse(w http.ResponseWriter, pair models.TokenPair) {
	now := time.Now()

	http.SetCookie(w, &http.Cookie{
		Name:     AccessCookieName,
		Value:    pair.Access.Value,
		Path:     "/",
		MaxAge:   int(pair.Access.ExpiresAt.Sub(now).Seconds()),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    pair.Refresh.Value,
		Path:     "/",
		MaxAge:   int(pair.Refresh.ExpiresAt.Sub(now).Seconds()),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    pair.CSRF,
		Path:     "/",
		MaxAge:   int(pair.Refresh.ExpiresAt.Sub(now).Seconds()),
		HttpOnly: false,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearTokensFromResponse expires all session cookies. Used by logout
// only: the route guard never clears credentials itself.
func (s *Service) ClearTokensFromResponse(w http.ResponseWriter) {
	for _, name := range []string{AccessCookieName, RefreshCookieName, CSRFCookieName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: name != CSRFCookieName,
			Secure:   s.cookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// GetRefreshString extracts the refresh bearer from the request cookie
func (s *Service) GetRefreshString(r *http.Request) (string, error) {
	c, err := r.Cookie(RefreshCookieName)
	if err != nil || c.Value == "" {
		return "", fmt.Errorf("refresh cookie: %w", apperrors.ErrRefreshTokenNotFound)
	}
	return c.Value, nil
}

// RequireCSRF enforces the double-submit check on a request
func (s *Service) RequireCSRF(r *http.Request) error {
	var cookieValue string
	if c, err := r.Cookie(CSRFCookieName); err == nil {
		cookieValue = c.Value
	}
	return ValidateCSRF(cookieValue, r.Header.Get(CSRFHeaderName))
}

func readCookie(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
