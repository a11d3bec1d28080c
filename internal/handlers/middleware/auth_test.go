package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hysteria-id/hysteria/internal/models"
)

// authFake answers every authentication attempt with fixed results
type authFake struct {
	identity models.Identity
	err      error
}

func (f authFake) AuthenticateRequest(ctx context.Context, w http.ResponseWriter, r *http.Request) (models.Identity, error) {
	return f.identity, f.err
}

func activeIdentity(roles ...string) models.Identity {
	return models.Identity{
		UserID: uuid.New(),
		Email:  "user@example.com",
		Roles:  roles,
		Status: models.StatusActive,
	}
}

// echoIdentity replies 200 and remembers the identity it saw
func echoIdentity(seen *models.Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if identity, ok := IdentityFromContext(r.Context()); ok {
			*seen = identity
		}
		w.WriteHeader(http.StatusOK)
	})
}

func Test_Guard_Auth(t *testing.T) {
	t.Parallel()

	t.Run("authenticated request carries identity", func(t *testing.T) {
		identity := activeIdentity(models.RoleEditor)
		guard := NewGuard(authFake{identity: identity})

		var seen models.Identity
		w := httptest.NewRecorder()
		guard.Auth(echoIdentity(&seen)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, identity, seen)
	})

	t.Run("denied request gets 401 json", func(t *testing.T) {
		guard := NewGuard(authFake{err: errors.New("no credentials")})

		w := httptest.NewRecorder()
		guard.Auth(echoIdentity(&models.Identity{})).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "Unauthorized")
	})

	t.Run("denied page request is redirected", func(t *testing.T) {
		guard := NewGuard(authFake{err: errors.New("no credentials")}).WithLoginRedirect("/auth/login")

		w := httptest.NewRecorder()
		guard.Auth(echoIdentity(&models.Identity{})).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/", nil))

		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/auth/login", w.Header().Get("Location"))
	})
}

func Test_Guard_RequireRoles(t *testing.T) {
	t.Parallel()

	serve := func(guard *Guard, identity models.Identity, requireRole string) *httptest.ResponseRecorder {
		handler := guard.RequireRoles(requireRole)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r = r.WithContext(NewContextWithIdentity(r.Context(), identity))
		handler.ServeHTTP(w, r)
		return w
	}

	guard := NewGuard(authFake{})

	t.Run("matching role passes", func(t *testing.T) {
		w := serve(guard, activeIdentity(models.RoleEditor, models.RoleAdmin), models.RoleAdmin)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing role is denied", func(t *testing.T) {
		w := serve(guard, activeIdentity(models.RoleEditor), models.RoleAdmin)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("suspended status is denied despite the role", func(t *testing.T) {
		identity := activeIdentity(models.RoleAdmin)
		identity.Status = models.StatusSuspended

		w := serve(guard, identity, models.RoleAdmin)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("no identity in context is denied", func(t *testing.T) {
		handler := guard.RequireRoles(models.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
