package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hysteria-id/hysteria/internal/apperrors"
	"github.com/hysteria-id/hysteria/internal/models"
	"github.com/hysteria-id/hysteria/internal/repository"
	"github.com/hysteria-id/hysteria/internal/repository/memory"
)

const testPassword = "correct horse battery staple"

func setupService(t *testing.T) (*Service, *memory.Storage, models.User) {
	t.Helper()

	storage := memory.NewStorage()

	hashed, err := BcryptHasher{}.Hash(testPassword)
	require.NoError(t, err)

	user := testUser()
	user.HashedPassword = hashed
	user = storage.AddUser(user)

	svc, err := NewService(Config{SecretKey: "test-secret-key"}, storage.User(), storage.Refresh(), nil)
	require.NoError(t, err)

	return svc, storage, user
}

func requestWithCookies(cookies ...*http.Cookie) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/admin/", nil)
	for _, c := range cookies {
		r.AddCookie(c)
	}
	return r
}

func Test_Service_Login(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("valid credentials start a session", func(t *testing.T) {
		svc, storage, user := setupService(t)

		pair, err := svc.Login(ctx, user.Email, testPassword)
		require.NoError(t, err)
		assert.NotEmpty(t, pair.Access.Value)
		assert.NotEmpty(t, pair.Refresh.Value)
		assert.NotEmpty(t, pair.CSRF)
		assert.Equal(t, 1, storage.TokenCount())

		identity, err := svc.VerifyAccess(pair.Access.Value)
		require.NoError(t, err)
		assert.Equal(t, user.ID, identity.UserID)

		record, err := storage.Refresh().GetByHash(ctx, HashToken(pair.Refresh.Value))
		require.NoError(t, err)
		assert.Equal(t, user.ID, record.UserID)
		assert.False(t, record.Revoked())
	})

	t.Run("wrong password", func(t *testing.T) {
		svc, storage, user := setupService(t)

		_, err := svc.Login(ctx, user.Email, "not the password")
		require.ErrorIs(t, err, apperrors.ErrUserNotFound)
		assert.Equal(t, 0, storage.TokenCount())
	})

	t.Run("unknown email", func(t *testing.T) {
		svc, _, _ := setupService(t)

		_, err := svc.Login(ctx, "nobody@example.com", testPassword)
		require.ErrorIs(t, err, apperrors.ErrUserNotFound)
	})

	t.Run("suspended account", func(t *testing.T) {
		svc, storage, user := setupService(t)

		storage.SetUserStatus(user.ID, models.StatusSuspended)

		_, err := svc.Login(ctx, user.Email, testPassword)
		require.ErrorIs(t, err, apperrors.ErrUserInactive)
	})
}

func Test_Service_Logout(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("revokes the whole chain", func(t *testing.T) {
		svc, storage, user := setupService(t)

		pair, err := svc.Login(ctx, user.Email, testPassword)
		require.NoError(t, err)

		// Rotate once so the chain has two links
		rotated, err := svc.RefreshPair(ctx, pair.Refresh.Value)
		require.NoError(t, err)

		require.NoError(t, svc.Logout(ctx, pair.Refresh.Value))

		record, err := storage.Refresh().GetByHash(ctx, HashToken(rotated.Refresh.Value))
		require.NoError(t, err)
		assert.True(t, record.Revoked(), "successor must be revoked too")

		_, err = svc.RefreshPair(ctx, rotated.Refresh.Value)
		require.ErrorIs(t, err, apperrors.ErrRefreshTokenReused)
	})

	t.Run("unknown bearer is a no-op", func(t *testing.T) {
		svc, _, _ := setupService(t)

		require.NoError(t, svc.Logout(ctx, "never-issued"))
	})
}

func Test_Service_AuthenticateRequest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("valid access cookie passes without rotation", func(t *testing.T) {
		svc, storage, user := setupService(t)

		pair, err := svc.Login(ctx, user.Email, testPassword)
		require.NoError(t, err)

		w := httptest.NewRecorder()
		r := requestWithCookies(&http.Cookie{Name: AccessCookieName, Value: pair.Access.Value})

		identity, err := svc.AuthenticateRequest(ctx, w, r)
		require.NoError(t, err)
		assert.Equal(t, user.ID, identity.UserID)
		assert.Empty(t, w.Result().Cookies(), "no cookies should be rewritten")
		assert.Equal(t, 1, storage.TokenCount())
	})

	t.Run("expired access triggers silent refresh", func(t *testing.T) {
		svc, storage, user := setupService(t)

		pair, err := svc.Login(ctx, user.Email, testPassword)
		require.NoError(t, err)

		// Push the verification clock past the access expiry while the
		// refresh record, checked against real time, stays valid
		svc.signer.now = func() time.Time { return pair.Access.ExpiresAt.Add(time.Minute) }

		w := httptest.NewRecorder()
		r := requestWithCookies(
			&http.Cookie{Name: AccessCookieName, Value: pair.Access.Value},
			&http.Cookie{Name: RefreshCookieName, Value: pair.Refresh.Value},
		)

		identity, err := svc.AuthenticateRequest(ctx, w, r)
		require.NoError(t, err)
		assert.Equal(t, user.ID, identity.UserID)
		assert.Equal(t, 2, storage.TokenCount(), "rotation creates exactly one successor")

		names := map[string]bool{}
		for _, c := range w.Result().Cookies() {
			names[c.Name] = true
		}
		assert.True(t, names[AccessCookieName])
		assert.True(t, names[RefreshCookieName])
		assert.True(t, names[CSRFCookieName])

		old, err := storage.Refresh().GetByHash(ctx, HashToken(pair.Refresh.Value))
		require.NoError(t, err)
		assert.True(t, old.Revoked())
	})

	t.Run("reused refresh cookie is denied", func(t *testing.T) {
		svc, storage, user := setupService(t)

		pair, err := svc.Login(ctx, user.Email, testPassword)
		require.NoError(t, err)

		_, err = svc.RefreshPair(ctx, pair.Refresh.Value)
		require.NoError(t, err)
		countBefore := storage.TokenCount()

		w := httptest.NewRecorder()
		r := requestWithCookies(&http.Cookie{Name: RefreshCookieName, Value: pair.Refresh.Value})

		_, err = svc.AuthenticateRequest(ctx, w, r)
		require.ErrorIs(t, err, apperrors.ErrRefreshTokenReused)
		assert.Equal(t, countBefore, storage.TokenCount())
		assert.Empty(t, w.Result().Cookies())
	})

	t.Run("expired refresh cookie is denied", func(t *testing.T) {
		svc, storage, user := setupService(t)

		pair, err := svc.Login(ctx, user.Email, testPassword)
		require.NoError(t, err)

		svc.rotator.now = func() time.Time { return pair.Refresh.ExpiresAt.Add(time.Minute) }

		w := httptest.NewRecorder()
		r := requestWithCookies(&http.Cookie{Name: RefreshCookieName, Value: pair.Refresh.Value})

		_, err = svc.AuthenticateRequest(ctx, w, r)
		require.ErrorIs(t, err, apperrors.ErrRefreshTokenExpired)

		record, err := storage.Refresh().GetByHash(ctx, HashToken(pair.Refresh.Value))
		require.NoError(t, err)
		assert.False(t, record.Revoked(), "expiry must not mutate the record")
	})

	t.Run("no credentials at all", func(t *testing.T) {
		svc, _, _ := setupService(t)

		w := httptest.NewRecorder()
		r := requestWithCookies()

		_, err := svc.AuthenticateRequest(ctx, w, r)
		require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
	})

	t.Run("concurrent requests share one rotation", func(t *testing.T) {
		storage := memory.NewStorage()

		hashed, err := BcryptHasher{}.Hash(testPassword)
		require.NoError(t, err)
		user := testUser()
		user.HashedPassword = hashed
		user = storage.AddUser(user)

		// A slow revoke keeps the coalescing window open long enough for
		// every goroutine to subscribe to the in-flight rotation
		slow := &slowRepo{RefreshTokenRepo: storage.Refresh(), delay: 100 * time.Millisecond}

		svc, err := NewService(Config{SecretKey: "test-secret-key"}, storage.User(), slow, nil)
		require.NoError(t, err)

		pair, err := svc.Login(ctx, user.Email, testPassword)
		require.NoError(t, err)

		svc.signer.now = func() time.Time { return pair.Access.ExpiresAt.Add(time.Minute) }

		const workers = 8
		var wg sync.WaitGroup
		errs := make([]error, workers)

		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				w := httptest.NewRecorder()
				r := requestWithCookies(&http.Cookie{Name: RefreshCookieName, Value: pair.Refresh.Value})
				_, errs[i] = svc.AuthenticateRequest(ctx, w, r)
			}()
		}
		wg.Wait()

		for i := range workers {
			require.NoError(t, errs[i], "all waiters share the single rotation outcome")
		}
		assert.Equal(t, 2, storage.TokenCount(), "login record plus exactly one successor")
	})
}

// slowRepo delays the rotation write to widen the race window in tests
type slowRepo struct {
	repository.RefreshTokenRepo

	delay time.Duration
}

func (r *slowRepo) RevokeAndLink(ctx context.Context, oldHash string, next models.RefreshToken) (models.RefreshToken, error) {
	time.Sleep(r.delay)
	return r.RefreshTokenRepo.RevokeAndLink(ctx, oldHash, next)
}
