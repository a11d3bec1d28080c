package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hysteria-id/hysteria/internal/apperrors"
	"github.com/hysteria-id/hysteria/internal/models"
)

func testUser() models.User {
	return models.User{
		ID:     uuid.New(),
		Email:  "admin@example.com",
		Name:   "Admin",
		Roles:  []string{models.RoleAdmin, models.RoleEditor},
		Status: models.StatusActive,
	}
}

func Test_Signer(t *testing.T) {
	t.Parallel()

	newSigner := func(t *testing.T, cfg SignerConfig) *Signer {
		if cfg.SecretKey == "" {
			cfg.SecretKey = "test-secret-key"
		}
		s, err := NewSigner(cfg)
		require.NoError(t, err)
		return s
	}

	t.Run("requires secret key", func(t *testing.T) {
		_, err := NewSigner(SignerConfig{})
		require.Error(t, err)
	})

	t.Run("issue and verify roundtrip", func(t *testing.T) {
		s := newSigner(t, SignerConfig{})
		user := testUser()

		issued, err := s.Issue(user)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().Add(15*time.Minute), issued.ExpiresAt, time.Second,
			"expires at should be access ttl from now")

		identity, err := s.Verify(issued.Value)
		require.NoError(t, err)
		assert.Equal(t, user.ID, identity.UserID)
		assert.Equal(t, user.Email, identity.Email)
		assert.Equal(t, user.Name, identity.Name)
		assert.Equal(t, user.Roles, identity.Roles)
		assert.Equal(t, user.Status, identity.Status)
	})

	t.Run("issue requires user id", func(t *testing.T) {
		s := newSigner(t, SignerConfig{})

		_, err := s.Issue(models.User{Email: "nobody@example.com"})
		require.Error(t, err)
	})

	t.Run("verify succeeds just before expiry", func(t *testing.T) {
		s := newSigner(t, SignerConfig{})
		issued, err := s.Issue(testUser())
		require.NoError(t, err)

		s.now = func() time.Time { return issued.ExpiresAt.Add(-time.Second) }

		_, err = s.Verify(issued.Value)
		require.NoError(t, err)
	})

	t.Run("verify fails just after expiry", func(t *testing.T) {
		s := newSigner(t, SignerConfig{})
		issued, err := s.Issue(testUser())
		require.NoError(t, err)

		s.now = func() time.Time { return issued.ExpiresAt.Add(time.Second) }

		_, err = s.Verify(issued.Value)
		require.ErrorIs(t, err, apperrors.ErrAccessTokenExpired)
	})

	t.Run("verify fails on garbage", func(t *testing.T) {
		s := newSigner(t, SignerConfig{})

		_, err := s.Verify("not-a-jwt-at-all")
		require.ErrorIs(t, err, apperrors.ErrAccessTokenMalformed)
	})

	t.Run("verify fails on foreign signature", func(t *testing.T) {
		s := newSigner(t, SignerConfig{})
		foreign := newSigner(t, SignerConfig{SecretKey: "some-other-key"})

		issued, err := foreign.Issue(testUser())
		require.NoError(t, err)

		_, err = s.Verify(issued.Value)
		require.ErrorIs(t, err, apperrors.ErrAccessTokenMalformed)
	})

	t.Run("verify fails on wrong issuer", func(t *testing.T) {
		s := newSigner(t, SignerConfig{})
		other := newSigner(t, SignerConfig{Issuer: "someone-else"})

		issued, err := other.Issue(testUser())
		require.NoError(t, err)

		_, err = s.Verify(issued.Value)
		require.ErrorIs(t, err, apperrors.ErrAccessTokenScope)
	})

	t.Run("verify fails on wrong audience", func(t *testing.T) {
		s := newSigner(t, SignerConfig{})
		other := newSigner(t, SignerConfig{Audience: "other-users"})

		issued, err := other.Issue(testUser())
		require.NoError(t, err)

		_, err = s.Verify(issued.Value)
		require.ErrorIs(t, err, apperrors.ErrAccessTokenScope)
	})

	t.Run("claims are issuance snapshots", func(t *testing.T) {
		s := newSigner(t, SignerConfig{})
		user := testUser()

		issued, err := s.Issue(user)
		require.NoError(t, err)

		// The signer must return what was embedded, not re-derive
		user.Roles = []string{}
		identity, err := s.Verify(issued.Value)
		require.NoError(t, err)
		assert.Equal(t, []string{models.RoleAdmin, models.RoleEditor}, identity.Roles)
	})
}
