package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hysteria-id/hysteria/internal/apperrors"
	"github.com/hysteria-id/hysteria/internal/logger"
	"github.com/hysteria-id/hysteria/internal/models"
	"github.com/hysteria-id/hysteria/internal/repository"
)

const defaultRefreshTTL = 7 * 24 * time.Hour

type RotatorConfig struct {
	// Refresh token lifetime, 7 days if zero
	RefreshTTL time.Duration

	// Revoke the whole rotation chain when an already rotated bearer is
	// presented again. Off by default: reuse is rejected but the active
	// chain member stays valid.
	RevokeChainOnReuse bool
}

// Rotator exchanges a presented refresh bearer for a fresh token pair,
// revoking the presented record and creating its successor atomically.
// A bearer value is single-use: the second and every later presentation
// fails with apperrors.ErrRefreshTokenReused.
type Rotator struct {
	signer      *Signer
	users       repository.UserRepo
	refreshRepo repository.RefreshTokenRepo
	refreshTTL  time.Duration
	cascade     bool
	logger      logger.Logger

	// Injectable clock
	now func() time.Time
}

func NewRotator(cfg RotatorConfig, signer *Signer, users repository.UserRepo, refreshRepo repository.RefreshTokenRepo, l logger.Logger) (*Rotator, error) {
	if signer == nil || users == nil || refreshRepo == nil {
		return nil, errors.New("signer and repos must not be nil")
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Rotator{
		signer:      signer,
		users:       users,
		refreshRepo: refreshRepo,
		refreshTTL:  cfg.RefreshTTL,
		cascade:     cfg.RevokeChainOnReuse,
		logger:      l,
		now:         time.Now,
	}, nil
}

// Rotate validates the presented bearer and replaces it. All failures
// are terminal for the bearer: the caller must force re-authentication.
// The only retried condition is a transient storage conflict on the
// revoke-and-create transaction, retried exactly once since no state
// has changed when it fails.
func (r *Rotator) Rotate(ctx context.Context, presented string) (models.TokenPair, error) {
	var pair models.TokenPair

	hash := HashToken(presented)
	record, err := r.refreshRepo.GetByHash(ctx, hash)
	if err != nil {
		return pair, fmt.Errorf("rotate: %w", err)
	}

	if record.Revoked() {
		// The bearer was consumed by an earlier rotation: possible theft
		r.logger.Warn("refresh token reuse detected", "user_id", record.UserID, "cascade", r.cascade)
		if r.cascade {
			if err := r.refreshRepo.RevokeChain(ctx, hash); err != nil {
				r.logger.Error("error while revoking chain on reuse", "error", err.Error())
			}
		}
		return pair, fmt.Errorf("rotate: %w", apperrors.ErrRefreshTokenReused)
	}

	now := r.now()
	if record.Expired(now) {
		return pair, fmt.Errorf("rotate: %w", apperrors.ErrRefreshTokenExpired)
	}

	user, err := r.users.GetUserByID(ctx, record.UserID)
	if err != nil {
		return pair, fmt.Errorf("rotate owner lookup: %w", err)
	}
	if !user.IsActive() {
		return pair, fmt.Errorf("rotate: %w", apperrors.ErrUserInactive)
	}

	raw, err := newBearerValue()
	if err != nil {
		return pair, err
	}

	next := models.RefreshToken{
		ID:        uuid.New(),
		UserID:    user.ID,
		TokenHash: HashToken(raw),
		CreatedAt: now,
		ExpiresAt: now.Add(r.refreshTTL),
	}

	_, err = r.refreshRepo.RevokeAndLink(ctx, hash, next)
	if errors.Is(err, apperrors.ErrStorageConflict) {
		r.logger.Warn("storage conflict while rotating, retrying once", "user_id", user.ID)
		_, err = r.refreshRepo.RevokeAndLink(ctx, hash, next)
	}
	if err != nil {
		return pair, fmt.Errorf("rotate: %w", err)
	}

	// Fresh claims: roles and status as the owner has them now, not as
	// the previous access token carried them
	access, err := r.signer.Issue(user)
	if err != nil {
		return pair, err
	}

	csrf, err := NewCSRFToken()
	if err != nil {
		return pair, err
	}

	return models.TokenPair{
		Access:  access,
		Refresh: models.IssuedToken{Value: raw, ExpiresAt: next.ExpiresAt},
		CSRF:    csrf,
	}, nil
}
