package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/hysteria-id/hysteria/internal/models"
)

// User repository interface
// The session layer only ever reads users, it never mutates them.
type UserRepo interface {
	// Get user by id or email, roles loaded
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, id uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
}

// RefreshToken repository interface
// All mutation of refresh records goes through this interface and
// RevokeAndLink is the only operation that touches two records at once.
type RefreshTokenRepo interface {
	// Create a new record: chain head on login, successor on rotation
	Create(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error)

	// Return the record whatever its state, revoked or expired included
	// Must return apperrors.ErrRefreshTokenNotFound if no record exists
	GetByHash(ctx context.Context, hash string) (models.RefreshToken, error)

	// Revoke the record with oldHash linking it to next.TokenHash and
	// insert next, as a single atomic unit. If the old record is absent
	// or already revoked nothing is written and the error is
	// apperrors.ErrRefreshTokenReused. Transient conflicts map to
	// apperrors.ErrStorageConflict.
	RevokeAndLink(ctx context.Context, oldHash string, next models.RefreshToken) (models.RefreshToken, error)

	// Revoke a single record. Idempotent: an already revoked record
	// keeps its original revocation time.
	Revoke(ctx context.Context, hash string) error

	// Revoke the record and every successor reachable through
	// replaced-by links. Used on logout and by the reuse cascade policy.
	RevokeChain(ctx context.Context, hash string) error
}

type Storage interface {
	User() UserRepo
	Refresh() RefreshTokenRepo
}
