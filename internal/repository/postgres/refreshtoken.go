package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hysteria-id/hysteria/internal/apperrors"
	"github.com/hysteria-id/hysteria/internal/models"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const createToken = `-- name: CreateRefreshToken
INSERT INTO refresh_tokens (id, user_id, token_hash, created_at, expires_at, revoked_at, replaced_by_hash)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
RETURNING id, user_id, token_hash, created_at, expires_at, revoked_at, COALESCE(replaced_by_hash, '')
`

func (r *RefreshTokenRepo) Create(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, createToken,
		token.ID, token.UserID, token.TokenHash, token.CreatedAt, token.ExpiresAt, token.RevokedAt, token.ReplacedByHash)
	created, err := pgx.CollectOneRow(rows, rowToRefreshToken)
	if err != nil {
		return created, fmt.Errorf("db error: %w", mapPgError(err))
	}
	return created, nil
}

const getTokenByHash = `-- name: GetRefreshTokenByHash
SELECT id, user_id, token_hash, created_at, expires_at, revoked_at, COALESCE(replaced_by_hash, '')
FROM refresh_tokens
WHERE token_hash = $1
`

// Get token by the hash of its bearer value
// Returns the record whatever its state: revoked and expired records are
// needed for reuse detection.
func (r *RefreshTokenRepo) GetByHash(ctx context.Context, hash string) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, getTokenByHash, hash)
	token, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

const revokeAndLinkToken = `-- name: RevokeAndLink step 1, revoke the presented record
UPDATE refresh_tokens
SET revoked_at = $3, replaced_by_hash = $2
WHERE token_hash = $1 AND revoked_at IS NULL
`

// RevokeAndLink revokes the record with oldHash and inserts next as its
// successor inside one transaction. No torn state is observable: either
// the old record is revoked and the new one exists, or neither happened.
// Exactly one of several concurrent callers can win; the rest get
// apperrors.ErrRefreshTokenReused from the zero-row update.
func (r *RefreshTokenRepo) RevokeAndLink(ctx context.Context, oldHash string, next models.RefreshToken) (created models.RefreshToken, err error) {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return created, fmt.Errorf("db tx error: %w", mapPgError(err))
	}

	defer func() {
		switch err {
		case nil:
			if commitErr := tx.Commit(ctx); commitErr != nil {
				err = fmt.Errorf("db tx error: %w", mapPgError(commitErr))
			}
		default:
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, revokeAndLinkToken, oldHash, next.TokenHash, time.Now())
	if err != nil {
		return created, fmt.Errorf("db error: %w", mapPgError(err))
	}
	if tag.RowsAffected() == 0 {
		// Gone or revoked already: a concurrent rotation won the race
		err = fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenReused)
		return created, err
	}

	rows, _ := tx.Query(ctx, createToken,
		next.ID, next.UserID, next.TokenHash, next.CreatedAt, next.ExpiresAt, next.RevokedAt, next.ReplacedByHash)
	created, err = pgx.CollectOneRow(rows, rowToRefreshToken)
	if err != nil {
		return created, fmt.Errorf("db error: %w", mapPgError(err))
	}

	return created, nil
}

const revokeToken = `-- name: RevokeRefreshToken keeping an earlier revocation time
UPDATE refresh_tokens
SET revoked_at = COALESCE(revoked_at, $2)
WHERE token_hash = $1
`

func (r *RefreshTokenRepo) Revoke(ctx context.Context, hash string) error {
	tag, err := r.DB.Exec(ctx, revokeToken, hash, time.Now())
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	}
	return nil
}

const revokeChain = `-- name: RevokeRefreshTokenChain, the record plus all successors
WITH RECURSIVE chain AS (
    SELECT token_hash, replaced_by_hash
    FROM refresh_tokens
    WHERE token_hash = $1
    UNION ALL
    SELECT t.token_hash, t.replaced_by_hash
    FROM refresh_tokens t
    JOIN chain c ON t.token_hash = c.replaced_by_hash
)
UPDATE refresh_tokens
SET revoked_at = COALESCE(revoked_at, $2)
WHERE token_hash IN (SELECT token_hash FROM chain)
`

func (r *RefreshTokenRepo) RevokeChain(ctx context.Context, hash string) error {
	tag, err := r.DB.Exec(ctx, revokeChain, hash, time.Now())
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	}
	return nil
}

func rowToRefreshToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.CreatedAt, &t.ExpiresAt, &t.RevokedAt, &t.ReplacedByHash)
	return t, err
}

// mapPgError surfaces retryable conflicts as apperrors.ErrStorageConflict
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
			return fmt.Errorf("%w: %s", apperrors.ErrStorageConflict, pgErr.Code)
		}
	}
	return err
}
