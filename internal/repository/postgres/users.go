package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hysteria-id/hysteria/internal/apperrors"
	"github.com/hysteria-id/hysteria/internal/models"
)

type UserRepo struct {
	DB DBTX
}

const getUserByID = `-- name: GetUserByID with roles aggregated
SELECT u.id, u.created_at, u.email, u.name, u.password_hash, u.status,
       COALESCE(array_agg(r.role ORDER BY r.role) FILTER (WHERE r.role IS NOT NULL), '{}')
FROM users u
LEFT JOIN user_roles r ON r.user_id = u.id
WHERE u.id = $1
GROUP BY u.id
`

func (r *UserRepo) GetUserByID(ctx context.Context, id uuid.UUID) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByID, id)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, pgx.ErrNoRows):
		return user, fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
	default:
		return user, fmt.Errorf("db error: %w", err)
	}
}

const getUserByEmail = `-- name: GetUserByEmail with roles aggregated
SELECT u.id, u.created_at, u.email, u.name, u.password_hash, u.status,
       COALESCE(array_agg(r.role ORDER BY r.role) FILTER (WHERE r.role IS NOT NULL), '{}')
FROM users u
LEFT JOIN user_roles r ON r.user_id = u.id
WHERE u.email = $1
GROUP BY u.id
`

func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByEmail, email)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, pgx.ErrNoRows):
		return user, fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
	default:
		return user, fmt.Errorf("db error: %w", err)
	}
}

const createUser = `-- name: CreateUser
INSERT INTO users (email, name, password_hash, status)
VALUES ($1, $2, $3, $4)
RETURNING id, created_at
`

const addUserRole = `-- name: AddUserRole
INSERT INTO user_roles (user_id, role)
VALUES ($1, $2)
ON CONFLICT DO NOTHING
`

// CreateUser exists for seeding and tests. Account registration is not
// part of the session layer, so the method lives on the concrete repo
// only and is deliberately absent from repository.UserRepo.
func (r *UserRepo) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	err := r.DB.QueryRow(ctx, createUser, user.Email, user.Name, user.HashedPassword, user.Status).
		Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return user, fmt.Errorf("db error: %w", err)
	}

	for _, role := range user.Roles {
		if _, err := r.DB.Exec(ctx, addUserRole, user.ID, role); err != nil {
			return user, fmt.Errorf("db error: %w", err)
		}
	}

	return user, nil
}

func rowToUser(row pgx.CollectableRow) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.CreatedAt, &u.Email, &u.Name, &u.HashedPassword, &u.Status, &u.Roles)
	return u, err
}
