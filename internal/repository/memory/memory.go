package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hysteria-id/hysteria/internal/apperrors"
	"github.com/hysteria-id/hysteria/internal/models"
	"github.com/hysteria-id/hysteria/internal/repository"
)

// Storage is an in-memory implementation of repository.Storage used in
// tests and as the reference for the storage contract. A single mutex
// makes RevokeAndLink atomic: concurrent rotations of one bearer see
// exactly one winner, like the transactional backends.
type Storage struct {
	mu     sync.Mutex
	users  map[uuid.UUID]models.User
	tokens map[string]models.RefreshToken // keyed by token hash
}

var _ repository.Storage = (*Storage)(nil)

func NewStorage() *Storage {
	return &Storage{
		users:  map[uuid.UUID]models.User{},
		tokens: map[string]models.RefreshToken{},
	}
}

func (s *Storage) User() repository.UserRepo {
	return &userRepo{s: s}
}

func (s *Storage) Refresh() repository.RefreshTokenRepo {
	return &refreshTokenRepo{s: s}
}

// AddUser seeds a user, assigning an id if absent
func (s *Storage) AddUser(user models.User) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	s.users[user.ID] = user
	return user
}

// SetUserStatus flips account status, e.g. to suspend mid-test
func (s *Storage) SetUserStatus(id uuid.UUID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.users[id]
	u.Status = status
	s.users[id] = u
}

// TokenCount reports how many refresh records exist
func (s *Storage) TokenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

type userRepo struct {
	s *Storage
}

func (r *userRepo) GetUserByID(ctx context.Context, id uuid.UUID) (models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	user, ok := r.s.users[id]
	if !ok {
		return user, fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
	}
	return user, nil
}

func (r *userRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, user := range r.s.users {
		if user.Email == email {
			return user, nil
		}
	}
	return models.User{}, fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
}

type refreshTokenRepo struct {
	s *Storage
}

func (r *refreshTokenRepo) Create(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.tokens[token.TokenHash] = token
	return token, nil
}

func (r *refreshTokenRepo) GetByHash(ctx context.Context, hash string) (models.RefreshToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	token, ok := r.s.tokens[hash]
	if !ok {
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	}
	return token, nil
}

func (r *refreshTokenRepo) RevokeAndLink(ctx context.Context, oldHash string, next models.RefreshToken) (models.RefreshToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	old, ok := r.s.tokens[oldHash]
	if !ok || old.RevokedAt != nil {
		return next, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenReused)
	}

	now := time.Now()
	old.RevokedAt = &now
	old.ReplacedByHash = next.TokenHash
	r.s.tokens[oldHash] = old
	r.s.tokens[next.TokenHash] = next

	return next, nil
}

func (r *refreshTokenRepo) Revoke(ctx context.Context, hash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return r.revokeLocked(hash)
}

func (r *refreshTokenRepo) RevokeChain(ctx context.Context, hash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.revokeLocked(hash); err != nil {
		return err
	}

	cur := r.s.tokens[hash]
	for cur.ReplacedByHash != "" {
		next, ok := r.s.tokens[cur.ReplacedByHash]
		if !ok {
			return nil
		}
		_ = r.revokeLocked(next.TokenHash)
		cur = next
	}
	return nil
}

func (r *refreshTokenRepo) revokeLocked(hash string) error {
	token, ok := r.s.tokens[hash]
	if !ok {
		return fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	}
	if token.RevokedAt == nil {
		now := time.Now()
		token.RevokedAt = &now
		r.s.tokens[hash] = token
	}
	return nil
}
