package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hysteria-id/hysteria/internal/apperrors"
	"github.com/hysteria-id/hysteria/internal/logger"
	"github.com/hysteria-id/hysteria/internal/models"
	"github.com/hysteria-id/hysteria/internal/repository"
)

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate Hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(hashedPassword string, password string) error
}

type Config struct {
	// Secret key to sign access tokens. Required.
	SecretKey string

	// Issuer and audience enforced on every verify
	Issuer   string
	Audience string

	// Access and refresh token lifetimes, 15m and 7d if zero
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Revoke the whole rotation chain when a rotated bearer reappears
	RevokeChainOnReuse bool

	// Mark session cookies Secure
	CookieSecure bool

	// Hasher used to compare login passwords, bcrypt if nil
	Hasher PasswordHasher
}

// Service is the session layer facade: login, coalesced refresh,
// logout, and the per-request authentication decision.
type Service struct {
	signer       *Signer
	rotator      *Rotator
	coalescer    *Coalescer
	hasher       PasswordHasher
	users        repository.UserRepo
	refreshRepo  repository.RefreshTokenRepo
	refreshTTL   time.Duration
	cookieSecure bool
	logger       logger.Logger
}

func NewService(cfg Config, users repository.UserRepo, refreshRepo repository.RefreshTokenRepo, l logger.Logger) (*Service, error) {
	if users == nil || refreshRepo == nil {
		return nil, errors.New("repos must not be nil")
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	hasher := cfg.Hasher
	if hasher == nil {
		hasher = BcryptHasher{}
	}

	signer, err := NewSigner(SignerConfig{
		SecretKey: cfg.SecretKey,
		Issuer:    cfg.Issuer,
		Audience:  cfg.Audience,
		AccessTTL: cfg.AccessTokenTTL,
	})
	if err != nil {
		return nil, err
	}

	rotator, err := NewRotator(
		RotatorConfig{RefreshTTL: cfg.RefreshTokenTTL, RevokeChainOnReuse: cfg.RevokeChainOnReuse},
		signer, users, refreshRepo, l,
	)
	if err != nil {
		return nil, err
	}

	return &Service{
		signer:       signer,
		rotator:      rotator,
		coalescer:    NewCoalescer(rotator.Rotate),
		hasher:       hasher,
		users:        users,
		refreshRepo:  refreshRepo,
		refreshTTL:   rotator.refreshTTL,
		cookieSecure: cfg.CookieSecure,
		logger:       l,
	}, nil
}

// Login checks credentials and starts a fresh rotation chain.
func (s *Service) Login(ctx context.Context, email string, password string) (models.TokenPair, error) {
	var pair models.TokenPair

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		// Burn comparable time so absent users are not distinguishable
		_ = s.hasher.Compare(dummyPasswordHash, password)
		return pair, fmt.Errorf("login: %w", apperrors.ErrUserNotFound)
	}

	if err := s.hasher.Compare(user.HashedPassword, password); err != nil {
		return pair, fmt.Errorf("login: %w", apperrors.ErrUserNotFound)
	}

	if !user.IsActive() {
		return pair, fmt.Errorf("login: %w", apperrors.ErrUserInactive)
	}

	return s.issuePair(ctx, user)
}

// RefreshPair exchanges a refresh bearer for a new token pair. Calls
// racing on the same bearer share one rotation and one outcome.
func (s *Service) RefreshPair(ctx context.Context, refresh string) (models.TokenPair, error) {
	return s.coalescer.EnsureRefreshed(ctx, refresh)
}

// Logout terminates the session: the whole rotation chain of the
// presented bearer becomes inert. Idempotent over unknown bearers.
func (s *Service) Logout(ctx context.Context, refresh string) error {
	err := s.refreshRepo.RevokeChain(ctx, HashToken(refresh))
	if err != nil && !errors.Is(err, apperrors.ErrRefreshTokenNotFound) {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// AuthenticateRequest is the route guard decision procedure. A valid
// access cookie passes as is. An absent or invalid one triggers a
// silent, coalesced refresh when a refresh cookie is present; on
// success the new cookies are attached to the response. Any other path
// is a denial: the caller redirects or answers 401, but never clears
// credentials here.
func (s *Service) AuthenticateRequest(ctx context.Context, w http.ResponseWriter, r *http.Request) (models.Identity, error) {
	if access := readCookie(r, AccessCookieName); access != "" {
		identity, err := s.signer.Verify(access)
		if err == nil {
			return identity, nil
		}
		if !errors.Is(err, apperrors.ErrAccessTokenExpired) {
			s.logger.Debug("access token rejected", "error", err.Error())
		}
	}

	refresh := readCookie(r, RefreshCookieName)
	if refresh == "" {
		return models.Identity{}, fmt.Errorf("authenticate: %w", apperrors.ErrRefreshTokenNotFound)
	}

	pair, err := s.RefreshPair(ctx, refresh)
	if err != nil {
		return models.Identity{}, err
	}

	s.SetTokenPairToResponse(w, pair)

	return s.signer.Verify(pair.Access.Value)
}

// VerifyAccess exposes bare credential verification for collaborators
// that carry the token outside cookies.
func (s *Service) VerifyAccess(access string) (models.Identity, error) {
	return s.signer.Verify(access)
}

func (s *Service) issuePair(ctx context.Context, user models.User) (models.TokenPair, error) {
	var pair models.TokenPair

	access, err := s.signer.Issue(user)
	if err != nil {
		return pair, err
	}

	raw, err := newBearerValue()
	if err != nil {
		return pair, err
	}

	now := time.Now().Truncate(time.Second)
	record := models.RefreshToken{
		ID:        uuid.New(),
		UserID:    user.ID,
		TokenHash: HashToken(raw),
		CreatedAt: now,
		ExpiresAt: now.Add(s.refreshTTL),
	}
	if _, err := s.refreshRepo.Create(ctx, record); err != nil {
		return pair, fmt.Errorf("error while saving refresh token. Err: %w", err)
	}

	csrf, err := NewCSRFToken()
	if err != nil {
		return pair, err
	}

	return models.TokenPair{
		Access:  access,
		Refresh: models.IssuedToken{Value: raw, ExpiresAt: record.ExpiresAt},
		CSRF:    csrf,
	}, nil
}

// Pre-computed bcrypt hash of an unguessable value, compared against
// when the user does not exist to keep login timing flat.
var dummyPasswordHash = func() string {
	h, err := BcryptHasher{}.Hash(uuid.NewString())
	if err != nil {
		panic(err)
	}
	return h
}()
