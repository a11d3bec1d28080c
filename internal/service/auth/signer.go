package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hysteria-id/hysteria/internal/apperrors"
	"github.com/hysteria-id/hysteria/internal/models"
)

const (
	defaultSigningMethod = "HS256"
	defaultAccessTTL     = 15 * time.Minute
	defaultIssuer        = "hysteria"
	defaultAudience      = "hysteria-users"
)

// Claims embedded in every access token. Roles and status are snapshots
// taken at issuance: the signer never re-reads the user on verify.
type AccessTokenClaims struct {
	jwt.RegisteredClaims
	Email  string   `json:"email,omitempty"`
	Name   string   `json:"name,omitempty"`
	Roles  []string `json:"roles,omitempty"`
	Status string   `json:"status,omitempty"`
}

type SignerConfig struct {
	// Secret key to sign access tokens. Required.
	SecretKey string

	// JWT MAC algorithm, HS256 if empty
	Alg string

	// Issuer and audience embedded and enforced on verify
	Issuer   string
	Audience string

	// Access token lifetime
	AccessTTL time.Duration
}

// Signer issues and verifies access tokens. Stateless: pure function
// over the secret and the clock.
type Signer struct {
	key      []byte
	alg      jwt.SigningMethod
	issuer   string
	audience string
	ttl      time.Duration

	// Injectable clock
	now func() time.Time
}

func NewSigner(cfg SignerConfig) (*Signer, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}
	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}
	if cfg.Audience == "" {
		cfg.Audience = defaultAudience
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = defaultAccessTTL
	}

	alg := jwt.GetSigningMethod(cfg.Alg)
	if alg == nil {
		return nil, fmt.Errorf("unknown signing method %q", cfg.Alg)
	}

	return &Signer{
		key:      []byte(cfg.SecretKey),
		alg:      alg,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.AccessTTL,
		now:      time.Now,
	}, nil
}

// Issue signs a fresh access token for the user. Fails only on
// programmer error (zero user id) or a broken signer setup.
func (s *Signer) Issue(user models.User) (models.IssuedToken, error) {
	if user.ID == uuid.Nil {
		return models.IssuedToken{}, errors.New("user id must not be zero")
	}

	now := s.now().Truncate(time.Second)
	expiresAt := now.Add(s.ttl)

	token := jwt.NewWithClaims(s.alg, AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID.String(),
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:  user.Email,
		Name:   user.Name,
		Roles:  user.Roles,
		Status: user.Status,
	})

	signed, err := token.SignedString(s.key)
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while signing access token. Err: %w", err)
	}

	return models.IssuedToken{Value: signed, ExpiresAt: expiresAt}, nil
}

// Verify parses and validates an access token, returning the embedded
// identity. Fails closed: any structural, signature, issuer, audience
// or expiry problem maps to one of the apperrors sentinels.
func (s *Signer) Verify(access string) (models.Identity, error) {
	claims := &AccessTokenClaims{}

	_, err := jwt.ParseWithClaims(
		access,
		claims,
		func(t *jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{s.alg.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)

	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return models.Identity{}, fmt.Errorf("verify: %w", apperrors.ErrAccessTokenExpired)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer), errors.Is(err, jwt.ErrTokenInvalidAudience):
		return models.Identity{}, fmt.Errorf("verify: %w", apperrors.ErrAccessTokenScope)
	default:
		return models.Identity{}, fmt.Errorf("verify: %w", apperrors.ErrAccessTokenMalformed)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return models.Identity{}, fmt.Errorf("verify subject: %w", apperrors.ErrAccessTokenMalformed)
	}

	return models.Identity{
		UserID: userID,
		Email:  claims.Email,
		Name:   claims.Name,
		Roles:  claims.Roles,
		Status: claims.Status,
	}, nil
}
