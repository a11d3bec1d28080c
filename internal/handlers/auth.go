package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/hysteria-id/hysteria/internal/apperrors"
	"github.com/hysteria-id/hysteria/internal/handlers/middleware"
	"github.com/hysteria-id/hysteria/internal/handlers/render"
	"github.com/hysteria-id/hysteria/internal/logger"
	"github.com/hysteria-id/hysteria/internal/models"
)

type AuthHandler struct {
	authService authService
	logger      logger.Logger
}

func NewAuth(auth authService, l logger.Logger) *AuthHandler {
	if l == nil {
		l = logger.NewNoOpLogger()
	}
	return &AuthHandler{authService: auth, logger: l}
}

// TokenSuccessResponse reports when the issued access credential
// expires, so clients can schedule a proactive refresh.
type TokenSuccessResponse struct {
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	type LoginRequest struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	data, err := render.BindAndValidate[LoginRequest](w, r)
	if err != nil {
		return
	}

	pair, err := h.authService.Login(r.Context(), data.Email, data.Password)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrUserNotFound):
			render.ServiceError(w, "Invalid email or password", http.StatusUnauthorized)
		case errors.Is(err, apperrors.ErrUserInactive):
			render.ServiceError(w, "Account is not active", http.StatusForbidden)
		default:
			h.logger.Error("error while logging in", "error", err.Error())
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	h.authService.SetTokenPairToResponse(w, pair)
	render.JSON(w, TokenSuccessResponse{Message: "Logged in successfully", ExpiresAt: pair.Access.ExpiresAt})
}

func (h *AuthHandler) refresh(w http.ResponseWriter, r *http.Request) {
	refresh, err := h.authService.GetRefreshString(r)
	if err != nil {
		render.ServiceError(w, "Refresh token not found", http.StatusUnauthorized)
		return
	}

	pair, err := h.authService.RefreshPair(r.Context(), refresh)
	if err != nil {
		// No cookies on any failure: the client must re-authenticate
		switch {
		case errors.Is(err, apperrors.ErrRefreshTokenExpired):
			render.ServiceError(w, "Refresh token expired", http.StatusUnauthorized)
		case errors.Is(err, apperrors.ErrRefreshTokenReused),
			errors.Is(err, apperrors.ErrRefreshTokenNotFound),
			errors.Is(err, apperrors.ErrUserInactive),
			errors.Is(err, apperrors.ErrUserNotFound):
			render.ServiceError(w, "Refresh token not found", http.StatusUnauthorized)
		default:
			h.logger.Error("error while refreshing tokens", "error", err.Error())
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	h.authService.SetTokenPairToResponse(w, pair)
	render.JSON(w, TokenSuccessResponse{Message: "Tokens refreshed successfully", ExpiresAt: pair.Access.ExpiresAt})
}

func (h *AuthHandler) logout(w http.ResponseWriter, r *http.Request) {
	type LogoutSuccessResponse struct {
		Message string `json:"message"`
	}

	if refresh, err := h.authService.GetRefreshString(r); err == nil {
		if err := h.authService.Logout(r.Context(), refresh); err != nil {
			h.logger.Error("error while revoking session", "error", err.Error())
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}
	}

	h.authService.ClearTokensFromResponse(w)
	render.JSON(w, LogoutSuccessResponse{Message: "Logged out successfully"})
}

// me returns the identity attached by the route guard
func (h *AuthHandler) me(w http.ResponseWriter, r *http.Request) {
	type MeResponse struct {
		UserID string   `json:"sub"`
		Email  string   `json:"email"`
		Name   string   `json:"name"`
		Roles  []string `json:"roles"`
		Status string   `json:"status"`
	}

	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	render.JSON(w, MeResponse{
		UserID: identity.UserID.String(),
		Email:  identity.Email,
		Name:   identity.Name,
		Roles:  identity.Roles,
		Status: identity.Status,
	})
}

type authService interface {
	// Login user with email and password
	// Has to return apperrors.ErrUserNotFound on bad credentials
	Login(ctx context.Context, email string, password string) (models.TokenPair, error)

	// Refresh tokens using refresh token, coalescing concurrent calls
	// If token expired: has to return apperrors.ErrRefreshTokenExpired
	// If token rotated already: apperrors.ErrRefreshTokenReused
	// If token not found: apperrors.ErrRefreshTokenNotFound
	RefreshPair(ctx context.Context, refresh string) (models.TokenPair, error)

	// Revoke the whole rotation chain of the presented refresh token
	Logout(ctx context.Context, refresh string) error

	// Set auth cookies (access, refresh, csrf) to response
	SetTokenPairToResponse(w http.ResponseWriter, pair models.TokenPair)

	// Expire all auth cookies
	ClearTokensFromResponse(w http.ResponseWriter)

	// Get refresh token from request
	GetRefreshString(r *http.Request) (string, error)
}
