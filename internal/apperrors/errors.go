package apperrors

import (
	"errors"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserInactive = errors.New("user account is not active")

	// Access credential errors. Always terminal for the presented
	// credential, recoverable by rotating the refresh token.
	ErrAccessTokenExpired   = errors.New("access token expired")
	ErrAccessTokenMalformed = errors.New("access token malformed or signature invalid")
	ErrAccessTokenScope     = errors.New("access token issuer or audience mismatch")

	// Refresh rotation errors. Always terminal: the caller must force
	// re-authentication.
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenReused   = errors.New("refresh token already rotated")
	ErrRefreshTokenExpired  = errors.New("refresh token expired")

	// Storage reported a transient conflict (serialization failure,
	// deadlock). Safe to retry: no state has changed.
	ErrStorageConflict = errors.New("storage transaction conflict")

	ErrCSRFInvalid = errors.New("csrf token missing or mismatched")
)
