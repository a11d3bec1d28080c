package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/hysteria-id/hysteria/internal/apperrors"
)

const csrfTokenBytesLen = 32

// NewCSRFToken returns a random anti-forgery value. It is set as a
// readable cookie and must be echoed back in the request header on
// every mutating request. No server side state is kept.
func NewCSRFToken() (string, error) {
	b := make([]byte, csrfTokenBytesLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("error while generating csrf token. Err: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ValidateCSRF checks the double-submit pair. Missing values and
// mismatches fail the same way, empty-equals-empty included.
func ValidateCSRF(cookieValue string, headerValue string) error {
	if cookieValue == "" || headerValue == "" {
		return apperrors.ErrCSRFInvalid
	}
	if subtle.ConstantTimeCompare([]byte(cookieValue), []byte(headerValue)) != 1 {
		return apperrors.ErrCSRFInvalid
	}
	return nil
}
