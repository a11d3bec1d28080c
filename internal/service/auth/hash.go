package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Refresh bearer values are 48 random bytes, hex encoded. The raw value
// travels only in the cookie; storage sees HashToken of it.
const bearerBytesLen = 48

// HashToken is the one-way hash under which refresh records are stored
// and looked up.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func newBearerValue() (string, error) {
	b := make([]byte, bearerBytesLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("error while generating refresh token. Err: %w", err)
	}
	return hex.EncodeToString(b), nil
}
