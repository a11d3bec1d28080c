package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken is the persisted record of one refresh bearer. Only the
// hash of the bearer value is ever stored. Successive rotations link
// records through ReplacedByHash forming a rotation chain.
type RefreshToken struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	TokenHash      string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	RevokedAt      *time.Time // nil until rotated away or explicitly revoked
	ReplacedByHash string     // hash of the successor record, empty for the chain head
}

func (t RefreshToken) Revoked() bool {
	return t.RevokedAt != nil
}

func (t RefreshToken) Expired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}

// Active means the record may still be exchanged for a new pair.
func (t RefreshToken) Active(now time.Time) bool {
	return !t.Revoked() && !t.Expired(now)
}
