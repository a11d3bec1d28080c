package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// TokenPair is issued on login and on every refresh rotation. CSRF is
// regenerated alongside so the anti-forgery cookie rides along with the
// credentials.
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
	CSRF    string
}

// Identity is the verified claim set handed to downstream handlers.
// Roles and status are as of credential issuance time.
type Identity struct {
	UserID uuid.UUID
	Email  string
	Name   string
	Roles  []string
	Status string
}

func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}
