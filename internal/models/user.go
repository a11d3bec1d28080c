package models

import (
	"time"

	"github.com/google/uuid"
)

// Account status keys as persisted in the users table.
const (
	StatusActive    = "ACTIVE"
	StatusSuspended = "SUSPENDED"
)

// Role keys known to the application.
const (
	RoleAdmin  = "ADMIN"
	RoleEditor = "EDITOR"
)

type User struct {
	ID             uuid.UUID
	CreatedAt      time.Time
	Email          string
	Name           string
	HashedPassword string
	Status         string
	Roles          []string
}

func (u User) IsActive() bool {
	return u.Status == StatusActive
}
