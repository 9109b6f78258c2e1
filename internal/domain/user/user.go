// Package user exposes the read-only view of shoppers the checkout core needs.
package user

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// User is a registered shopper.
type User struct {
	ID        uuid.UUID
	Name      string
	Email     string
	Username  string
	Address   string
	Phone     string
	CreatedAt time.Time
}

// Profile is the public part of a User attached to order projections.
type Profile struct {
	ID    uuid.UUID
	Name  string
	Email string
}

// Profile returns the public profile of u.
func (u *User) Profile() Profile {
	return Profile{ID: u.ID, Name: u.Name, Email: u.Email}
}

// Repository provides user lookups. GetByID returns an apperr.NotFoundError
// for unknown ids.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	Upsert(ctx context.Context, u *User) error
}
