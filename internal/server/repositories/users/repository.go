// Package users declares the credential store contract and its PostgreSQL
// implementation.
package users

import (
	"context"
	"time"

	"github.com/dmitrijs2005/turbocore/internal/server/models"
)

// Repository persists user and admin accounts.
type Repository interface {
	// Create inserts user and returns it with ID filled in. A duplicate email
	// is reported as common.ErrorAlreadyExists and never inserts a row.
	Create(ctx context.Context, user *models.User) (*models.User, error)

	// GetByEmail and GetByID return common.ErrorNotFound when absent.
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)

	// Update stores email and metadata. An email taken by another user is
	// common.ErrorAlreadyExists.
	Update(ctx context.Context, user *models.User) error

	UpdatePassword(ctx context.Context, id string, passwordHash string) error

	// SetEmailVerified flips email_verified to true. It reports false when
	// the flag was already set.
	SetEmailVerified(ctx context.Context, id string) (bool, error)

	TouchLastLogin(ctx context.Context, id string, at time.Time) error

	// Delete removes the user; refresh tokens and reset grants cascade.
	Delete(ctx context.Context, id string) error
}
