// Package passwordresets stores outstanding password-reset grants so a reset
// token can be killed on first use, before its signed expiry.
package passwordresets

import (
	"context"
	"time"

	"github.com/dmitrijs2005/turbocore/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, reset *models.PasswordReset) error

	// Consume atomically deletes and returns the grant for tokenHash.
	// A second Consume of the same hash returns common.ErrorNotFound.
	Consume(ctx context.Context, tokenHash string) (*models.PasswordReset, error)

	DeleteByUser(ctx context.Context, userID string) error

	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
