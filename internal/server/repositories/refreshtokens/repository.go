// Package refreshtokens declares the server-side repository contract for
// refresh-token rows, the stateful half of a session.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/turbocore/internal/server/models"
)

// Repository defines operations for issuing, rotating and revoking refresh tokens.
type Repository interface {
	// Create stores a new, unused refresh token for userID.
	Create(ctx context.Context, userID string, token string, expires time.Time) error

	// Find looks up a refresh token by its token string.
	// Implementations return common.ErrorNotFound when the token is absent.
	Find(ctx context.Context, token string) (*models.RefreshToken, error)

	// MarkUsed flips used to true only if it was false. It reports whether
	// this call won; at most one caller ever observes true for a token.
	MarkUsed(ctx context.Context, token string) (bool, error)

	// Delete removes token if it belongs to userID. Deleting a token that is
	// absent or owned by someone else is not an error and changes nothing.
	Delete(ctx context.Context, userID string, token string) error

	// DeleteByUser removes every refresh token of userID and returns how many went.
	DeleteByUser(ctx context.Context, userID string) (int64, error)

	// DeleteExpiredBefore removes rows that expired before cutoff.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
