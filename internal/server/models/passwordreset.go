package models

import "time"

// PasswordReset is an outstanding reset grant. Only the SHA-256 of the
// token is stored.
type PasswordReset struct {
	TokenHash string
	UserID    string
	Expires   time.Time
	CreatedAt time.Time
}
