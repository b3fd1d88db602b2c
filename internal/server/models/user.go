// Package models defines server-side data models persisted in the database.
package models

import "time"

// PasswordlessHash is stored for accounts created through a magic link.
// It is not a valid PHC string, so no password can ever match it.
const PasswordlessHash = "!passwordless"

type User struct {
	ID            string
	Email         string
	PasswordHash  string
	Active        bool
	EmailVerified bool
	IsAdmin       bool
	// Metadata is free-form client data; nil means unset.
	Metadata  *string
	CreatedAt time.Time
	UpdatedAt time.Time
	LastLogin *time.Time
}

// HasPassword reports whether the account can log in with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != "" && u.PasswordHash != PasswordlessHash
}
