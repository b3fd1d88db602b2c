// Package common defines shared constants and sentinel errors used across
// the TurboCore server layers. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrUserDisabled   = errors.New("user disabled")
	ErrForbidden      = errors.New("forbidden")

	// Validation errors.
	ErrInvalidEmail    = errors.New("invalid email")
	ErrInvalidPassword = errors.New("invalid password")
	ErrWeakPassword    = errors.New("weak password")
	ErrEmailInUse      = errors.New("email already in use")
	ErrInvalidURL      = errors.New("invalid url")

	// Bearer header errors.
	ErrMissingAuthHeader = errors.New("missing authorization header")
	ErrBadAuthHeader     = errors.New("malformed authorization header")

	// Token errors. ErrInvalidToken covers malformed encoding and bad
	// signatures, ErrWrongTokenType a valid token minted for another purpose.
	ErrInvalidToken   = errors.New("invalid token")
	ErrWrongTokenType = errors.New("wrong token type")
	ErrTokenExpired   = errors.New("token expired")

	// Refresh token lifecycle errors.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	ErrRefreshTokenReused  = errors.New("refresh token reused")

	// Single-use flow errors.
	ErrAlreadyVerified    = errors.New("email already verified")
	ErrEmailNotConfigured = errors.New("email delivery not configured")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrUserDoesNotExist   = errors.New("user does not exist")
)
