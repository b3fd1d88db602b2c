package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType is the "type" claim that tells token purposes apart.
type TokenType string

const (
	TypeAccess            TokenType = "at"
	TypeRefresh           TokenType = "rt"
	TypePasswordReset     TokenType = "password_reset"
	TypeMagicLink         TokenType = "magic-link"
	TypeEmailVerification TokenType = "email_verification"
)

// TypedClaims is implemented by every decoded claim set.
type TypedClaims interface {
	TokenType() TokenType
	Subject() string
	Expiry() time.Time
}

// AccessClaims authorize API calls for their lifetime.
type AccessClaims struct {
	UserID    string
	ExpiresAt time.Time
}

func (c *AccessClaims) TokenType() TokenType { return TypeAccess }
func (c *AccessClaims) Subject() string      { return c.UserID }
func (c *AccessClaims) Expiry() time.Time    { return c.ExpiresAt }

// RefreshClaims carry a random nonce so two tokens minted for one user in
// the same second are distinct strings.
type RefreshClaims struct {
	UserID    string
	ExpiresAt time.Time
	Nonce     string
}

func (c *RefreshClaims) TokenType() TokenType { return TypeRefresh }
func (c *RefreshClaims) Subject() string      { return c.UserID }
func (c *RefreshClaims) Expiry() time.Time    { return c.ExpiresAt }

// FlowClaims back the single-use flows: email verification, magic link and
// password reset.
type FlowClaims struct {
	Type      TokenType
	UserID    string
	ExpiresAt time.Time
	Next      string
	Nonce     string
}

func (c *FlowClaims) TokenType() TokenType { return c.Type }
func (c *FlowClaims) Subject() string      { return c.UserID }
func (c *FlowClaims) Expiry() time.Time    { return c.ExpiresAt }

// Expired reports whether claims are past their expiry at now. A token is
// still valid during the exact second of its exp claim.
func Expired(c TypedClaims, now time.Time) bool {
	return now.Unix() > c.Expiry().Unix()
}

// wireClaims is the JSON payload of a token.
type wireClaims struct {
	Issuer    string    `json:"iss"`
	UserID    string    `json:"uid"`
	Type      TokenType `json:"type"`
	ExpiresAt int64     `json:"exp"`
	Rand      string    `json:"rand,omitempty"`
	Next      string    `json:"next,omitempty"`
}

func (w *wireClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(w.ExpiresAt, 0)), nil
}
func (w *wireClaims) GetIssuedAt() (*jwt.NumericDate, error)  { return nil, nil }
func (w *wireClaims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (w *wireClaims) GetIssuer() (string, error)              { return w.Issuer, nil }
func (w *wireClaims) GetSubject() (string, error)             { return w.UserID, nil }
func (w *wireClaims) GetAudience() (jwt.ClaimStrings, error)  { return nil, nil }

func toWire(c TypedClaims) wireClaims {
	w := wireClaims{
		UserID:    c.Subject(),
		Type:      c.TokenType(),
		ExpiresAt: c.Expiry().Unix(),
	}
	switch v := c.(type) {
	case *RefreshClaims:
		w.Rand = v.Nonce
	case *FlowClaims:
		w.Rand = v.Nonce
		w.Next = v.Next
	}
	return w
}

// fromWire is the discriminated decode step: the type claim picks the
// concrete struct.
func fromWire(w *wireClaims) (TypedClaims, bool) {
	exp := time.Unix(w.ExpiresAt, 0)
	switch w.Type {
	case TypeAccess:
		return &AccessClaims{UserID: w.UserID, ExpiresAt: exp}, true
	case TypeRefresh:
		return &RefreshClaims{UserID: w.UserID, ExpiresAt: exp, Nonce: w.Rand}, true
	case TypePasswordReset, TypeMagicLink, TypeEmailVerification:
		return &FlowClaims{Type: w.Type, UserID: w.UserID, ExpiresAt: exp, Next: w.Next, Nonce: w.Rand}, true
	default:
		return nil, false
	}
}
