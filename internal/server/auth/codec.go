// Package auth implements the token codec: HS256-signed claim sets for every
// token purpose, and the bearer gate built on top of it.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/turbocore/internal/common"
)

// Codec signs and verifies claim sets with one process-wide key.
// It only proves authenticity; callers check type and expiry, which the
// Verify* helpers do.
type Codec struct {
	key    []byte
	issuer string
}

// NewCodec returns a Codec. The key is copied.
func NewCodec(key []byte, issuer string) (*Codec, error) {
	if len(key) == 0 {
		return nil, errors.New("signing key is empty")
	}
	if issuer == "" {
		issuer = common.DefaultIssuer
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Codec{key: k, issuer: issuer}, nil
}

// Sign encodes claims and signs them.
func (c *Codec) Sign(claims TypedClaims) (string, error) {
	w := toWire(claims)
	w.Issuer = c.issuer

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &w)
	s, err := token.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s, nil
}

// Decode verifies the signature and issuer and returns the typed claim set.
// Expiry is not checked. Any failure is common.ErrInvalidToken.
func (c *Codec) Decode(tokenString string) (TypedClaims, error) {
	w := &wireClaims{}

	token, err := jwt.ParseWithClaims(tokenString, w, func(t *jwt.Token) (any, error) {
		return c.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil || !token.Valid {
		return nil, common.ErrInvalidToken
	}
	if w.Issuer != c.issuer || w.UserID == "" || w.ExpiresAt == 0 {
		return nil, common.ErrInvalidToken
	}

	claims, ok := fromWire(w)
	if !ok {
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}

// decodeAs runs Decode and then checks type before expiry.
func (c *Codec) decodeAs(tokenString string, want TokenType, now time.Time) (TypedClaims, error) {
	claims, err := c.Decode(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType() != want {
		return nil, common.ErrWrongTokenType
	}
	if Expired(claims, now) {
		return claims, common.ErrTokenExpired
	}
	return claims, nil
}

// VerifyAccess checks an access token at now.
func (c *Codec) VerifyAccess(tokenString string, now time.Time) (*AccessClaims, error) {
	claims, err := c.decodeAs(tokenString, TypeAccess, now)
	if err != nil {
		return nil, err
	}
	return claims.(*AccessClaims), nil
}

// VerifyRefresh checks a refresh token at now. On common.ErrTokenExpired the
// claims are still returned so callers can log the subject.
func (c *Codec) VerifyRefresh(tokenString string, now time.Time) (*RefreshClaims, error) {
	claims, err := c.decodeAs(tokenString, TypeRefresh, now)
	if claims == nil {
		return nil, err
	}
	return claims.(*RefreshClaims), err
}

// VerifyFlow checks a single-use flow token of the given type at now.
func (c *Codec) VerifyFlow(tokenString string, typ TokenType, now time.Time) (*FlowClaims, error) {
	claims, err := c.decodeAs(tokenString, typ, now)
	if err != nil {
		return nil, err
	}
	fc, ok := claims.(*FlowClaims)
	if !ok {
		return nil, common.ErrWrongTokenType
	}
	return fc, nil
}
