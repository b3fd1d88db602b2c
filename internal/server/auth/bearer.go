package auth

import (
	"strings"
	"time"

	"github.com/dmitrijs2005/turbocore/internal/common"
)

// ParseBearer extracts the token from an "Authorization: Bearer <token>"
// value. The scheme is case-insensitive.
func ParseBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", common.ErrMissingAuthHeader
	}

	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], common.BearerScheme) {
		return "", common.ErrBadAuthHeader
	}
	return parts[1], nil
}

// VerifyBearer is the stateless access-token gate: it parses the header and
// returns the subject of a valid, unexpired access token.
func (c *Codec) VerifyBearer(header string, now time.Time) (string, error) {
	token, err := ParseBearer(header)
	if err != nil {
		return "", err
	}
	claims, err := c.VerifyAccess(token, now)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}
