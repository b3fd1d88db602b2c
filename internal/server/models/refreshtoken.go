package models

import "time"

// RefreshToken is the persisted half of a refresh token. Token is the signed
// token string itself and doubles as the primary key.
type RefreshToken struct {
	Token     string
	UserID    string
	Expires   time.Time
	Used      bool
	CreatedAt time.Time
}

// Expired reports whether the row is past its expiry at now. Like the exp
// claim it has second resolution: the expiry second itself is still valid.
func (t *RefreshToken) Expired(now time.Time) bool {
	return now.Unix() > t.Expires.Unix()
}
