package models

import "time"

// RefreshToken is the persisted half of a session. The ID itself is the bearer
// secret; JwtID binds the record to the access token minted alongside it.
type RefreshToken struct {
	ID         string
	UserID     int64
	JwtID      string
	ExpiryDate time.Time
	Used       bool
}

// Expired reports whether the record is past its expiry at the given instant.
func (t RefreshToken) Expired(now time.Time) bool {
	return now.After(t.ExpiryDate)
}

// AccessClaims are the verified contents of an access token.
type AccessClaims struct {
	UserID      int64
	Username    string
	DisplayName string
	Role        Role
	Rating      int
	TokenID     string
	ExpiresAt   time.Time
}

// HasRole reports whether the token holder carries role r.
func (c AccessClaims) HasRole(r Role) bool {
	return c.Role == r
}

// TokenPair is what login and refresh hand back to the caller.
type TokenPair struct {
	AccessToken    string
	RefreshTokenID string
}
