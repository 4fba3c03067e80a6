package models

import "time"

// Role constants for caller identities.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Token is a bearer-token caller identity: a user id plus role, optionally
// time-bounded. The plaintext token is shown once; only its hash is stored.
type Token struct {
	ID          string
	UserID      int64
	Role        string
	DisplayName string
	TTL         time.Duration
	CreatedAt   time.Time
	ExpiresAt   time.Time
	RevokedAt   *time.Time
}

// IsExpired returns true if the token has passed its expiry time.
func (t *Token) IsExpired() bool {
	return !t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt)
}

// IsRevoked returns true if the token has been revoked.
func (t *Token) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsAdmin reports whether the identity carries the administrator role.
func (t *Token) IsAdmin() bool {
	return t.Role == RoleAdmin
}
