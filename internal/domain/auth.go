package domain

import "time"

// RefreshToken is the server-side row backing an opaque refresh token.
// Only the digest of the token value is stored.
type RefreshToken struct {
	ID         string
	AccountID  string
	TokenHash  string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	LastUsedAt *time.Time
}

// Expired reports whether the token has reached its expiry at now.
func (t *RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// SessionPolicy controls how many live refresh tokens an account may hold.
type SessionPolicy string

const (
	// SessionPolicyMulti keeps other live sessions when a new one is issued.
	SessionPolicyMulti SessionPolicy = "multi"
	// SessionPolicySingle deletes every existing session of the account on login.
	SessionPolicySingle SessionPolicy = "single"
)
