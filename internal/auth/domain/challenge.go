package domain

import "time"

// MaxChallengeAttempts is the number of failed two-factor code submissions a
// pending login survives before it is invalidated.
const MaxChallengeAttempts = 5

// LoginChallenge is a pending login that passed the password check but still
// needs a two-factor code. It carries no usable access token; the ULID id is
// the opaque two_factor_token handed to the client.
type LoginChallenge struct {
	ID        string
	UserID    string
	SessionID string // reserved session id for the tokens minted on success
	Attempts  int
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the challenge can no longer be completed.
func (c LoginChallenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
