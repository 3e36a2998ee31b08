// Package store defines the data access interfaces implemented by concrete
// drivers under drivers/.
package store

import (
	"context"
	"errors"

	"github.com/calderhealth/medrec/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. It exposes sub-repositories to
// keep concerns tidy and testable.
type Store interface {
	Users() Users
	RefreshTokens() RefreshTokens
	LoginChallenges() LoginChallenges
	Activity() Activity

	ApplyMigrations() error

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed. Use it for
	// multi-step operations that must be atomic (e.g. refresh rotation).
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases the underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transaction-scoped view of the repositories.
type Tx interface {
	Users() Users
	RefreshTokens() RefreshTokens
	LoginChallenges() LoginChallenges
	Activity() Activity
}

type Users interface {
	// GetUserByID returns a user by id.
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByEmail is used during the password login step.
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	// CreateUser inserts a new user (id is provided by the app via ULID).
	CreateUser(ctx context.Context, u domain.User) error

	// UpdateLastLogin stamps last_login and bumps updated_at.
	UpdateLastLogin(ctx context.Context, userID string) error

	// UpdateTwoFactorSecret stores a provisional TOTP secret. Two-factor is
	// not considered enabled until EnableTwoFactor runs.
	UpdateTwoFactorSecret(ctx context.Context, userID, secret string) error

	// EnableTwoFactor stamps two_factor_enabled.
	EnableTwoFactor(ctx context.Context, userID string) error

	// DisableTwoFactor clears both the enabled stamp and the secret.
	DisableTwoFactor(ctx context.Context, userID string) error

	// IsEmpty reports whether there are no users (admin seeding check).
	IsEmpty(ctx context.Context) (bool, error)
}

type RefreshTokens interface {
	// CreateRefreshToken stores a new refresh token record.
	CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error

	// GetRefreshTokenByHash returns a token by its SHA-256 fingerprint.
	GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error)

	// RevokeRefreshToken flips revoked, keyed by fingerprint.
	RevokeRefreshToken(ctx context.Context, hash string) error

	// RevokeSessionRefreshTokens revokes every token of a session (logout).
	RevokeSessionRefreshTokens(ctx context.Context, sessionID string) error

	// DeleteExpiredRefreshTokens is housekeeping.
	DeleteExpiredRefreshTokens(ctx context.Context) error
}

type LoginChallenges interface {
	// CreateLoginChallenge stores a pending two-factor login.
	CreateLoginChallenge(ctx context.Context, c domain.LoginChallenge) error

	// GetLoginChallenge returns a challenge by its token (ULID id).
	GetLoginChallenge(ctx context.Context, id string) (domain.LoginChallenge, error)

	// IncrementLoginChallengeAttempts bumps the failed-attempt counter and
	// returns the updated row.
	IncrementLoginChallengeAttempts(ctx context.Context, id string) (domain.LoginChallenge, error)

	// DeleteLoginChallenge removes a completed or invalidated challenge.
	DeleteLoginChallenge(ctx context.Context, id string) error

	// DeleteExpiredLoginChallenges is housekeeping.
	DeleteExpiredLoginChallenges(ctx context.Context) error
}

type Activity interface {
	// RecordActivity appends an audit entry.
	RecordActivity(ctx context.Context, e domain.ActivityEntry) error

	// ListUserActivity returns the newest entries for a user, capped at limit.
	ListUserActivity(ctx context.Context, userID string, limit int) ([]domain.ActivityEntry, error)

	// DeleteActivityOlderThan prunes aged audit rows (housekeeping).
	DeleteActivityOlderThan(ctx context.Context, days int) error
}
