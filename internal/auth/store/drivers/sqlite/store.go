// Package sqlite implements the store interfaces on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/calderhealth/medrec/internal/auth/domain"
	"github.com/calderhealth/medrec/internal/auth/store"

	_ "modernc.org/sqlite"
)

// dbtx is the subset of database/sql shared by *sql.DB and *sql.Tx, so the
// same repositories serve both the root store and transaction-scoped views.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db  *sql.DB
	dsn string
}

func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// Enforce FKs
	if _, err := db.ExecContext(context.Background(), `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{
		db:  db,
		dsn: dsn,
	}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx executes fn within a transaction, automatically handling commit/rollback.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	// Ensure rollback is called if we panic or return early with error
	defer func() {
		_ = tx.Rollback() // safe to call even after commit
	}()

	if err := fn(newTx(tx)); err != nil {
		return err // rollback happens in defer
	}

	return tx.Commit()
}

func (s *Store) Users() store.Users                     { return &usersRepo{db: s.db} }
func (s *Store) RefreshTokens() store.RefreshTokens     { return &refreshTokensRepo{db: s.db} }
func (s *Store) LoginChallenges() store.LoginChallenges { return &loginChallengesRepo{db: s.db} }
func (s *Store) Activity() store.Activity               { return &activityRepo{db: s.db} }

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func mapNullStringPtr(ns sql.NullString) *string {
	if ns.Valid {
		val := ns.String
		return &val
	}
	return nil
}

func mapOptionalString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: *s, Valid: true}
}

func mapNullTimePtr(nt sql.NullTime) *time.Time {
	if nt.Valid {
		val := nt.Time
		return &val
	}
	return nil
}

func joinAMR(amr []string) string {
	return strings.Join(amr, " ")
}

func splitAMR(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}

func scanUser(row interface{ Scan(dest ...any) error }) (domain.User, error) {
	var (
		u                domain.User
		twoFactorSecret  sql.NullString
		twoFactorEnabled sql.NullTime
		lastLogin        sql.NullTime
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.FullName,
		&u.PasswordHash,
		&u.Role,
		&u.Active,
		&u.Superuser,
		&twoFactorSecret,
		&twoFactorEnabled,
		&lastLogin,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, err
	}
	u.TwoFactorSecret = mapNullStringPtr(twoFactorSecret)
	u.TwoFactorEnabled = mapNullTimePtr(twoFactorEnabled)
	u.LastLogin = mapNullTimePtr(lastLogin)
	return u, nil
}

func scanRefreshToken(row interface{ Scan(dest ...any) error }) (domain.RefreshToken, error) {
	var (
		t   domain.RefreshToken
		amr string
	)
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.TokenHash,
		&t.SessionID,
		&amr,
		&t.ExpiresAt,
		&t.Revoked,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return domain.RefreshToken{}, err
	}
	t.AMR = splitAMR(amr)
	return t, nil
}

func scanLoginChallenge(row interface{ Scan(dest ...any) error }) (domain.LoginChallenge, error) {
	var c domain.LoginChallenge
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.SessionID,
		&c.Attempts,
		&c.CreatedAt,
		&c.ExpiresAt,
	)
	if err != nil {
		return domain.LoginChallenge{}, err
	}
	return c, nil
}
