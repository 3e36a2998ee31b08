package domain

import "time"

// User is a clinician account. Email doubles as the login identifier.
type User struct {
	ID               string
	Email            string
	FullName         string
	PasswordHash     string // argon2id PHC encoded
	Role             string // doctor, radiologist, admin, ...
	Active           bool
	Superuser        bool
	TwoFactorSecret  *string    // TOTP secret (nullable, base32 encoded)
	TwoFactorEnabled *time.Time // when two-factor was enabled (nullable)
	LastLogin        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasTwoFactor reports whether the account requires a TOTP code at login.
func (u User) HasTwoFactor() bool {
	return u.TwoFactorEnabled != nil && u.TwoFactorSecret != nil && *u.TwoFactorSecret != ""
}

// Profile is the read-only view of a user served to authenticated clients.
type Profile struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	FullName         string     `json:"full_name"`
	Role             string     `json:"role"`
	Active           bool       `json:"active"`
	Superuser        bool       `json:"superuser"`
	TwoFactorEnabled bool       `json:"two_factor_enabled"`
	LastLogin        *time.Time `json:"last_login,omitempty"`
}

// ProfileOf derives the client-visible profile from a user row.
func ProfileOf(u User) Profile {
	return Profile{
		ID:               u.ID,
		Email:            u.Email,
		FullName:         u.FullName,
		Role:             u.Role,
		Active:           u.Active,
		Superuser:        u.Superuser,
		TwoFactorEnabled: u.HasTwoFactor(),
		LastLogin:        u.LastLogin,
	}
}
