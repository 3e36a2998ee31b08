package domain

import "time"

// ActivityType enumerates auditable authentication events.
type ActivityType string

const (
	ActivityLogin            ActivityType = "login"
	ActivityTwoFactorVerify  ActivityType = "two_factor_verify"
	ActivityTwoFactorEnable  ActivityType = "two_factor_enable"
	ActivityTwoFactorDisable ActivityType = "two_factor_disable"
	ActivityLogout           ActivityType = "logout"
)

// ActivityEntry is one row of the authentication audit trail.
type ActivityEntry struct {
	ID          string
	UserID      string
	Type        ActivityType
	Description string
	IPAddress   string
	CreatedAt   time.Time
}
