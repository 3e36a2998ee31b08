package authsdk

import "time"

// ErrorResponse is the wire shape of an error body. Used internally for
// parsing HTTP error responses; client code sees APIError instead.
type ErrorResponse struct {
	// Error is the machine-readable error code.
	Error string `json:"error"`

	// ErrorDescription is a human-readable description of the error.
	ErrorDescription string `json:"error_description"`
}

// TokenResponse is the body returned by the login, verify-two-factor and
// refresh-token endpoints.
//
// When RequiresTwoFactor is true the password was accepted but no tokens are
// issued; TwoFactorToken identifies the pending challenge and every other
// field is empty.
type TokenResponse struct {
	// AccessToken is the signed JWT used to authenticate API requests.
	AccessToken string `json:"access_token,omitempty"`

	// RefreshToken is the opaque token used to obtain new access tokens.
	RefreshToken string `json:"refresh_token,omitempty"`

	// TokenType is always "Bearer".
	TokenType string `json:"token_type,omitempty"`

	// ExpiresIn is the lifetime in seconds of the access token.
	ExpiresIn int `json:"expires_in,omitempty"`

	// RequiresTwoFactor signals that a two-factor challenge must be
	// completed before tokens are issued.
	RequiresTwoFactor bool `json:"requires_two_factor,omitempty"`

	// TwoFactorToken identifies the pending challenge. It is only usable
	// against the verify-two-factor endpoint.
	TwoFactorToken string `json:"two_factor_token,omitempty"`
}

// Profile is the authenticated user's profile as returned by GET /v1/auth/me.
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

// TwoFactorSetupResponse carries a freshly generated TOTP secret. The secret
// is provisional until the enable endpoint confirms a valid code.
type TwoFactorSetupResponse struct {
	// Secret is the base32-encoded TOTP secret.
	Secret string `json:"secret"`

	// OTPAuthURL is the otpauth:// provisioning URI for authenticator apps.
	OTPAuthURL string `json:"otpauth_url"`
}

// HealthResponse is returned by the /livez and /readyz probes.
type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Version string        `json:"version"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks reports the state of critical dependencies.
type HealthChecks struct {
	Database string `json:"database"`
}

// ActivityEntry is one row of the user's audit trail.
type ActivityEntry struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	IPAddress   string    `json:"ip_address,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
