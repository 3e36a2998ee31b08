package authsdk

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/calderhealth/medrec/pkg/httpx"
)

// Error codes shared between the server handlers and the SDK client.
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidCredentials   = "invalid_credentials"
	ErrorCodeInvalidTwoFactorCode = "invalid_two_factor_code"
	ErrorCodeTwoFactorRequired    = "two_factor_required"
	ErrorCodeTooManyAttempts      = "too_many_attempts"
	ErrorCodeSessionExpired       = "session_expired"
	ErrorCodeInvalidToken         = "invalid_token"
	ErrorCodeInsufficientRole     = "insufficient_role"
	ErrorCodeConflict             = "conflict"
	ErrorCodeServerError          = "server_error"
)

// APIError is the wire error shape used by every endpoint. It implements the
// error interface so the same type serves the server (to write responses) and
// the SDK client (to surface them).
type APIError struct {
	// StatusCode is the HTTP status for this error.
	StatusCode int `json:"-"`

	// Code is the machine-readable error code.
	Code string `json:"error"`

	// Description is a human-readable description of the error.
	Description string `json:"error_description"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Is matches on the error code, so errors.Is works against the predefined
// values even for errors parsed off the wire.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	return ok && t.Code == e.Code
}

// WriteError writes this APIError to an HTTP response writer.
func (e *APIError) WriteError(w http.ResponseWriter) {
	httpx.NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             e.Code,
		"error_description": e.Description,
	})
}

var (
	// ErrInvalidRequest is returned when the request is missing a required
	// parameter or is otherwise malformed.
	ErrInvalidRequest = &APIError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidRequest,
		Description: "the request is malformed or missing required parameters",
	}

	// ErrInvalidContentType is returned when the login form is posted with
	// the wrong Content-Type. Login accepts form encoding only.
	ErrInvalidContentType = &APIError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidRequest,
		Description: "content-type must be application/x-www-form-urlencoded",
	}

	// ErrInvalidBody is returned when a request body cannot be parsed.
	ErrInvalidBody = &APIError{
		StatusCode:  http.StatusBadRequest,
		Code:        ErrorCodeInvalidRequest,
		Description: "invalid request body",
	}

	// ErrInvalidCredentials is returned when the email or password is wrong,
	// or the account is inactive. The description is deliberately the same
	// for all three so responses don't leak which accounts exist.
	ErrInvalidCredentials = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidCredentials,
		Description: "invalid email or password",
	}

	// ErrInvalidTwoFactorCode is returned when a one-time code fails
	// verification, or the challenge token is unknown or expired.
	ErrInvalidTwoFactorCode = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidTwoFactorCode,
		Description: "invalid or expired two-factor code",
	}

	// ErrTooManyAttempts is returned once a two-factor challenge has burned
	// through its attempt budget. The challenge is gone; log in again.
	ErrTooManyAttempts = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeTooManyAttempts,
		Description: "too many failed attempts, start over from login",
	}

	// ErrSessionExpired is returned when a refresh token is expired, revoked,
	// or unknown. The client must re-authenticate from scratch.
	ErrSessionExpired = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeSessionExpired,
		Description: "session expired, sign in again",
	}

	// ErrInvalidToken is returned when the access token is missing, invalid
	// or expired.
	ErrInvalidToken = &APIError{
		StatusCode:  http.StatusUnauthorized,
		Code:        ErrorCodeInvalidToken,
		Description: "the access token is missing, invalid or expired",
	}

	// ErrInsufficientRole is returned when the authenticated user's role does
	// not permit the operation.
	ErrInsufficientRole = &APIError{
		StatusCode:  http.StatusForbidden,
		Code:        ErrorCodeInsufficientRole,
		Description: "your role does not permit this operation",
	}

	// ErrServerError is the catch-all for unexpected failures.
	ErrServerError = &APIError{
		StatusCode:  http.StatusInternalServerError,
		Code:        ErrorCodeServerError,
		Description: "internal server error",
	}
)

// NewAPIError creates an APIError with a custom description.
func NewAPIError(statusCode int, code, description string) *APIError {
	return &APIError{
		StatusCode:  statusCode,
		Code:        code,
		Description: description,
	}
}

// TwoFactorRequiredError is returned by login when the account has two-factor
// enabled. The password checked out but no tokens are issued yet; the client
// must complete the challenge with VerifyTwoFactor.
type TwoFactorRequiredError struct {
	// TwoFactorToken identifies the pending challenge.
	TwoFactorToken string `json:"two_factor_token"`
}

func (e *TwoFactorRequiredError) Error() string {
	return "two-factor code required to complete sign-in"
}

// WriteError writes the challenge as a 200 response. The body carries
// requires_two_factor so clients share one decode path with the token
// response, and no usable credential is present.
func (e *TwoFactorRequiredError) WriteError(w http.ResponseWriter) {
	httpx.NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(TokenResponse{
		RequiresTwoFactor: true,
		TwoFactorToken:    e.TwoFactorToken,
	})
}

// NetworkError wraps transport-level failures (connection refused, timeouts,
// DNS) so callers can tell "the server said no" apart from "the server never
// answered". Login and verification forms can offer a retry on these instead
// of showing a credential error.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// parseErrorResponse turns a non-2xx HTTP response into a typed error.
func parseErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return &APIError{
			StatusCode:  resp.StatusCode,
			Code:        errResp.Error,
			Description: errResp.ErrorDescription,
		}
	}

	return &APIError{
		StatusCode:  resp.StatusCode,
		Code:        ErrorCodeServerError,
		Description: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
	}
}
