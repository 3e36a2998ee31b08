package authsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a typed HTTP client for the auth service.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates an auth service client.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Login submits an email/password pair. Three outcomes:
//
//   - tokens issued: TokenResponse with AccessToken set
//   - two-factor required: TokenResponse with RequiresTwoFactor and
//     TwoFactorToken set, nothing else
//   - failure: a typed error (*APIError or *NetworkError)
func (c *Client) Login(ctx context.Context, email, password string) (*TokenResponse, error) {
	form := url.Values{
		"username": {email},
		"password": {password},
	}

	resp, err := c.doForm(ctx, "/v1/auth/login", form)
	if err != nil {
		return nil, err
	}

	var tokens TokenResponse
	if err := decodeJSON(resp, &tokens, http.StatusOK); err != nil {
		return nil, err
	}
	return &tokens, nil
}

// VerifyTwoFactor completes a pending login with a TOTP code.
func (c *Client) VerifyTwoFactor(ctx context.Context, twoFactorToken, code string) (*TokenResponse, error) {
	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/auth/verify-two-factor", map[string]string{
		"two_factor_token": twoFactorToken,
		"code":             code,
	}, "")
	if err != nil {
		return nil, err
	}

	var tokens TokenResponse
	if err := decodeJSON(resp, &tokens, http.StatusOK); err != nil {
		return nil, err
	}
	return &tokens, nil
}

// Refresh exchanges a refresh token for a rotated pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/auth/refresh-token", map[string]string{
		"refresh_token": refreshToken,
	}, "")
	if err != nil {
		return nil, err
	}

	var tokens TokenResponse
	if err := decodeJSON(resp, &tokens, http.StatusOK); err != nil {
		return nil, err
	}
	return &tokens, nil
}

// Me fetches the authenticated user's profile.
func (c *Client) Me(ctx context.Context, accessToken string) (*Profile, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/auth/me", nil, accessToken, "")
	if err != nil {
		return nil, err
	}

	var profile Profile
	if err := decodeJSON(resp, &profile, http.StatusOK); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Activity fetches the caller's recent audit entries. limit <= 0 uses the
// server default.
func (c *Client) Activity(ctx context.Context, accessToken string, limit int) ([]ActivityEntry, error) {
	path := "/v1/auth/me/activity"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	resp, err := c.do(ctx, http.MethodGet, path, nil, accessToken, "")
	if err != nil {
		return nil, err
	}

	var entries []ActivityEntry
	if err := decodeJSON(resp, &entries, http.StatusOK); err != nil {
		return nil, err
	}
	return entries, nil
}

// Logout revokes the session behind the access token.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	resp, err := c.do(ctx, http.MethodPost, "/v1/auth/logout", nil, accessToken, "")
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

// SetupTwoFactor generates a provisional TOTP secret for the caller.
func (c *Client) SetupTwoFactor(ctx context.Context, accessToken string) (*TwoFactorSetupResponse, error) {
	resp, err := c.do(ctx, http.MethodPost, "/v1/auth/two-factor/setup", nil, accessToken, "")
	if err != nil {
		return nil, err
	}

	var setup TwoFactorSetupResponse
	if err := decodeJSON(resp, &setup, http.StatusOK); err != nil {
		return nil, err
	}
	return &setup, nil
}

// EnableTwoFactor confirms the provisional secret with a code and turns
// two-factor on.
func (c *Client) EnableTwoFactor(ctx context.Context, accessToken, code string) error {
	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/auth/two-factor/enable", map[string]string{
		"code": code,
	}, accessToken)
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

// DisableTwoFactor turns two-factor off. Requires a valid current code.
func (c *Client) DisableTwoFactor(ctx context.Context, accessToken, code string) error {
	resp, err := c.doJSON(ctx, http.MethodPost, "/v1/auth/two-factor/disable", map[string]string{
		"code": code,
	}, accessToken)
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

func (c *Client) url(path string) string {
	return c.BaseURL + path
}

func (c *Client) do(
	ctx context.Context,
	method, path string,
	body io.Reader,
	accessToken, contentType string,
) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: method + " " + path, Err: err}
	}
	return resp, nil
}

func (c *Client) doForm(ctx context.Context, path string, form url.Values) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, path,
		strings.NewReader(form.Encode()), "", "application/x-www-form-urlencoded")
}

func (c *Client) doJSON(
	ctx context.Context,
	method, path string,
	body any,
	accessToken string,
) (*http.Response, error) {
	var buf strings.Builder
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return c.do(ctx, method, path, strings.NewReader(buf.String()), accessToken, "application/json")
}

// decodeJSON decodes a response into target, returning a typed error for
// non-expected status codes.
func decodeJSON(resp *http.Response, target any, expectedStatus int) error {
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Op: "read response", Err: err}
	}

	if resp.StatusCode != expectedStatus {
		return parseErrorResponse(resp, bodyBytes)
	}

	if err := json.Unmarshal(bodyBytes, target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// checkStatusNoContent returns a typed error unless the response is 204.
func checkStatusNoContent(resp *http.Response) error {
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return parseErrorResponse(resp, bodyBytes)
	}
	return nil
}
