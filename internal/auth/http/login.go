package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/calderhealth/medrec/internal/auth/service"
	"github.com/calderhealth/medrec/pkg/authsdk"
	"github.com/calderhealth/medrec/pkg/httpx"
	"github.com/calderhealth/medrec/pkg/slogx"
)

// LoginHandler serves POST /v1/auth/login.
// Accepts application/x-www-form-urlencoded with username and password
// fields. The username is the account email.
type LoginHandler struct {
	TokenService *service.TokenService
}

func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	if ct := r.Header.Get("Content-Type"); ct != "" &&
		!strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		authsdk.ErrInvalidContentType.WriteError(w)
		return
	}

	if err := r.ParseForm(); err != nil {
		authsdk.ErrInvalidBody.WriteError(w)
		return
	}

	email := strings.TrimSpace(r.Form.Get("username"))
	password := r.Form.Get("password")
	if email == "" || password == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	pair, err := h.TokenService.PasswordLogin(ctx, email, password, httpx.ClientIP(r))
	if err != nil {
		var challenge *authsdk.TwoFactorRequiredError
		switch {
		case errors.As(err, &challenge):
			challenge.WriteError(w)
		case errors.Is(err, service.ErrInvalidCredentials):
			authsdk.ErrInvalidCredentials.WriteError(w)
		default:
			log.Error("login failed", "err", err)
			authsdk.ErrServerError.WriteError(w)
		}
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(pair.ExpiresIn.Seconds()),
	})
}
