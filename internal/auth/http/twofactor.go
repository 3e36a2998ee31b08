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

// VerifyTwoFactorHandler serves POST /v1/auth/verify-two-factor.
// Completes a pending login challenge with a TOTP code.
type VerifyTwoFactorHandler struct {
	TokenService *service.TokenService
}

type verifyTwoFactorRequest struct {
	TwoFactorToken string `json:"two_factor_token"`
	Code           string `json:"code"`
}

func (h *VerifyTwoFactorHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req verifyTwoFactorRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		authsdk.ErrInvalidBody.WriteError(w)
		return
	}

	req.TwoFactorToken = strings.TrimSpace(req.TwoFactorToken)
	req.Code = strings.TrimSpace(req.Code)
	if req.TwoFactorToken == "" || req.Code == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	pair, err := h.TokenService.CompleteTwoFactor(ctx, req.TwoFactorToken, req.Code, httpx.ClientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTooManyAttempts):
			authsdk.ErrTooManyAttempts.WriteError(w)
		case errors.Is(err, service.ErrInvalidTwoFactorCode):
			authsdk.ErrInvalidTwoFactorCode.WriteError(w)
		default:
			log.Error("two-factor verification failed", "err", err)
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
