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

// TwoFactorHandler serves the authenticated two-factor management endpoints:
// setup, enable, and disable.
type TwoFactorHandler struct {
	TwoFactorService *service.TwoFactorService
}

type twoFactorCodeRequest struct {
	Code string `json:"code"`
}

// HandleSetup serves POST /v1/auth/two-factor/setup.
func (h *TwoFactorHandler) HandleSetup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}

	setup, err := h.TwoFactorService.SetupTOTP(ctx, userID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTwoFactorAlreadyEnabled):
			authsdk.NewAPIError(http.StatusConflict, authsdk.ErrorCodeConflict,
				"two-factor is already enabled").WriteError(w)
		default:
			log.Error("two-factor setup failed", "err", err)
			authsdk.ErrServerError.WriteError(w)
		}
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.TwoFactorSetupResponse{
		Secret:     setup.Secret,
		OTPAuthURL: setup.OTPAuthURL,
	})
}

// HandleEnable serves POST /v1/auth/two-factor/enable.
func (h *TwoFactorHandler) HandleEnable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}

	var req twoFactorCodeRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		authsdk.ErrInvalidBody.WriteError(w)
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	err := h.TwoFactorService.EnableTOTP(ctx, userID, strings.TrimSpace(req.Code), httpx.ClientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTwoFactorAlreadyEnabled):
			authsdk.NewAPIError(http.StatusConflict, authsdk.ErrorCodeConflict,
				"two-factor is already enabled").WriteError(w)
		case errors.Is(err, service.ErrTwoFactorNotSetUp):
			authsdk.NewAPIError(http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest,
				"run two-factor setup first").WriteError(w)
		case errors.Is(err, service.ErrInvalidTwoFactorCode):
			authsdk.ErrInvalidTwoFactorCode.WriteError(w)
		default:
			log.Error("two-factor enable failed", "err", err)
			authsdk.ErrServerError.WriteError(w)
		}
		return
	}

	httpx.NoCache(w)
	w.WriteHeader(http.StatusNoContent)
}

// HandleDisable serves POST /v1/auth/two-factor/disable.
func (h *TwoFactorHandler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}

	var req twoFactorCodeRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		authsdk.ErrInvalidBody.WriteError(w)
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		authsdk.ErrInvalidRequest.WriteError(w)
		return
	}

	err := h.TwoFactorService.DisableTOTP(ctx, userID, strings.TrimSpace(req.Code), httpx.ClientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTwoFactorNotEnabled):
			authsdk.NewAPIError(http.StatusConflict, authsdk.ErrorCodeConflict,
				"two-factor is not enabled").WriteError(w)
		case errors.Is(err, service.ErrInvalidTwoFactorCode):
			authsdk.ErrInvalidTwoFactorCode.WriteError(w)
		default:
			log.Error("two-factor disable failed", "err", err)
			authsdk.ErrServerError.WriteError(w)
		}
		return
	}

	httpx.NoCache(w)
	w.WriteHeader(http.StatusNoContent)
}
