package http

import (
	"net/http"

	"github.com/calderhealth/medrec/internal/auth/service"
	"github.com/calderhealth/medrec/pkg/authsdk"
	"github.com/calderhealth/medrec/pkg/httpx"
	"github.com/calderhealth/medrec/pkg/slogx"
)

// LogoutHandler serves POST /v1/auth/logout.
// Revokes every refresh token of the caller's session and returns 204. The
// access token itself stays valid until expiry, which is at most the access
// TTL away.
type LogoutHandler struct {
	TokenService *service.TokenService
}

func (h *LogoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID := httpx.UserIDFromContext(ctx)
	sessionID := httpx.SessionIDFromContext(ctx)
	if userID == "" || sessionID == "" {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}

	if err := h.TokenService.RevokeSession(ctx, userID, sessionID, httpx.ClientIP(r)); err != nil {
		log.Error("logout failed", "err", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}

	httpx.NoCache(w)
	w.WriteHeader(http.StatusNoContent)
}
