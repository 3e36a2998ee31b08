package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/calderhealth/medrec/internal/auth/service"
	"github.com/calderhealth/medrec/internal/auth/store"
	"github.com/calderhealth/medrec/pkg/authsdk"
	"github.com/calderhealth/medrec/pkg/httpx"
	"github.com/calderhealth/medrec/pkg/slogx"
)

// MeHandler serves GET /v1/auth/me.
// Returns the authenticated user's profile.
type MeHandler struct {
	UserService *service.UserService
}

func (h *MeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}

	profile, err := h.UserService.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// The token subject no longer exists; treat as unauthenticated.
			authsdk.ErrInvalidToken.WriteError(w)
			return
		}
		log.Error("profile lookup failed", "err", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, profile)
}

// ActivityHandler serves GET /v1/auth/me/activity.
// Returns the authenticated user's recent audit entries, newest first.
type ActivityHandler struct {
	UserService *service.UserService
}

func (h *ActivityHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.UserService.ListActivity(ctx, userID, limit)
	if err != nil {
		log.Error("activity lookup failed", "err", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}

	out := make([]authsdk.ActivityEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, authsdk.ActivityEntry{
			ID:          e.ID,
			Type:        string(e.Type),
			Description: e.Description,
			IPAddress:   e.IPAddress,
			CreatedAt:   e.CreatedAt,
		})
	}

	httpx.WriteJSON(w, http.StatusOK, out)
}
