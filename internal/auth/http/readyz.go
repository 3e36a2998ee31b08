package http

import (
	"net/http"
	"time"

	"github.com/calderhealth/medrec/internal/auth/store"
	"github.com/calderhealth/medrec/pkg/authsdk"
	"github.com/calderhealth/medrec/pkg/httpx"
)

// ReadyzHandler is the readiness probe. Reports 503 while the database is
// unreachable.
func ReadyzHandler(startTime time.Time, version string, st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := &authsdk.HealthChecks{Database: "ok"}
		status := "ok"
		statusCode := http.StatusOK

		if err := st.Ping(r.Context()); err != nil {
			checks.Database = "error: " + err.Error()
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		httpx.WriteJSON(w, statusCode, authsdk.HealthResponse{
			Status:  status,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		})
	}
}
