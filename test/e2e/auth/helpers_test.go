package auth_test

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/calderhealth/medrec/internal/auth/domain"
	httpapi "github.com/calderhealth/medrec/internal/auth/http"
	"github.com/calderhealth/medrec/internal/auth/service"
	"github.com/calderhealth/medrec/internal/auth/store"
	"github.com/calderhealth/medrec/internal/auth/store/drivers/sqlite"
	"github.com/calderhealth/medrec/pkg/authsdk"
	"github.com/calderhealth/medrec/pkg/cryptox"
	"github.com/calderhealth/medrec/pkg/idx"
	"github.com/calderhealth/medrec/pkg/jwtx"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

/*
 * End-to-end tests exercising the SDK against the full HTTP stack: real
 * router, services, and SQLite store, with only the listener swapped for
 * an in-process httptest server.
 */

const (
	testIssuer = "https://auth.medrec.test"

	clinicianEmail    = "dr.reed@calderhealth.test"
	clinicianPassword = "Radiology-1922"
)

type env struct {
	server *httptest.Server
	store  store.Store
	sdk    *authsdk.Client
}

func startAuthEnv(t *testing.T) *env {
	t.Helper()

	st, err := sqlite.NewStore(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	kp, err := jwtx.GenerateKeypair(idx.New().String(), testIssuer)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	router := httpapi.NewRouter(kp, "e2e", st, logger)
	router.TokenService = &service.TokenService{
		Signer:     kp,
		Store:      st,
		Issuer:     testIssuer,
		AccessTTL:  jwtx.DefaultAccessTokenTTL,
		RefreshTTL: jwtx.DefaultRefreshTokenTTL,
	}
	router.UserService = &service.UserService{Store: st}
	router.TwoFactorService = &service.TwoFactorService{Store: st, Issuer: "Calder Health"}
	router.ApplyRoutes()

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &env{server: srv, store: st, sdk: authsdk.NewClient(srv.URL)}
}

func (e *env) seedClinician(t *testing.T, email, password string, withTwoFactor bool) (domain.User, string) {
	t.Helper()
	ctx := context.Background()

	hash, err := cryptox.HashPassword(password)
	require.NoError(t, err)

	u := domain.User{
		ID:           idx.New().String(),
		Email:        email,
		FullName:     "Dr. Evelyn Reed",
		PasswordHash: hash,
		Role:         "radiologist",
		Active:       true,
	}
	require.NoError(t, e.store.Users().CreateUser(ctx, u))

	var secret string
	if withTwoFactor {
		svc := &service.TwoFactorService{Store: e.store, Issuer: "Calder Health"}
		setup, err := svc.SetupTOTP(ctx, u.ID)
		require.NoError(t, err)
		secret = setup.Secret

		code, err := totp.GenerateCode(secret, time.Now())
		require.NoError(t, err)
		require.NoError(t, svc.EnableTOTP(ctx, u.ID, code, "127.0.0.1"))
	}

	return u, secret
}
