package auth_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/calderhealth/medrec/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

// TestSessionRestoreEndToEnd walks a persisted session across Coordinator
// restarts the way a desktop client survives being reopened.
func TestSessionRestoreEndToEnd(t *testing.T) {
	e := startAuthEnv(t)
	e.seedClinician(t, clinicianEmail, clinicianPassword, false)
	ctx := context.Background()

	slot := authsdk.NewFileTokenStore(filepath.Join(t.TempDir(), "tokens.json"))

	first := authsdk.NewCoordinator(e.sdk, slot)
	defer first.Close()

	twoFactor, err := first.Login(ctx, clinicianEmail, clinicianPassword)
	require.NoError(t, err)
	require.False(t, twoFactor)
	require.Equal(t, authsdk.StateAuthenticated, first.State())

	profile, err := first.Me(ctx)
	require.NoError(t, err)
	require.Equal(t, clinicianEmail, profile.Email)

	// Simulate an app restart: a new Coordinator over the same slot.
	first.Close()

	second := authsdk.NewCoordinator(e.sdk, slot)
	defer second.Close()

	require.NoError(t, second.Start())

	// The restored pair is validated against the server before the session
	// becomes authenticated, so wait for the background refresh to land.
	require.Eventually(t, func() bool { return second.State() == authsdk.StateAuthenticated },
		5*time.Second, 10*time.Millisecond)

	user := second.CurrentUser()
	require.NotNil(t, user)
	require.Equal(t, clinicianEmail, user.Email)

	profile, err = second.Me(ctx)
	require.NoError(t, err)
	require.Equal(t, clinicianEmail, profile.Email)

	t.Run("logout ends the session everywhere", func(t *testing.T) {
		require.NoError(t, second.Logout(ctx))
		require.Equal(t, authsdk.StateAnonymous, second.State())

		third := authsdk.NewCoordinator(e.sdk, slot)
		defer third.Close()

		require.NoError(t, third.Start())
		require.Equal(t, authsdk.StateAnonymous, third.State())
	})
}

// TestGuardEndToEnd drives the route guard off a real session.
func TestGuardEndToEnd(t *testing.T) {
	e := startAuthEnv(t)
	e.seedClinician(t, clinicianEmail, clinicianPassword, false)
	ctx := context.Background()

	coord := authsdk.NewCoordinator(e.sdk, authsdk.NewMemoryTokenStore())
	defer coord.Close()
	require.NoError(t, coord.Start())

	guard := &authsdk.Guard{Coordinator: coord}

	d := guard.RequireAuth("/patients/42")
	require.NotNil(t, d.Redirect)
	require.Equal(t, "/login", d.Redirect.To)
	require.Equal(t, "/patients/42", d.Redirect.From)

	_, err := coord.Login(ctx, clinicianEmail, clinicianPassword)
	require.NoError(t, err)

	d = guard.RequireAuth("/patients/42")
	require.True(t, d.Allow)

	d = guard.RequireAnonymous("/login")
	require.NotNil(t, d.Redirect)
	require.Equal(t, "/", d.Redirect.To)

	require.NoError(t, coord.Logout(ctx))

	d = guard.RequireAuth("/patients/42")
	require.NotNil(t, d.Redirect)
	require.Equal(t, "/login", d.Redirect.To)
}
