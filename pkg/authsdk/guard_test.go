package authsdk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// guardCoordinator builds a Coordinator pinned to a given state without
// touching the network.
func guardCoordinator(t *testing.T, state State, tokens *StoredTokens) *Coordinator {
	t.Helper()

	c := NewCoordinator(NewClient("http://auth.internal"), NewMemoryTokenStore(),
		WithClock(newFakeClock()))
	t.Cleanup(c.Close)

	c.mu.Lock()
	c.state = state
	c.tokens = tokens
	c.mu.Unlock()
	return c
}

func liveTokens(c *Coordinator) *StoredTokens {
	return &StoredTokens{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    c.clock.Now().Add(20 * time.Minute),
	}
}

func lapsedTokens(c *Coordinator) *StoredTokens {
	return &StoredTokens{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    c.clock.Now().Add(-time.Minute),
	}
}

func TestGuardRequireAuth(t *testing.T) {
	t.Run("authenticated is allowed through", func(t *testing.T) {
		c := guardCoordinator(t, StateAuthenticated, nil)
		g := &Guard{Coordinator: c}

		d := g.RequireAuth("/patients/42")
		require.True(t, d.Allow)
		require.False(t, d.Loading)
		require.Nil(t, d.Redirect)
	})

	t.Run("anonymous redirects to login with the origin", func(t *testing.T) {
		c := guardCoordinator(t, StateAnonymous, nil)
		g := &Guard{Coordinator: c}

		d := g.RequireAuth("/patients/42")
		require.False(t, d.Allow)
		require.NotNil(t, d.Redirect)
		require.Equal(t, "/login", d.Redirect.To)
		require.Equal(t, "/patients/42", d.Redirect.From)
	})

	t.Run("awaiting two-factor redirects to the code form", func(t *testing.T) {
		c := guardCoordinator(t, StateAwaitingTwoFactor, nil)
		g := &Guard{Coordinator: c}

		d := g.RequireAuth("/patients/42")
		require.NotNil(t, d.Redirect)
		require.Equal(t, "/login/two-factor", d.Redirect.To)
	})

	t.Run("refreshing with a live token is allowed through", func(t *testing.T) {
		c := guardCoordinator(t, StateRefreshing, nil)
		c.mu.Lock()
		c.tokens = liveTokens(c)
		c.profile = &Profile{Email: "a@b.c"}
		c.mu.Unlock()
		g := &Guard{Coordinator: c}

		d := g.RequireAuth("/patients/42")
		require.True(t, d.Allow)
		require.False(t, d.Loading)
	})

	t.Run("refreshing with a lapsed token shows loading", func(t *testing.T) {
		c := guardCoordinator(t, StateRefreshing, nil)
		c.mu.Lock()
		c.tokens = lapsedTokens(c)
		c.profile = &Profile{Email: "a@b.c"}
		c.mu.Unlock()
		g := &Guard{Coordinator: c}

		d := g.RequireAuth("/patients/42")
		require.False(t, d.Allow)
		require.True(t, d.Loading)
		require.Nil(t, d.Redirect)
	})

	t.Run("an unvalidated restore shows loading", func(t *testing.T) {
		// Restored tokens without a fetched profile are not usable yet,
		// even when the access token is locally unexpired.
		c := guardCoordinator(t, StateRefreshing, nil)
		c.mu.Lock()
		c.tokens = liveTokens(c)
		c.mu.Unlock()
		g := &Guard{Coordinator: c}

		d := g.RequireAuth("/patients/42")
		require.False(t, d.Allow)
		require.True(t, d.Loading)
	})

	t.Run("custom paths are honoured", func(t *testing.T) {
		c := guardCoordinator(t, StateAnonymous, nil)
		g := &Guard{Coordinator: c, LoginPath: "/auth/sign-in"}

		d := g.RequireAuth("/records")
		require.Equal(t, "/auth/sign-in", d.Redirect.To)
	})
}

func TestGuardRequireAnonymous(t *testing.T) {
	t.Run("anonymous is allowed onto the login form", func(t *testing.T) {
		c := guardCoordinator(t, StateAnonymous, nil)
		g := &Guard{Coordinator: c}

		d := g.RequireAnonymous("/login")
		require.True(t, d.Allow)
	})

	t.Run("awaiting two-factor is allowed onto the code form", func(t *testing.T) {
		c := guardCoordinator(t, StateAwaitingTwoFactor, nil)
		g := &Guard{Coordinator: c}

		d := g.RequireAnonymous("/login/two-factor")
		require.True(t, d.Allow)
	})

	t.Run("authenticated is bounced home", func(t *testing.T) {
		c := guardCoordinator(t, StateAuthenticated, nil)
		g := &Guard{Coordinator: c}

		d := g.RequireAnonymous("/login")
		require.NotNil(t, d.Redirect)
		require.Equal(t, "/", d.Redirect.To)
		require.Equal(t, "/login", d.Redirect.From)
	})

	t.Run("refreshing with a live token is bounced home", func(t *testing.T) {
		c := guardCoordinator(t, StateRefreshing, nil)
		c.mu.Lock()
		c.tokens = liveTokens(c)
		c.profile = &Profile{Email: "a@b.c"}
		c.mu.Unlock()
		g := &Guard{Coordinator: c, HomePath: "/dashboard"}

		d := g.RequireAnonymous("/login")
		require.Equal(t, "/dashboard", d.Redirect.To)
	})

	t.Run("refreshing with a lapsed token shows loading", func(t *testing.T) {
		c := guardCoordinator(t, StateRefreshing, nil)
		c.mu.Lock()
		c.tokens = lapsedTokens(c)
		c.mu.Unlock()
		g := &Guard{Coordinator: c}

		d := g.RequireAnonymous("/login")
		require.True(t, d.Loading)
	})
}
