package authsdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock drives the Coordinator's refresh schedule by hand.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTimer{ch: make(chan time.Time, 1), at: c.now.Add(d), dur: d}
	if d <= 0 {
		t.fire(c.now)
	} else {
		c.timers = append(c.timers, t)
	}
	return t
}

// Advance moves the clock and fires every timer that came due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
	remaining := c.timers[:0]
	for _, t := range c.timers {
		if !t.at.After(c.now) {
			t.fire(c.now)
		} else {
			remaining = append(remaining, t)
		}
	}
	c.timers = remaining
}

func (c *fakeClock) pendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, t := range c.timers {
		if !t.stopped() {
			n++
		}
	}
	return n
}

func (c *fakeClock) lastTimerDur() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timers) == 0 {
		return 0
	}
	return c.timers[len(c.timers)-1].dur
}

type fakeTimer struct {
	mu     sync.Mutex
	ch     chan time.Time
	at     time.Time
	dur    time.Duration
	fired  bool
	halted bool
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.fired && !t.halted
	t.halted = true
	return was
}

func (t *fakeTimer) stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.halted
}

func (t *fakeTimer) fire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired || t.halted {
		return
	}
	t.fired = true
	t.ch <- now
}

// fakeTransport serves requests from an in-process handler and can be
// flipped offline to simulate network failures.
type fakeTransport struct {
	mu      sync.Mutex
	offline bool
	handler http.Handler
}

func (ft *fakeTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	ft.mu.Lock()
	offline := ft.offline
	ft.mu.Unlock()

	if offline {
		return nil, errors.New("connect: connection refused")
	}

	rec := httptest.NewRecorder()
	ft.handler.ServeHTTP(rec, r)
	return rec.Result(), nil
}

func (ft *fakeTransport) setOffline(v bool) {
	ft.mu.Lock()
	ft.offline = v
	ft.mu.Unlock()
}

// fakeAuthAPI is a scripted stand-in for the auth service.
type fakeAuthAPI struct {
	mu sync.Mutex

	requireTwoFactor bool
	rejectRefresh    bool

	// refreshGate, when set, parks refresh calls until it is closed.
	refreshGate chan struct{}

	rotation       int
	currentRefresh string
	refreshCalls   int
	meCalls        int
	codeAttempts   int
	logoutCalls    int
}

const (
	fakeAccessTTL = 1800 // seconds, matches the service default
	goodPassword  = "correct-password"
	goodCode      = "123456"
	challengeID   = "challenge-1"
	userEmail     = "a@b.c"
)

func (a *fakeAuthAPI) issuePair() TokenResponse {
	a.rotation++
	a.currentRefresh = fmt.Sprintf("refresh-%d", a.rotation)
	return TokenResponse{
		AccessToken:  fmt.Sprintf("access-%d", a.rotation),
		RefreshToken: a.currentRefresh,
		TokenType:    "Bearer",
		ExpiresIn:    fakeAccessTTL,
	}
}

func (a *fakeAuthAPI) refreshCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshCalls
}

func (a *fakeAuthAPI) meCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.meCalls
}

func (a *fakeAuthAPI) setRefreshGate(gate chan struct{}) {
	a.mu.Lock()
	a.refreshGate = gate
	a.mu.Unlock()
}

func writeAPIError(w http.ResponseWriter, e *APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: e.Code, ErrorDescription: e.Description})
}

func (a *fakeAuthAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/v1/auth/refresh-token" {
		a.mu.Lock()
		gate := a.refreshGate
		a.mu.Unlock()
		if gate != nil {
			<-gate
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	switch r.URL.Path {
	case "/v1/auth/login":
		_ = r.ParseForm()
		if r.Form.Get("password") != goodPassword {
			writeAPIError(w, ErrInvalidCredentials)
			return
		}
		if a.requireTwoFactor {
			_ = json.NewEncoder(w).Encode(TokenResponse{
				RequiresTwoFactor: true,
				TwoFactorToken:    challengeID,
			})
			return
		}
		_ = json.NewEncoder(w).Encode(a.issuePair())

	case "/v1/auth/verify-two-factor":
		var req struct {
			TwoFactorToken string `json:"two_factor_token"`
			Code           string `json:"code"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.TwoFactorToken != challengeID {
			writeAPIError(w, ErrInvalidTwoFactorCode)
			return
		}
		if req.Code != goodCode {
			a.codeAttempts++
			if a.codeAttempts >= 5 {
				writeAPIError(w, ErrTooManyAttempts)
				return
			}
			writeAPIError(w, ErrInvalidTwoFactorCode)
			return
		}
		_ = json.NewEncoder(w).Encode(a.issuePair())

	case "/v1/auth/refresh-token":
		a.refreshCalls++
		if a.rejectRefresh {
			writeAPIError(w, ErrSessionExpired)
			return
		}
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.RefreshToken != a.currentRefresh {
			writeAPIError(w, ErrSessionExpired)
			return
		}
		_ = json.NewEncoder(w).Encode(a.issuePair())

	case "/v1/auth/me":
		a.meCalls++
		_ = json.NewEncoder(w).Encode(Profile{
			ID:       "user-1",
			Email:    userEmail,
			FullName: "Alex Barros",
			Role:     "doctor",
			Active:   true,
		})

	case "/v1/auth/logout":
		a.logoutCalls++
		w.WriteHeader(http.StatusNoContent)

	default:
		http.NotFound(w, r)
	}
}

type coordFixture struct {
	api   *fakeAuthAPI
	trans *fakeTransport
	clock *fakeClock
	store TokenStore
	coord *Coordinator
}

func newCoordFixture(t *testing.T) *coordFixture {
	t.Helper()

	api := &fakeAuthAPI{}
	trans := &fakeTransport{handler: api}
	clock := newFakeClock()
	store := NewMemoryTokenStore()

	client := NewClient("http://auth.internal")
	client.HTTPClient = &http.Client{Transport: trans}

	coord := NewCoordinator(client, store, WithClock(clock))
	t.Cleanup(coord.Close)

	return &coordFixture{api: api, trans: trans, clock: clock, store: store, coord: coord}
}

func waitForState(t *testing.T, c *Coordinator, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want },
		2*time.Second, 5*time.Millisecond, "expected state %v", want)
}

func waitForTimers(t *testing.T, clock *fakeClock, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return clock.pendingTimers() >= n },
		2*time.Second, 5*time.Millisecond, "expected %d pending timers", n)
}

func TestCoordinatorPasswordLogin(t *testing.T) {
	f := newCoordFixture(t)
	ctx := context.Background()

	require.Equal(t, StateAnonymous, f.coord.State())

	t.Run("invalid credentials stay anonymous", func(t *testing.T) {
		_, err := f.coord.Login(ctx, userEmail, "wrong")
		require.ErrorIs(t, err, ErrInvalidCredentials)
		require.Equal(t, StateAnonymous, f.coord.State())

		_, ok := f.coord.AccessToken()
		require.False(t, ok)
		require.Nil(t, f.coord.CurrentUser())
	})

	t.Run("valid credentials authenticate and persist", func(t *testing.T) {
		twoFactor, err := f.coord.Login(ctx, userEmail, goodPassword)
		require.NoError(t, err)
		require.False(t, twoFactor)
		require.Equal(t, StateAuthenticated, f.coord.State())

		token, ok := f.coord.AccessToken()
		require.True(t, ok)
		require.Equal(t, "access-1", token)

		// The profile is fetched as part of establishing the session.
		user := f.coord.CurrentUser()
		require.NotNil(t, user)
		require.Equal(t, userEmail, user.Email)
		require.Equal(t, 1, f.api.meCount())

		stored, err := f.store.Load()
		require.NoError(t, err)
		require.NotNil(t, stored)
		require.Equal(t, "refresh-1", stored.RefreshToken)
	})
}

func TestCoordinatorTwoFactorFlow(t *testing.T) {
	f := newCoordFixture(t)
	f.api.requireTwoFactor = true
	ctx := context.Background()

	twoFactor, err := f.coord.Login(ctx, userEmail, goodPassword)
	require.NoError(t, err)
	require.True(t, twoFactor)
	require.Equal(t, StateAwaitingTwoFactor, f.coord.State())

	// No usable credential while the challenge is pending.
	_, ok := f.coord.AccessToken()
	require.False(t, ok)
	stored, err := f.store.Load()
	require.NoError(t, err)
	require.Nil(t, stored)

	t.Run("wrong code keeps the challenge pending", func(t *testing.T) {
		err := f.coord.VerifyTwoFactor(ctx, "000000")
		require.ErrorIs(t, err, ErrInvalidTwoFactorCode)
		require.Equal(t, StateAwaitingTwoFactor, f.coord.State())
	})

	t.Run("valid code authenticates", func(t *testing.T) {
		require.NoError(t, f.coord.VerifyTwoFactor(ctx, goodCode))
		require.Equal(t, StateAuthenticated, f.coord.State())

		stored, err := f.store.Load()
		require.NoError(t, err)
		require.NotNil(t, stored)
	})
}

func TestCoordinatorTwoFactorAttemptBudget(t *testing.T) {
	f := newCoordFixture(t)
	f.api.requireTwoFactor = true
	ctx := context.Background()

	_, err := f.coord.Login(ctx, userEmail, goodPassword)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		err := f.coord.VerifyTwoFactor(ctx, "000000")
		require.ErrorIs(t, err, ErrInvalidTwoFactorCode)
	}

	err = f.coord.VerifyTwoFactor(ctx, "000000")
	require.ErrorIs(t, err, ErrTooManyAttempts)
	require.Equal(t, StateAnonymous, f.coord.State())

	// The challenge is gone client-side too.
	err = f.coord.VerifyTwoFactor(ctx, goodCode)
	require.ErrorIs(t, err, ErrNoPendingTwoFactor)
}

func TestCoordinatorSchedulesRefreshAtFiveSixths(t *testing.T) {
	f := newCoordFixture(t)
	ctx := context.Background()

	_, err := f.coord.Login(ctx, userEmail, goodPassword)
	require.NoError(t, err)

	waitForTimers(t, f.clock, 1)

	// 30 minute token, refresh due at 25 minutes.
	require.Equal(t, 25*time.Minute, f.clock.lastTimerDur())

	t.Run("no refresh before the mark", func(t *testing.T) {
		f.clock.Advance(24 * time.Minute)
		time.Sleep(20 * time.Millisecond)
		require.Equal(t, 0, f.api.refreshCount())
	})

	t.Run("refresh fires at the mark and rotates", func(t *testing.T) {
		f.clock.Advance(time.Minute)

		require.Eventually(t, func() bool { return f.api.refreshCount() == 1 },
			2*time.Second, 5*time.Millisecond)
		waitForState(t, f.coord, StateAuthenticated)

		token, ok := f.coord.AccessToken()
		require.True(t, ok)
		require.Equal(t, "access-2", token)

		stored, err := f.store.Load()
		require.NoError(t, err)
		require.Equal(t, "refresh-2", stored.RefreshToken)
	})

	t.Run("the next refresh is scheduled again", func(t *testing.T) {
		waitForTimers(t, f.clock, 1)
		require.Equal(t, 25*time.Minute, f.clock.lastTimerDur())
	})
}

func TestCoordinatorNetworkFailureEndsSession(t *testing.T) {
	f := newCoordFixture(t)
	ctx := context.Background()

	_, err := f.coord.Login(ctx, userEmail, goodPassword)
	require.NoError(t, err)

	waitForTimers(t, f.clock, 1)
	f.trans.setOffline(true)

	// The refresh fails on the network. There is no retry: the session
	// ends and the user re-authenticates.
	f.clock.Advance(25 * time.Minute)

	waitForState(t, f.coord, StateAnonymous)
	require.Equal(t, 0, f.api.refreshCount())

	_, ok := f.coord.AccessToken()
	require.False(t, ok)

	stored, err := f.store.Load()
	require.NoError(t, err)
	require.Nil(t, stored)
}

func TestCoordinatorRefreshRejectionEndsSession(t *testing.T) {
	f := newCoordFixture(t)
	ctx := context.Background()

	_, err := f.coord.Login(ctx, userEmail, goodPassword)
	require.NoError(t, err)

	waitForTimers(t, f.clock, 1)
	f.api.rejectRefresh = true

	f.clock.Advance(25 * time.Minute)

	waitForState(t, f.coord, StateAnonymous)

	stored, err := f.store.Load()
	require.NoError(t, err)
	require.Nil(t, stored)
}

func TestCoordinatorRestore(t *testing.T) {
	t.Run("stored pair is validated before authenticating", func(t *testing.T) {
		f := newCoordFixture(t)
		f.api.rotation = 1
		f.api.currentRefresh = "refresh-1"

		require.NoError(t, f.store.Save(&StoredTokens{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			ExpiresAt:    f.clock.Now().Add(20 * time.Minute),
		}))

		states, cancel := f.coord.Subscribe()
		defer cancel()

		require.NoError(t, f.coord.Start())

		// The stored access token is locally unexpired, but nothing is
		// usable until the server has accepted the refresh token.
		require.Equal(t, StateRefreshing, <-states)
		require.Equal(t, StateAuthenticated, <-states)
		require.Equal(t, 1, f.api.refreshCount())

		token, ok := f.coord.AccessToken()
		require.True(t, ok)
		require.Equal(t, "access-2", token)

		user := f.coord.CurrentUser()
		require.NotNil(t, user)
		require.Equal(t, userEmail, user.Email)
	})

	t.Run("expired stored pair refreshes the same way", func(t *testing.T) {
		f := newCoordFixture(t)
		f.api.rotation = 1
		f.api.currentRefresh = "refresh-1"

		require.NoError(t, f.store.Save(&StoredTokens{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			ExpiresAt:    f.clock.Now().Add(-time.Minute),
		}))

		require.NoError(t, f.coord.Start())

		waitForState(t, f.coord, StateAuthenticated)
		token, ok := f.coord.AccessToken()
		require.True(t, ok)
		require.Equal(t, "access-2", token)
		require.NotNil(t, f.coord.CurrentUser())
	})

	t.Run("rejected stored pair clears the slot", func(t *testing.T) {
		f := newCoordFixture(t)
		f.api.rejectRefresh = true

		require.NoError(t, f.store.Save(&StoredTokens{
			AccessToken:  "stale",
			RefreshToken: "stale",
			ExpiresAt:    f.clock.Now().Add(-time.Hour),
		}))

		require.NoError(t, f.coord.Start())

		waitForState(t, f.coord, StateAnonymous)
		stored, err := f.store.Load()
		require.NoError(t, err)
		require.Nil(t, stored)
	})

	t.Run("empty store starts anonymous", func(t *testing.T) {
		f := newCoordFixture(t)
		require.NoError(t, f.coord.Start())
		require.Equal(t, StateAnonymous, f.coord.State())
	})
}

// A stored pair whose access token looks fine locally may have been revoked
// server-side. Restore must never publish an authenticated state, or hand
// out the token, before the server has vouched for the session.
func TestCoordinatorRestoreNeverTrustsStoredPair(t *testing.T) {
	f := newCoordFixture(t)
	f.api.rejectRefresh = true

	require.NoError(t, f.store.Save(&StoredTokens{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    f.clock.Now().Add(20 * time.Minute),
	}))

	states, cancel := f.coord.Subscribe()
	defer cancel()

	require.NoError(t, f.coord.Start())

	_, ok := f.coord.AccessToken()
	require.False(t, ok)
	require.Nil(t, f.coord.CurrentUser())

	waitForState(t, f.coord, StateAnonymous)
	require.Equal(t, 1, f.api.refreshCount())

	stored, err := f.store.Load()
	require.NoError(t, err)
	require.Nil(t, stored)

drain:
	for {
		select {
		case s := <-states:
			require.NotEqual(t, StateAuthenticated, s)
		default:
			break drain
		}
	}
}

// A refresh that is already in flight when the user logs out must not
// install its result afterwards, or the logged-out session would come back
// from the dead with a freshly rotated pair.
func TestCoordinatorLogoutDuringRefresh(t *testing.T) {
	f := newCoordFixture(t)
	ctx := context.Background()

	_, err := f.coord.Login(ctx, userEmail, goodPassword)
	require.NoError(t, err)

	waitForTimers(t, f.clock, 1)

	gate := make(chan struct{})
	f.api.setRefreshGate(gate)

	// Fire the scheduled refresh; it parks inside the server call.
	f.clock.Advance(25 * time.Minute)
	waitForState(t, f.coord, StateRefreshing)

	require.NoError(t, f.coord.Logout(ctx))
	require.Equal(t, StateAnonymous, f.coord.State())

	// Let the parked refresh complete with a rotated pair.
	close(gate)
	require.Eventually(t, func() bool { return f.api.refreshCount() == 1 },
		2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	require.Equal(t, StateAnonymous, f.coord.State())
	_, ok := f.coord.AccessToken()
	require.False(t, ok)
	require.Nil(t, f.coord.CurrentUser())

	stored, err := f.store.Load()
	require.NoError(t, err)
	require.Nil(t, stored)
}

func TestCoordinatorLogout(t *testing.T) {
	f := newCoordFixture(t)
	ctx := context.Background()

	_, err := f.coord.Login(ctx, userEmail, goodPassword)
	require.NoError(t, err)

	require.NoError(t, f.coord.Logout(ctx))
	require.Equal(t, StateAnonymous, f.coord.State())
	require.Equal(t, 1, f.api.logoutCalls)
	require.Nil(t, f.coord.CurrentUser())

	stored, err := f.store.Load()
	require.NoError(t, err)
	require.Nil(t, stored)

	t.Run("logout clears locally even when offline", func(t *testing.T) {
		_, err := f.coord.Login(ctx, userEmail, goodPassword)
		require.NoError(t, err)

		f.trans.setOffline(true)
		err = f.coord.Logout(ctx)
		require.Error(t, err)
		require.Equal(t, StateAnonymous, f.coord.State())

		stored, err := f.store.Load()
		require.NoError(t, err)
		require.Nil(t, stored)
	})
}

func TestCoordinatorSubscribe(t *testing.T) {
	f := newCoordFixture(t)
	f.api.requireTwoFactor = true
	ctx := context.Background()

	ch, cancel := f.coord.Subscribe()
	defer cancel()

	_, err := f.coord.Login(ctx, userEmail, goodPassword)
	require.NoError(t, err)
	require.NoError(t, f.coord.VerifyTwoFactor(ctx, goodCode))

	require.Equal(t, StateAwaitingTwoFactor, <-ch)
	require.Equal(t, StateAuthenticated, <-ch)

	t.Run("cancel stops delivery", func(t *testing.T) {
		cancel()
		require.NoError(t, f.coord.Logout(ctx))
		select {
		case s := <-ch:
			t.Fatalf("unexpected state after unsubscribe: %v", s)
		default:
		}
	})
}
