package authsdk

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the session lifecycle state published by the Coordinator.
type State int

const (
	// StateAnonymous means no session: nothing stored, or the stored
	// session was rejected by the server.
	StateAnonymous State = iota

	// StateAwaitingTwoFactor means the password was accepted and a
	// two-factor code must be submitted to finish signing in.
	StateAwaitingTwoFactor

	// StateAuthenticated means a live, server-validated session is held:
	// access token plus fetched profile.
	StateAuthenticated

	// StateRefreshing means a refresh is in flight: either the startup
	// restore or a background rotation.
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAwaitingTwoFactor:
		return "awaiting_two_factor"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

const (
	// refreshNum/refreshDen schedule the background refresh at five sixths
	// of the access token's lifetime: a 30 minute token refreshes after 25.
	refreshNum = 5
	refreshDen = 6

	// refreshCallTimeout bounds a single refresh or profile HTTP call.
	refreshCallTimeout = 30 * time.Second
)

var (
	// ErrNoPendingTwoFactor is returned by VerifyTwoFactor when no login is
	// waiting on a code.
	ErrNoPendingTwoFactor = errors.New("authsdk: no two-factor challenge pending")

	// ErrNotAuthenticated is returned by operations that need a live session.
	ErrNotAuthenticated = errors.New("authsdk: not authenticated")
)

// Coordinator drives the session lifecycle for an interactive client. It
// owns the TokenStore slot, walks logins through the optional two-factor
// step, and rotates the token pair in the background before the access token
// expires. A session is either fully established (validated tokens plus a
// fetched profile) or fully cleared; a restored pair is never usable before
// the server has accepted its refresh token. All methods are safe for
// concurrent use.
type Coordinator struct {
	client *Client
	store  TokenStore
	clock  Clock

	mu             sync.RWMutex
	state          State
	tokens         *StoredTokens
	profile        *Profile
	twoFactorToken string

	subs    map[int]chan State
	nextSub int

	stopCh chan struct{}
	doneCh chan struct{}
}

// CoordinatorOption customises a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithClock replaces the wall clock, letting tests drive the refresh
// schedule deterministically.
func WithClock(clock Clock) CoordinatorOption {
	return func(c *Coordinator) { c.clock = clock }
}

// NewCoordinator creates a Coordinator in StateAnonymous. Call Start to
// restore any persisted session.
func NewCoordinator(client *Client, store TokenStore, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		client: client,
		store:  store,
		clock:  RealClock(),
		state:  StateAnonymous,
		subs:   map[int]chan State{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start restores the persisted session, if any. A stored pair is never
// trusted on sight: the Coordinator enters StateRefreshing and validates the
// refresh token against the server before any authenticated state is
// published, so a revoked session cannot flash authenticated UI. Start
// returns quickly; the validation resolves in the background and a UI can
// render a loading state until it does.
func (c *Coordinator) Start() error {
	stored, err := c.store.Load()
	if err != nil {
		c.mu.Lock()
		c.setStateLocked(StateAnonymous)
		c.mu.Unlock()
		return err
	}
	if stored == nil || stored.RefreshToken == "" {
		c.mu.Lock()
		c.setStateLocked(StateAnonymous)
		c.mu.Unlock()
		return nil
	}

	c.mu.Lock()
	c.tokens = stored
	c.setStateLocked(StateRefreshing)
	c.startRefreshLoopLocked(true)
	c.mu.Unlock()
	return nil
}

// Login submits credentials. When the account has two-factor enabled it
// returns (true, nil) and the Coordinator waits in StateAwaitingTwoFactor
// for VerifyTwoFactor; otherwise the session is established directly.
func (c *Coordinator) Login(ctx context.Context, email, password string) (requiresTwoFactor bool, err error) {
	resp, err := c.client.Login(ctx, email, password)
	if err != nil {
		return false, err
	}

	if resp.RequiresTwoFactor {
		c.mu.Lock()
		c.twoFactorToken = resp.TwoFactorToken
		c.setStateLocked(StateAwaitingTwoFactor)
		c.mu.Unlock()
		return true, nil
	}

	return false, c.adopt(ctx, resp)
}

// VerifyTwoFactor completes the pending login with a TOTP code. A wrong
// code leaves the challenge pending (the server budgets attempts); once the
// budget is exhausted the Coordinator drops back to StateAnonymous.
func (c *Coordinator) VerifyTwoFactor(ctx context.Context, code string) error {
	c.mu.RLock()
	token := c.twoFactorToken
	state := c.state
	c.mu.RUnlock()

	if state != StateAwaitingTwoFactor || token == "" {
		return ErrNoPendingTwoFactor
	}

	resp, err := c.client.VerifyTwoFactor(ctx, token, code)
	if err != nil {
		if errors.Is(err, ErrTooManyAttempts) {
			c.mu.Lock()
			c.twoFactorToken = ""
			c.setStateLocked(StateAnonymous)
			c.mu.Unlock()
		}
		return err
	}

	if err := c.adopt(ctx, resp); err != nil {
		// The challenge was consumed server-side; start over from login.
		c.mu.Lock()
		c.twoFactorToken = ""
		c.setStateLocked(StateAnonymous)
		c.mu.Unlock()
		return err
	}
	return nil
}

// Logout revokes the session server-side and always clears local state,
// even when the revocation call fails.
func (c *Coordinator) Logout(ctx context.Context) error {
	c.mu.RLock()
	var access string
	if c.tokens != nil {
		access = c.tokens.AccessToken
	}
	c.mu.RUnlock()

	var err error
	if access != "" {
		err = c.client.Logout(ctx, access)
	}

	c.mu.Lock()
	c.stopRefreshLoopLocked()
	c.tokens = nil
	c.profile = nil
	c.twoFactorToken = ""
	c.setStateLocked(StateAnonymous)
	clearErr := c.store.Clear()
	c.mu.Unlock()

	if clearErr != nil && err == nil {
		err = clearErr
	}
	return err
}

// Close stops the background refresh loop. The session itself is untouched.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.stopRefreshLoopLocked()
	c.mu.Unlock()
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// AccessToken returns the current access token. ok is false when there is
// no token, it has expired, or the session has not been validated against
// the server yet (startup restore still in flight).
func (c *Coordinator) AccessToken() (token string, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.tokens == nil || c.profile == nil || c.tokens.Expired(c.clock.Now()) {
		return "", false
	}
	return c.tokens.AccessToken, true
}

// CurrentUser returns the profile cached when the session was established,
// or nil when no session is established.
func (c *Coordinator) CurrentUser() *Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.profile == nil {
		return nil
	}
	p := *c.profile
	return &p
}

// Me fetches a fresh copy of the authenticated user's profile. CurrentUser
// returns the cached one without a network call.
func (c *Coordinator) Me(ctx context.Context) (*Profile, error) {
	token, ok := c.AccessToken()
	if !ok {
		return nil, ErrNotAuthenticated
	}
	return c.client.Me(ctx, token)
}

// Subscribe registers for state transitions. The returned channel receives
// every transition (buffered; slow consumers may miss intermediate states
// but always converge on the latest). Call the cancel function to
// unsubscribe.
func (c *Coordinator) Subscribe() (<-chan State, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	ch := make(chan State, 8)
	c.subs[id] = ch

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// adopt installs a freshly issued token pair. The profile fetch is part of
// establishing the session: on fetch failure nothing is installed and the
// caller decides what state to fall back to.
func (c *Coordinator) adopt(ctx context.Context, resp *TokenResponse) error {
	now := c.clock.Now()
	tokens := &StoredTokens{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(resp.ExpiresIn) * time.Second),
	}

	profile, err := c.client.Me(ctx, tokens.AccessToken)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.tokens = tokens
	c.profile = profile
	c.twoFactorToken = ""
	c.setStateLocked(StateAuthenticated)
	c.startRefreshLoopLocked(false)
	_ = c.store.Save(tokens)
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	for _, ch := range c.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

func (c *Coordinator) startRefreshLoopLocked(validateFirst bool) {
	c.stopRefreshLoopLocked()
	stop := make(chan struct{})
	done := make(chan struct{})
	c.stopCh, c.doneCh = stop, done
	go c.refreshLoop(stop, done, validateFirst)
}

func (c *Coordinator) stopRefreshLoopLocked() {
	if c.stopCh == nil {
		return
	}
	close(c.stopCh)
	c.stopCh = nil
	// The loop may be blocked on a timer; it exits on its own. Waiting here
	// would deadlock when the loop is mid-refresh and wants the mutex.
	c.doneCh = nil
}

func (c *Coordinator) refreshLoop(stop, done chan struct{}, immediate bool) {
	defer close(done)

	for {
		if !immediate {
			c.mu.RLock()
			tokens := c.tokens
			c.mu.RUnlock()
			if tokens == nil {
				return
			}

			// Refresh at five sixths of the token's remaining life. A
			// restored pair whose access token already lapsed refreshes
			// immediately.
			remaining := tokens.ExpiresAt.Sub(c.clock.Now())
			wait := remaining * refreshNum / refreshDen
			if wait < 0 {
				wait = 0
			}

			timer := c.clock.NewTimer(wait)
			select {
			case <-stop:
				timer.Stop()
				return
			case <-timer.C():
			}
		}
		immediate = false

		if !c.refreshOnce(stop) {
			return
		}
	}
}

// refreshOnce performs one refresh and installs the result only while this
// loop is still the Coordinator's current one: a result arriving after
// logout, or after a newer login replaced the loop, must not resurrect the
// old session. Any refresh failure ends the session without retry, since a
// failed refresh usually means the refresh token expired or was revoked and
// retrying would only delay the forced re-login. Returns false when the
// loop should end.
func (c *Coordinator) refreshOnce(stop chan struct{}) bool {
	c.mu.Lock()
	if c.stopCh != stop || c.tokens == nil {
		c.mu.Unlock()
		return false
	}
	refreshToken := c.tokens.RefreshToken
	c.setStateLocked(StateRefreshing)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), refreshCallTimeout)
	resp, err := c.client.Refresh(ctx, refreshToken)
	cancel()

	if err != nil {
		return c.endSessionUnlessSuperseded(stop)
	}

	c.mu.RLock()
	superseded := c.stopCh != stop
	profile := c.profile
	c.mu.RUnlock()
	if superseded {
		return false
	}

	if profile == nil {
		// Startup restore: the profile fetch completes establishment.
		mctx, mcancel := context.WithTimeout(context.Background(), refreshCallTimeout)
		profile, err = c.client.Me(mctx, resp.AccessToken)
		mcancel()
		if err != nil {
			return c.endSessionUnlessSuperseded(stop)
		}
	}

	now := c.clock.Now()
	tokens := &StoredTokens{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(resp.ExpiresIn) * time.Second),
	}

	c.mu.Lock()
	if c.stopCh != stop {
		c.mu.Unlock()
		return false
	}
	c.tokens = tokens
	c.profile = profile
	c.setStateLocked(StateAuthenticated)
	_ = c.store.Save(tokens)
	c.mu.Unlock()
	return true
}

// endSessionUnlessSuperseded clears the session after a failed refresh or
// profile fetch, unless a newer loop owns the state by now. Always returns
// false so the calling loop exits.
func (c *Coordinator) endSessionUnlessSuperseded(stop chan struct{}) bool {
	c.mu.Lock()
	if c.stopCh != stop {
		c.mu.Unlock()
		return false
	}
	c.tokens = nil
	c.profile = nil
	c.setStateLocked(StateAnonymous)
	_ = c.store.Clear()
	c.mu.Unlock()
	return false
}
