package authsdk

// Decision is a Guard's answer for one navigation attempt. Exactly one of
// Allow, Loading, or Redirect describes what the routing layer should do.
type Decision struct {
	// Allow means the navigation may proceed.
	Allow bool

	// Loading means the session outcome is not known yet (startup restore
	// in flight); show a loading state instead of a login form.
	Loading bool

	// Redirect, when non-nil, is where to send the user instead.
	Redirect *Redirect
}

// Redirect carries the target route and the route the user was trying to
// reach, so the login flow can bounce back after authentication.
type Redirect struct {
	To   string
	From string
}

// Guard answers route-level authentication questions from the Coordinator's
// current state.
type Guard struct {
	Coordinator *Coordinator

	// LoginPath is where unauthenticated users are sent. Defaults to "/login".
	LoginPath string

	// TwoFactorPath is where half-signed-in users are sent. Defaults to
	// "/login/two-factor".
	TwoFactorPath string

	// HomePath is where already-authenticated users are sent away from
	// guest-only routes. Defaults to "/".
	HomePath string
}

func (g *Guard) loginPath() string {
	if g.LoginPath != "" {
		return g.LoginPath
	}
	return "/login"
}

func (g *Guard) twoFactorPath() string {
	if g.TwoFactorPath != "" {
		return g.TwoFactorPath
	}
	return "/login/two-factor"
}

func (g *Guard) homePath() string {
	if g.HomePath != "" {
		return g.HomePath
	}
	return "/"
}

// RequireAuth guards a protected route. from is the route being navigated
// to; it rides along on redirects so login can return the user there.
func (g *Guard) RequireAuth(from string) Decision {
	switch g.Coordinator.State() {
	case StateAuthenticated:
		return Decision{Allow: true}

	case StateRefreshing:
		// Mid-rotation of an established session the user stays on the
		// page. A startup restore that the server hasn't vouched for yet,
		// or a lapsed token, means the outcome isn't known: show loading.
		if _, ok := g.Coordinator.AccessToken(); ok {
			return Decision{Allow: true}
		}
		return Decision{Loading: true}

	case StateAwaitingTwoFactor:
		return Decision{Redirect: &Redirect{To: g.twoFactorPath(), From: from}}

	default:
		return Decision{Redirect: &Redirect{To: g.loginPath(), From: from}}
	}
}

// RequireAnonymous guards guest-only routes such as the login form.
// Authenticated users are bounced to HomePath.
func (g *Guard) RequireAnonymous(from string) Decision {
	switch g.Coordinator.State() {
	case StateAuthenticated:
		return Decision{Redirect: &Redirect{To: g.homePath(), From: from}}

	case StateRefreshing:
		if _, ok := g.Coordinator.AccessToken(); ok {
			return Decision{Redirect: &Redirect{To: g.homePath(), From: from}}
		}
		return Decision{Loading: true}

	default:
		return Decision{Allow: true}
	}
}
