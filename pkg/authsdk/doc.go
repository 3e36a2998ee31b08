// Package authsdk is the client SDK for the Calder Health auth service.
//
// It has three layers:
//
//   - Client: thin typed wrapper over the REST endpoints (login,
//     verify-two-factor, refresh-token, me, logout, two-factor management).
//   - TokenStore: a single-slot persistence interface for the token pair,
//     with in-memory and file-backed implementations.
//   - Coordinator: the session state machine. It restores a session from the
//     TokenStore at startup (validating it against the server before trusting
//     it), walks logins through the optional two-factor step, caches the
//     user's profile, keeps the access token fresh with a background refresh
//     at five sixths of its lifetime, and publishes state transitions to
//     subscribers.
//
// Guard sits on top of the Coordinator and answers the only question a
// routing layer has: can this navigation proceed, should it wait, or where
// should it bounce to.
package authsdk
