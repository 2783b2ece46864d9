package domain

import "time"

// DelegatedSession holds the tokens obtained from the identity provider for
// one browser session. The access token is opaque to the gateway; delegated
// trust decisions are always deferred to the IdP.
type DelegatedSession struct {
	AccessToken  string
	RefreshToken string
}

// UserSession is the per-browser-session record owned by the gateway,
// keyed by an opaque session ID carried in a cookie. It holds at most one
// authenticated user at a time.
type UserSession struct {
	SessionID       string
	User            *UserIdentity
	Delegated       *DelegatedSession
	AuthenticatedAt time.Time
}
