package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"go.vitreo.hu/authgate/domain"
	autherr "go.vitreo.hu/authgate/errors"
	"go.vitreo.hu/authgate/internal/idp"
	"go.vitreo.hu/authgate/internal/metrics"
	"go.vitreo.hu/authgate/internal/session"
	"go.vitreo.hu/authgate/internal/token"
)

// ErrCallbackDenied is returned by HandleCallback for every failure: missing
// code, unknown or mismatched state, rejected exchange. Callers redirect to
// the unauthenticated home surface without revealing which check failed.
var ErrCallbackDenied = errors.New("delegated login callback denied")

// IdentityProvider is the gateway's port to the external IdP. Satisfied by
// *idp.Client; mocked in tests.
type IdentityProvider interface {
	AuthorizationURL(state string) string
	ExchangeAuthorizationCode(ctx context.Context, code string) (*idp.TokenSet, error)
	ExchangePasswordGrant(ctx context.Context, username, password string) (*idp.TokenSet, error)
	FetchUserInfo(ctx context.Context, accessToken string) (*domain.UserIdentity, error)
	IntrospectBearer(ctx context.Context, bearer string) (*domain.UserIdentity, error)
}

var _ IdentityProvider = (*idp.Client)(nil)

// Gateway orchestrates the two authentication paths: delegation to the
// external identity provider and locally issued signed tokens. It owns no
// state of its own; per-browser-session state lives in the session store.
type Gateway struct {
	idp      IdentityProvider
	sessions session.Store
	codec    *token.Codec
	verifier CredentialVerifier
}

// New wires a Gateway from its collaborators.
func New(provider IdentityProvider, sessions session.Store, codec *token.Codec, verifier CredentialVerifier) *Gateway {
	return &Gateway{
		idp:      provider,
		sessions: sessions,
		codec:    codec,
		verifier: verifier,
	}
}

// InitiateDelegatedLogin starts the authorization-code flow for a browser
// session: creates the single-use state nonce and returns the IdP
// authorization URL to redirect to.
func (g *Gateway) InitiateDelegatedLogin(ctx context.Context, sessionID string) (string, error) {
	state, err := g.sessions.CreateState(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return g.idp.AuthorizationURL(state), nil
}

// HandleCallback completes the authorization-code flow. It fails closed: a
// missing code or a state nonce that does not match what this session issued
// yields ErrCallbackDenied without detail. On success the user identity and
// delegated tokens are stored in the session.
func (g *Gateway) HandleCallback(ctx context.Context, sessionID, code, state string) error {
	if code == "" {
		log.Warn().Str("session_id", sessionID).Msg("callback without authorization code")
		return ErrCallbackDenied
	}

	ok, err := g.sessions.ConsumeState(ctx, sessionID, state)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("state consumption failed")
		return ErrCallbackDenied
	}
	if !ok {
		log.Warn().Str("session_id", sessionID).Msg("callback state mismatch")
		metrics.LoginFailureTotal.WithLabelValues(string(domain.AuthMethodDelegated)).Inc()
		return ErrCallbackDenied
	}

	tokens, err := g.idp.ExchangeAuthorizationCode(ctx, code)
	if err != nil {
		g.countUpstreamError(err)
		log.Error().Err(err).Str("session_id", sessionID).Msg("authorization code exchange failed")
		return ErrCallbackDenied
	}

	identity, err := g.idp.FetchUserInfo(ctx, tokens.AccessToken)
	if err != nil {
		g.countUpstreamError(err)
		log.Error().Err(err).Str("session_id", sessionID).Msg("userinfo fetch after exchange failed")
		return ErrCallbackDenied
	}

	delegated := &domain.DelegatedSession{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	}
	if err := g.sessions.SetUser(ctx, sessionID, identity, delegated); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to persist session user")
		return ErrCallbackDenied
	}

	metrics.LoginSuccessTotal.WithLabelValues(string(domain.AuthMethodDelegated)).Inc()
	log.Info().Str("session_id", sessionID).Str("username", identity.Username).
		Msg("delegated login completed")
	return nil
}

// DirectDelegatedLogin performs the password grant against the IdP and
// returns the token set plus resolved identity. Stateless: session state is
// never touched.
func (g *Gateway) DirectDelegatedLogin(ctx context.Context, username, password string) (*idp.TokenSet, *domain.UserIdentity, error) {
	tokens, err := g.idp.ExchangePasswordGrant(ctx, username, password)
	if err != nil {
		g.countUpstreamError(err)
		metrics.LoginFailureTotal.WithLabelValues(string(domain.AuthMethodDelegated)).Inc()
		return nil, nil, err
	}

	identity, err := g.idp.FetchUserInfo(ctx, tokens.AccessToken)
	if err != nil {
		g.countUpstreamError(err)
		metrics.LoginFailureTotal.WithLabelValues(string(domain.AuthMethodDelegated)).Inc()
		return nil, nil, err
	}

	metrics.LoginSuccessTotal.WithLabelValues(string(domain.AuthMethodDelegated)).Inc()
	return tokens, identity, nil
}

// IssueLocalToken validates the credential pair through the configured
// verifier and issues a signed local token on success.
func (g *Gateway) IssueLocalToken(ctx context.Context, username, password string) (string, *domain.UserIdentity, error) {
	role, err := g.verifier.Verify(ctx, username, password)
	if err != nil {
		metrics.LoginFailureTotal.WithLabelValues(string(domain.AuthMethodLocal)).Inc()
		return "", nil, err
	}

	raw, err := g.codec.Issue(username, role)
	if err != nil {
		log.Error().Err(err).Str("username", username).Msg("local token signing failed")
		return "", nil, err
	}

	metrics.LoginSuccessTotal.WithLabelValues(string(domain.AuthMethodLocal)).Inc()
	metrics.TokensIssuedTotal.Inc()
	return raw, &domain.UserIdentity{
		Username:   username,
		Role:       role,
		AuthMethod: domain.AuthMethodLocal,
	}, nil
}

// TokenLifetimeSeconds exposes the local token lifetime for response bodies.
func (g *Gateway) TokenLifetimeSeconds() int64 {
	return int64(g.codec.Lifetime().Seconds())
}

// Authorize verifies the bearer credential in the Authorization header value
// under the given mode and returns the resolved identity. A pure guard:
// session state is never mutated. There is no fallback between modes — a
// delegated token never passes the local verifier and vice versa.
func (g *Gateway) Authorize(ctx context.Context, authorization string, mode domain.AuthMethod) (*domain.UserIdentity, error) {
	bearer, err := extractBearer(authorization)
	if err != nil {
		return nil, err
	}

	switch mode {
	case domain.AuthMethodDelegated:
		identity, err := g.idp.IntrospectBearer(ctx, bearer)
		if err != nil {
			g.countUpstreamError(err)
			return nil, err
		}
		return identity, nil

	case domain.AuthMethodLocal:
		claims, err := g.codec.Verify(bearer)
		if err != nil {
			return nil, err
		}
		return &domain.UserIdentity{
			Username:   claims.Username,
			Role:       claims.Role,
			AuthMethod: domain.AuthMethodLocal,
		}, nil

	default:
		log.Error().Str("mode", string(mode)).Msg("route configured with unknown authorization mode")
		return nil, autherr.NewInvalidCredential()
	}
}

// SessionUser returns the browser session record, if any.
func (g *Gateway) SessionUser(ctx context.Context, sessionID string) (*domain.UserSession, error) {
	return g.sessions.GetUser(ctx, sessionID)
}

// Logout discards all state held for the browser session.
func (g *Gateway) Logout(ctx context.Context, sessionID string) error {
	return g.sessions.Clear(ctx, sessionID)
}

func extractBearer(authorization string) (string, error) {
	if authorization == "" {
		return "", autherr.NewMissingCredential()
	}
	parts := strings.SplitN(authorization, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", autherr.NewMissingCredential()
	}
	return parts[1], nil
}

func (g *Gateway) countUpstreamError(err error) {
	var authErr *autherr.AuthError
	if errors.As(err, &authErr) {
		switch authErr.Code {
		case autherr.UpstreamUnavailable, autherr.UpstreamRejected:
			metrics.UpstreamErrorsTotal.WithLabelValues(authErr.Code).Inc()
		}
	}
}
