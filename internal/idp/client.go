package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"go.vitreo.hu/authgate/domain"
	autherr "go.vitreo.hu/authgate/errors"
)

const defaultTimeout = 10 * time.Second

// Config holds the realm and client registration used to talk to the
// identity provider.
type Config struct {
	// PublicURL is the IdP base URL reachable from the user's browser.
	PublicURL string
	// InternalURL is the IdP base URL for server-to-server calls. Falls
	// back to PublicURL when empty.
	InternalURL string
	Realm       string

	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// Timeout bounds every outbound call. Zero means defaultTimeout.
	Timeout time.Duration

	// RequireKeyID enables kid-based selection from the certs endpoint.
	// When false the first published key is taken, matching the historic
	// behavior of the service this gateway replaces.
	RequireKeyID bool
}

// TokenSet is the result of a successful grant exchange at the IdP token
// endpoint. The tokens are opaque to the gateway.
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Client talks to an external OpenID Connect identity provider: it exchanges
// authorization codes and password credentials for tokens, fetches user info
// and fetches the realm signing certificates. It keeps no session state and
// is safe for concurrent use.
type Client struct {
	endpoints    Endpoints
	clientID     string
	clientSecret string
	redirectURL  string
	scopes       []string
	requireKeyID bool
	httpClient   *http.Client
}

// NewClient creates a Client for the configured realm.
func NewClient(cfg Config) *Client {
	internal := cfg.InternalURL
	if internal == "" {
		internal = cfg.PublicURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}

	return &Client{
		endpoints:    RealmEndpoints(cfg.PublicURL, internal, cfg.Realm),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURL:  cfg.RedirectURL,
		scopes:       scopes,
		requireKeyID: cfg.RequireKeyID,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

func (c *Client) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		RedirectURL:  c.redirectURL,
		Scopes:       c.scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.endpoints.Authorization,
			TokenURL: c.endpoints.Token,
		},
	}
}

// withHTTPClient makes oauth2 use our bounded-timeout client.
func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// AuthorizationURL builds the URL the browser is redirected to for the
// authorization-code flow. Pure string construction.
func (c *Client) AuthorizationURL(state string) string {
	return c.oauth2Config().AuthCodeURL(state)
}

// ExchangeAuthorizationCode exchanges an authorization code for tokens.
func (c *Client) ExchangeAuthorizationCode(ctx context.Context, code string) (*TokenSet, error) {
	tok, err := c.oauth2Config().Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			log.Error().
				Int("status", retrieveErr.Response.StatusCode).
				Str("endpoint", c.endpoints.Token).
				Msg("IdP rejected authorization code exchange")
			return nil, autherr.NewUpstreamRejected()
		}
		log.Error().Err(err).Str("endpoint", c.endpoints.Token).
			Msg("IdP token endpoint unreachable")
		return nil, autherr.NewUpstreamUnavailable()
	}
	return tokenSetFrom(tok), nil
}

// ExchangePasswordGrant exchanges username and password directly for tokens
// (OAuth2 resource-owner password grant). A 400/401 from the IdP means the
// credentials were wrong; any other non-2xx is a provider-side problem.
func (c *Client) ExchangePasswordGrant(ctx context.Context, username, password string) (*TokenSet, error) {
	tok, err := c.oauth2Config().PasswordCredentialsToken(c.withHTTPClient(ctx), username, password)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			status := retrieveErr.Response.StatusCode
			if status == http.StatusBadRequest || status == http.StatusUnauthorized {
				return nil, autherr.NewInvalidCredential()
			}
			log.Error().Int("status", status).Str("endpoint", c.endpoints.Token).
				Msg("IdP rejected password grant")
			return nil, autherr.NewUpstreamRejected()
		}
		log.Error().Err(err).Str("endpoint", c.endpoints.Token).
			Msg("IdP token endpoint unreachable")
		return nil, autherr.NewUpstreamUnavailable()
	}
	return tokenSetFrom(tok), nil
}

func tokenSetFrom(tok *oauth2.Token) *TokenSet {
	set := &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		set.ExpiresIn = int64(time.Until(tok.Expiry).Seconds())
	}
	return set
}

// userInfoResponse is the subset of the OIDC userinfo claims the gateway
// cares about.
type userInfoResponse struct {
	Sub               string `json:"sub"`
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
	Name              string `json:"name"`
	GivenName         string `json:"given_name"`
	FamilyName        string `json:"family_name"`
}

// FetchUserInfo resolves an access token to a user identity via the IdP
// userinfo endpoint. A non-2xx response means the token is expired, revoked
// or otherwise not valid.
func (c *Client) FetchUserInfo(ctx context.Context, accessToken string) (*domain.UserIdentity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.UserInfo, nil)
	if err != nil {
		return nil, fmt.Errorf("build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Str("endpoint", c.endpoints.UserInfo).
			Msg("IdP userinfo endpoint unreachable")
		return nil, autherr.NewUpstreamUnavailable()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Expired and revoked tokens surface here; the body may carry
		// upstream detail we must not echo to the caller.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		log.Debug().Int("status", resp.StatusCode).Bytes("body", body).
			Msg("userinfo rejected access token")
		return nil, autherr.NewInvalidCredential()
	}

	var info userInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		log.Error().Err(err).Msg("failed to decode userinfo response")
		return nil, autherr.NewUpstreamRejected()
	}

	return identityFrom(info), nil
}

// IntrospectBearer validates an externally presented bearer token by asking
// the IdP, which is the sole source of truth for delegated tokens. The
// gateway never verifies IdP token signatures locally. A "Bearer " prefix is
// tolerated for callers passing the raw header value.
func (c *Client) IntrospectBearer(ctx context.Context, token string) (*domain.UserIdentity, error) {
	token = strings.TrimPrefix(token, "Bearer ")
	return c.FetchUserInfo(ctx, token)
}

func identityFrom(info userInfoResponse) *domain.UserIdentity {
	username := info.PreferredUsername
	if username == "" {
		username = info.Sub
	}
	name := info.Name
	if name == "" {
		name = strings.TrimSpace(info.GivenName + " " + info.FamilyName)
	}
	return &domain.UserIdentity{
		Username:   username,
		Email:      info.Email,
		Name:       name,
		AuthMethod: domain.AuthMethodDelegated,
	}
}
