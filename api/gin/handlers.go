package authgin

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	autherr "go.vitreo.hu/authgate/errors"
	"go.vitreo.hu/authgate/internal/session"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func serverTime() (int64, string) {
	now := time.Now().UTC()
	return now.Unix(), now.Format("2006-01-02 15:04:05 UTC")
}

// HomeHandler is the unauthenticated home surface. Failed delegated logins
// land here.
func (ga *GatewayAPI) HomeHandler(c *gin.Context) {
	var username string
	authenticated := false
	if id, ok := existingSessionID(c); ok {
		if record, err := ga.gateway.SessionUser(c.Request.Context(), id); err == nil {
			authenticated = true
			username = record.User.Username
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"authenticated": authenticated,
		"username":      username,
	})
}

// DashboardHandler is the post-login landing surface. Without an
// authenticated session it bounces back home.
func (ga *GatewayAPI) DashboardHandler(c *gin.Context) {
	id, ok := existingSessionID(c)
	if !ok {
		c.Redirect(http.StatusFound, "/")
		return
	}
	record, err := ga.gateway.SessionUser(c.Request.Context(), id)
	if err != nil {
		c.Redirect(http.StatusFound, "/")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":             record.User,
		"authenticated_at": record.AuthenticatedAt,
	})
}

// DelegatedLoginHandler initiates the authorization-code flow: it creates
// the single-use state nonce for this browser session and redirects to the
// IdP authorization endpoint.
func (ga *GatewayAPI) DelegatedLoginHandler(c *gin.Context) {
	id := sessionID(c)

	target, err := ga.gateway.InitiateDelegatedLogin(c.Request.Context(), id)
	if err != nil {
		log.Error().Err(err).Msg("failed to initiate delegated login")
		c.JSON(http.StatusInternalServerError, autherr.NewUpstreamUnavailable())
		return
	}
	c.Redirect(http.StatusFound, target)
}

// DelegatedCallbackHandler completes the authorization-code flow. Every
// failure path redirects to the home surface without detail; only a fully
// verified exchange reaches the dashboard.
func (ga *GatewayAPI) DelegatedCallbackHandler(c *gin.Context) {
	id, ok := existingSessionID(c)
	if !ok {
		c.Redirect(http.StatusFound, "/")
		return
	}

	code := c.Query("code")
	state := c.Query("state")
	if err := ga.gateway.HandleCallback(c.Request.Context(), id, code, state); err != nil {
		c.Redirect(http.StatusFound, "/")
		return
	}
	c.Redirect(http.StatusFound, "/dashboard")
}

// LogoutHandler discards the browser session.
func (ga *GatewayAPI) LogoutHandler(c *gin.Context) {
	if id, ok := existingSessionID(c); ok {
		if err := ga.gateway.Logout(c.Request.Context(), id); err != nil {
			log.Error().Err(err).Msg("failed to clear session on logout")
		}
		c.SetCookie(sessionCookieName, "", -1, "/", "", false, true)
	}
	c.Redirect(http.StatusFound, "/")
}

// DelegatedAPILoginHandler performs the direct (password) grant against the
// IdP and hands the token set back to the caller. Stateless: no session is
// created.
func (ga *GatewayAPI) DelegatedAPILoginHandler(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username and password required"})
		return
	}

	tokens, identity, err := ga.gateway.DirectDelegatedLogin(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		status, body := authErrorResponse(err)
		c.JSON(status, body)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"token_type":    "Bearer",
		"expires_in":    tokens.ExpiresIn,
		"user":          identity,
		"auth_method":   identity.AuthMethod,
	})
}

// LocalAPILoginHandler issues a locally signed token for the configured
// administrative credential pair.
func (ga *GatewayAPI) LocalAPILoginHandler(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username and password required"})
		return
	}

	raw, identity, err := ga.gateway.IssueLocalToken(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		status, body := authErrorResponse(err)
		c.JSON(status, body)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":       raw,
		"user":        identity,
		"expires_in":  ga.gateway.TokenLifetimeSeconds(),
		"auth_method": identity.AuthMethod,
	})
}

// PublicHandler requires no authentication.
func (ga *GatewayAPI) PublicHandler(c *gin.Context) {
	ts, formatted := serverTime()
	c.JSON(http.StatusOK, gin.H{
		"message":       "This is a public endpoint - no authentication required",
		"timestamp":     ts,
		"server_time":   formatted,
		"authenticated": false,
		"endpoint":      "/api/public",
	})
}

// ProtectedHandler serves requests authorized by IdP introspection.
func (ga *GatewayAPI) ProtectedHandler(c *gin.Context) {
	identity, _ := IdentityFromContext(c)
	ts, formatted := serverTime()
	c.JSON(http.StatusOK, gin.H{
		"message":       "Successfully accessed protected endpoint with a delegated token",
		"user":          identity,
		"authenticated": true,
		"timestamp":     ts,
		"server_time":   formatted,
		"endpoint":      "/api/protected",
		"auth_method":   identity.AuthMethod,
	})
}

// ProtectedLocalHandler serves requests authorized by local signature
// verification.
func (ga *GatewayAPI) ProtectedLocalHandler(c *gin.Context) {
	identity, _ := IdentityFromContext(c)
	ts, formatted := serverTime()
	c.JSON(http.StatusOK, gin.H{
		"message":       "Successfully accessed protected endpoint with a local token",
		"user":          identity,
		"authenticated": true,
		"timestamp":     ts,
		"server_time":   formatted,
		"endpoint":      "/api/protected-local",
		"auth_method":   identity.AuthMethod,
	})
}

// SessionHandler reports the browser session's logged-in user, if any.
func (ga *GatewayAPI) SessionHandler(c *gin.Context) {
	id, ok := existingSessionID(c)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}
	record, err := ga.gateway.SessionUser(c.Request.Context(), id)
	if err != nil {
		if !errors.Is(err, session.ErrSessionNotFound) {
			log.Error().Err(err).Msg("failed to load session")
		}
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"authenticated":    true,
		"user":             record.User,
		"authenticated_at": record.AuthenticatedAt,
	})
}

// HealthHandler reports service health and the configured realm.
func (ga *GatewayAPI) HealthHandler(c *gin.Context) {
	ts, _ := serverTime()
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": ts,
		"idp_url":   ga.idpURL,
		"realm":     ga.idpRealm,
	})
}
