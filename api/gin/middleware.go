package authgin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"go.vitreo.hu/authgate/domain"
	autherr "go.vitreo.hu/authgate/errors"
	"go.vitreo.hu/authgate/internal/gateway"
)

// AuthIdentityKey is the gin context key holding the resolved identity of an
// authorized request.
const AuthIdentityKey = "auth-identity"

// sessionCookieName carries the opaque browser session ID. The ID is the
// only thing stored client-side; all session state lives in the store.
const sessionCookieName = "authgate_session"

const sessionCookieMaxAge = 12 * 60 * 60

// AuthMiddleware guards a route with the given verification mode. The mode
// is fixed per route table entry: delegated routes introspect at the IdP,
// local routes verify the HMAC signature, and there is no fallback between
// the two.
func AuthMiddleware(gw *gateway.Gateway, mode domain.AuthMethod) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := otel.Tracer("authgate/api").Start(c.Request.Context(), "AuthMiddleware")
		defer span.End()

		identity, err := gw.Authorize(ctx, c.GetHeader("Authorization"), mode)
		if err != nil {
			span.RecordError(err)
			status, body := authErrorResponse(err)
			c.AbortWithStatusJSON(status, body)
			return
		}

		c.Set(AuthIdentityKey, identity)
		c.Next()
	}
}

// IdentityFromContext returns the identity attached by AuthMiddleware.
func IdentityFromContext(c *gin.Context) (*domain.UserIdentity, bool) {
	val, ok := c.Get(AuthIdentityKey)
	if !ok {
		return nil, false
	}
	identity, ok := val.(*domain.UserIdentity)
	return identity, ok
}

// authErrorResponse maps a gateway error to a client-visible status and
// body. Upstream failures collapse to a generic 503: internal detail is
// logged server-side, never echoed.
func authErrorResponse(err error) (int, any) {
	var authErr *autherr.AuthError
	if !errors.As(err, &authErr) {
		log.Error().Err(err).Msg("unexpected authorization failure")
		return http.StatusInternalServerError, autherr.NewUpstreamRejected()
	}

	switch authErr.Code {
	case autherr.UpstreamUnavailable, autherr.UpstreamRejected:
		return http.StatusServiceUnavailable, autherr.NewUpstreamUnavailable()
	default:
		return http.StatusUnauthorized, authErr
	}
}

// sessionID returns the browser session ID from the request cookie,
// creating and setting a fresh one when absent or empty.
func sessionID(c *gin.Context) string {
	id, err := c.Cookie(sessionCookieName)
	if err == nil && id != "" {
		return id
	}

	id = uuid.NewString()
	c.SetCookie(sessionCookieName, id, sessionCookieMaxAge, "/", "", false, true)
	return id
}

// existingSessionID returns the session ID only if the browser already has
// one. Used by the callback, which must never mint a session of its own.
func existingSessionID(c *gin.Context) (string, bool) {
	id, err := c.Cookie(sessionCookieName)
	if err != nil || id == "" {
		return "", false
	}
	return id, true
}
