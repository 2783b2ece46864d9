// Package authgin binds the authentication gateway to a gin HTTP surface.
package authgin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"go.vitreo.hu/authgate/domain"
	"go.vitreo.hu/authgate/internal/gateway"
)

// GatewayAPI struct to hold dependencies.
type GatewayAPI struct {
	gateway *gateway.Gateway

	// Reported by the health endpoint.
	idpURL   string
	idpRealm string
}

// NewGatewayAPI initializes the gateway API.
func NewGatewayAPI(gw *gateway.Gateway, idpURL, idpRealm string) *GatewayAPI {
	return &GatewayAPI{
		gateway:  gw,
		idpURL:   idpURL,
		idpRealm: idpRealm,
	}
}

// RegisterRoutes registers the gateway routes. Each protected route names
// its verification mode explicitly; there is no fallback between modes.
func (ga *GatewayAPI) RegisterRoutes(e *gin.Engine) {
	e.GET("/", ga.HomeHandler)
	e.GET("/dashboard", ga.DashboardHandler)
	e.GET("/logout", ga.LogoutHandler)

	e.GET("/login/delegated", ga.DelegatedLoginHandler)
	e.GET("/login/delegated/callback", ga.DelegatedCallbackHandler)

	e.POST("/api/delegated-login", ga.DelegatedAPILoginHandler)
	e.POST("/api/local-login", ga.LocalAPILoginHandler)

	e.GET("/api/public", ga.PublicHandler)
	e.GET("/api/protected", AuthMiddleware(ga.gateway, domain.AuthMethodDelegated), ga.ProtectedHandler)
	e.GET("/api/protected-local", AuthMiddleware(ga.gateway, domain.AuthMethodLocal), ga.ProtectedLocalHandler)
	e.GET("/api/session", ga.SessionHandler)

	e.GET("/health", ga.HealthHandler)
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// NewRouter builds a gin engine with the gateway middleware stack and all
// routes registered.
func (ga *GatewayAPI) NewRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLoggingMiddleware())
	router.Use(otelgin.Middleware("authgate"))
	router.Use(SecurityHeadersMiddleware())
	ga.RegisterRoutes(router)
	return router
}

// NewHTTPServer wraps the router in an http.Server with sane timeouts.
func (ga *GatewayAPI) NewHTTPServer(port string) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      ga.NewRouter(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}
