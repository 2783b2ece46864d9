package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	authgin "go.vitreo.hu/authgate/api/gin"
	"go.vitreo.hu/authgate/config"
	"go.vitreo.hu/authgate/internal/gateway"
	"go.vitreo.hu/authgate/internal/idp"
	"go.vitreo.hu/authgate/internal/metrics"
	"go.vitreo.hu/authgate/internal/session"
	"go.vitreo.hu/authgate/internal/token"
	"go.vitreo.hu/authgate/tracing"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "authgate-server",
		Short: "Dual-mode authentication gateway",
		Long: "authgate-server fronts protected APIs with two authentication paths: " +
			"delegation to an external OpenID Connect identity provider and locally issued signed tokens.",
		RunE: func(_ *cobra.Command, _ []string) error {
			return run()
		},
	}

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("server exited with error")
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	initLogger(cfg)
	log.Info().
		Str("http_port", cfg.HTTPPort).
		Str("idp_url", cfg.IdPURL).
		Str("realm", cfg.IdPRealm).
		Msg("starting authgate")

	tp, err := tracing.InitTracerProvider(cfg.OtelServiceName)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("tracer provider shutdown failed")
		}
	}()

	sessions, closeSessions, err := newSessionStore(cfg)
	if err != nil {
		return err
	}
	defer closeSessions()

	idpClient := idp.NewClient(idp.Config{
		PublicURL:    cfg.IdPURL,
		InternalURL:  cfg.IdPInternalURL,
		Realm:        cfg.IdPRealm,
		ClientID:     cfg.IdPClientID,
		ClientSecret: cfg.IdPClientSecret,
		RedirectURL:  cfg.IdPRedirectURL,
		Scopes:       cfg.IdPScopes,
		Timeout:      cfg.IdPTimeout,
		RequireKeyID: cfg.JWKSRequireKeyID,
	})

	// Best-effort fetch of the realm signing key at startup. Delegated
	// tokens are validated through the userinfo endpoint, so a failure
	// here is not fatal; the key is logged for operators.
	go func() {
		keyCtx, cancel := context.WithTimeout(context.Background(), cfg.IdPTimeout)
		defer cancel()
		key, err := idpClient.SigningKey(keyCtx, "")
		if err != nil {
			log.Warn().Err(err).Msg("could not fetch realm signing key")
			return
		}
		log.Info().Str("kid", key.KeyID).Str("alg", key.Algorithm).
			Msg("fetched realm signing key")
	}()

	codec := token.NewCodec(cfg.JWTSecretKey, cfg.JWTLifetime)

	verifier, err := gateway.NewStaticVerifier(cfg.LocalAdminUser, cfg.LocalAdminSecret, cfg.LocalAdminRole)
	if err != nil {
		return err
	}

	gw := gateway.New(idpClient, sessions, codec, verifier)

	metrics.Register(prometheus.DefaultRegisterer)

	api := authgin.NewGatewayAPI(gw, cfg.IdPURL, cfg.IdPRealm)
	srv := api.NewHTTPServer(cfg.HTTPPort)

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	log.Info().Msg("server stopped")
	return nil
}

func initLogger(cfg *config.ServerConfig) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
		log.Warn().Str("configured_log_level", cfg.LogLevel).
			Msg("invalid LOG_LEVEL, defaulting to info")
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
}

// newSessionStore selects the session backend: Redis when an address is
// configured, in-process memory otherwise.
func newSessionStore(cfg *config.ServerConfig) (session.Store, func(), error) {
	if cfg.RedisAddr == "" {
		store := session.NewMemoryStore(cfg.StateTTL, cfg.SessionTTL)
		return store, store.Close, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, nil, err
	}

	log.Info().Str("addr", cfg.RedisAddr).Msg("using Redis session store")
	store := session.NewRedisStore(client, "authgate", cfg.StateTTL, cfg.SessionTTL)
	return store, func() { _ = client.Close() }, nil
}
