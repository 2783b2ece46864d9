package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds all configuration for the gateway.
// Tags use mapstructure for Viper unmarshalling and env variable binding.
type ServerConfig struct {
	HTTPPort  string `mapstructure:"HTTP_PORT"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	OtelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// Identity provider (Keycloak-style realm). The public URL is used for
	// browser redirects, the internal URL for server-to-server calls; they
	// differ when the gateway and the IdP share a container network.
	IdPURL          string        `mapstructure:"IDP_URL"`
	IdPInternalURL  string        `mapstructure:"IDP_INTERNAL_URL"`
	IdPRealm        string        `mapstructure:"IDP_REALM"`
	IdPClientID     string        `mapstructure:"IDP_CLIENT_ID"`
	IdPClientSecret string        `mapstructure:"IDP_CLIENT_SECRET"`
	IdPRedirectURL  string        `mapstructure:"IDP_REDIRECT_URL"`
	IdPScopes       []string      `mapstructure:"IDP_SCOPES"`
	IdPTimeout      time.Duration `mapstructure:"IDP_TIMEOUT"`

	// JWKSRequireKeyID enables kid-based key selection from the realm
	// certs endpoint. Off by default: the historic behavior is to take the
	// first published key.
	JWKSRequireKeyID bool `mapstructure:"JWKS_REQUIRE_KEY_ID"`

	// Local token issuance.
	JWTSecretKey     string        `mapstructure:"JWT_SECRET_KEY"`
	JWTLifetime      time.Duration `mapstructure:"JWT_LIFETIME"`
	LocalAdminUser   string        `mapstructure:"LOCAL_ADMIN_USERNAME"`
	LocalAdminSecret string        `mapstructure:"LOCAL_ADMIN_PASSWORD"`
	LocalAdminRole   string        `mapstructure:"LOCAL_ADMIN_ROLE"`

	// Session store. RedisAddr empty selects the in-process store.
	RedisAddr  string        `mapstructure:"REDIS_ADDR"`
	RedisDB    int           `mapstructure:"REDIS_DB"`
	StateTTL   time.Duration `mapstructure:"STATE_TTL"`
	SessionTTL time.Duration `mapstructure:"SESSION_TTL"`
}

// LoadConfig reads configuration from file, environment variables and
// defaults, in that order of precedence (env wins).
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/authgate/")
	v.AddConfigPath("$HOME/.authgate")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "5000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("OTEL_SERVICE_NAME", "authgate")

	v.SetDefault("IDP_URL", "http://localhost:8080")
	v.SetDefault("IDP_INTERNAL_URL", "")
	v.SetDefault("IDP_REALM", "gateway-demo")
	v.SetDefault("IDP_CLIENT_ID", "gateway-app")
	v.SetDefault("IDP_CLIENT_SECRET", "")
	v.SetDefault("IDP_REDIRECT_URL", "http://localhost:5000/login/delegated/callback")
	v.SetDefault("IDP_SCOPES", []string{"openid", "email", "profile"})
	v.SetDefault("IDP_TIMEOUT", 10*time.Second)
	v.SetDefault("JWKS_REQUIRE_KEY_ID", false)

	v.SetDefault("JWT_SECRET_KEY", "demo-secret-key-change-in-production") // CHANGE IN PRODUCTION
	v.SetDefault("JWT_LIFETIME", time.Hour)
	v.SetDefault("LOCAL_ADMIN_USERNAME", "admin")
	v.SetDefault("LOCAL_ADMIN_PASSWORD", "password") // demo credential, CHANGE IN PRODUCTION
	v.SetDefault("LOCAL_ADMIN_ROLE", "admin")

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("STATE_TTL", 10*time.Minute)
	v.SetDefault("SESSION_TTL", 12*time.Hour)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults and env vars apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &cfg, nil
}
