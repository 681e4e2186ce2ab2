// Package gateway parses gateway command flags and composes transport
// entrypoints.
package gateway

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vendloc/vendloc/internal/geoindex/redisgeo"
	entrypoint "github.com/vendloc/vendloc/internal/platform/cmd"
	server "github.com/vendloc/vendloc/internal/services/gateway/app"
	"github.com/vendloc/vendloc/internal/store/redisstore"
)

// Auth modes for the websocket upgrade check.
const (
	AuthModeJWT        = "jwt"
	AuthModeIntrospect = "introspect"
)

// Config holds gateway command configuration.
type Config struct {
	HTTPAddr string `env:"VENDLOC_GATEWAY_HTTP_ADDR" envDefault:":8090"`

	RedisAddr     string `env:"VENDLOC_REDIS_ADDR"     envDefault:"localhost:6379"`
	RedisPassword string `env:"VENDLOC_REDIS_PASSWORD"`
	RedisDB       int    `env:"VENDLOC_REDIS_DB"       envDefault:"0"`

	AuthMode     string `env:"VENDLOC_GATEWAY_AUTH_MODE"   envDefault:"jwt"`
	JWTIssuer    string `env:"VENDLOC_AUTH_JWT_ISSUER"     envDefault:"vendloc-auth"`
	JWTAudience  string `env:"VENDLOC_AUTH_JWT_AUDIENCE"   envDefault:"vendloc-gateway"`
	JWTPublicKey string `env:"VENDLOC_AUTH_JWT_PUBLIC_KEY"`

	AuthBaseURL        string `env:"VENDLOC_AUTH_BASE_URL" envDefault:"http://localhost:8084"`
	AuthResourceSecret string `env:"VENDLOC_AUTH_RESOURCE_SECRET"`

	ReconcileInterval time.Duration `env:"VENDLOC_GATEWAY_RECONCILE_INTERVAL" envDefault:"5m"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "gateway HTTP listen address")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis address for the shared store and geo index")
	fs.StringVar(&cfg.RedisPassword, "redis-password", cfg.RedisPassword, "redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", cfg.RedisDB, "redis database number")
	fs.StringVar(&cfg.AuthMode, "auth-mode", cfg.AuthMode, "upgrade auth mode: jwt or introspect")
	fs.StringVar(&cfg.JWTIssuer, "jwt-issuer", cfg.JWTIssuer, "expected access token issuer")
	fs.StringVar(&cfg.JWTAudience, "jwt-audience", cfg.JWTAudience, "expected access token audience")
	fs.StringVar(&cfg.JWTPublicKey, "jwt-public-key", cfg.JWTPublicKey, "base64 Ed25519 public key for access tokens")
	fs.StringVar(&cfg.AuthBaseURL, "auth-base-url", cfg.AuthBaseURL, "auth service base URL")
	fs.StringVar(&cfg.AuthResourceSecret, "auth-resource-secret", cfg.AuthResourceSecret, "auth introspection resource secret")
	fs.DurationVar(&cfg.ReconcileInterval, "reconcile-interval", cfg.ReconcileInterval, "interval between membership reconciliation passes, 0 disables")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func buildAuthorizer(cfg Config) (server.Authorizer, error) {
	switch cfg.AuthMode {
	case AuthModeJWT:
		return server.NewJWTAuthorizer(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTPublicKey)
	case AuthModeIntrospect:
		authorizer := server.NewIntrospectAuthorizer(cfg.AuthBaseURL, cfg.AuthResourceSecret)
		if authorizer == nil {
			return nil, fmt.Errorf("introspect auth requires a base URL and resource secret")
		}
		return authorizer, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.AuthMode)
	}
}

// Run builds the gateway app and starts realtime transport behavior.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceGateway, func(context.Context) error {
		authorizer, err := buildAuthorizer(cfg)
		if err != nil {
			return fmt.Errorf("configure auth: %w", err)
		}

		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()

		if err := server.Run(ctx, server.Config{
			HTTPAddr:          cfg.HTTPAddr,
			ReconcileInterval: cfg.ReconcileInterval,
			Store:             redisstore.New(client),
			Index:             redisgeo.New(client),
			Authorizer:        authorizer,
		}); err != nil {
			return fmt.Errorf("serve gateway: %w", err)
		}
		return nil
	})
}
