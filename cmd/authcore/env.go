package main

import (
	"context"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-envconfig"

	"github.com/indigoroots/authcore/oauth"
)

// Store backends.
const (
	backendMemory   = "memory"
	backendPostgres = "postgres"
	backendMongo    = "mongo"
	backendRedis    = "redis"
)

type smtpEnv struct {
	Host     string `env:"HOST"`
	Port     int    `env:"PORT, default=587"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
}

// runtimeConfig holds process wiring. Engine behavior lives in authcore.Config.
type runtimeConfig struct {
	HTTPAddr        string        `env:"HTTP_ADDR, default=:3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT, default=10s"`
	CleanupInterval time.Duration `env:"TOKEN_CLEANUP_INTERVAL, default=1h"`

	StoreBackend string `env:"STORE_BACKEND, default=memory"`
	// TokenBackend overrides where token rows live. Empty means StoreBackend.
	TokenBackend  string `env:"TOKEN_BACKEND"`
	DatabaseURL   string `env:"DATABASE_URL"`
	MongoURI      string `env:"MONGO_URI"`
	MongoDatabase string `env:"MONGO_DATABASE, default=authcore"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	SMTP smtpEnv `env:", prefix=SMTP_"`

	// Cookie keys are hex encoded. Name and Secure come from the session config.
	CookieHashKey  string `env:"COOKIE_HASH_KEY"`
	CookieBlockKey string `env:"COOKIE_BLOCK_KEY"`

	LogLevel  string `env:"LOG_LEVEL, default=info"`
	LogPretty bool   `env:"LOG_PRETTY, default=false"`

	OAuth oauth.Config
}

func loadRuntimeConfig(ctx context.Context, l envconfig.Lookuper) (runtimeConfig, error) {
	var rc runtimeConfig
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &rc, Lookuper: l}); err != nil {
		return runtimeConfig{}, oops.Code("CONFIG_INVALID").With("operation", "load runtime config").Wrap(err)
	}
	if rc.TokenBackend == "" {
		rc.TokenBackend = rc.StoreBackend
	}
	if err := rc.validate(); err != nil {
		return runtimeConfig{}, err
	}
	return rc, nil
}

func (rc runtimeConfig) validate() error {
	switch rc.StoreBackend {
	case backendMemory:
	case backendPostgres:
		if rc.DatabaseURL == "" {
			return oops.Code("CONFIG_INVALID").Errorf("DATABASE_URL is required for the postgres backend")
		}
	case backendMongo:
		if rc.MongoURI == "" {
			return oops.Code("CONFIG_INVALID").Errorf("MONGO_URI is required for the mongo backend")
		}
	default:
		return oops.Code("CONFIG_INVALID").Errorf("unknown STORE_BACKEND %q", rc.StoreBackend)
	}

	switch rc.TokenBackend {
	case rc.StoreBackend:
	case backendRedis:
		if rc.RedisAddr == "" {
			return oops.Code("CONFIG_INVALID").Errorf("REDIS_ADDR is required for redis tokens")
		}
	default:
		return oops.Code("CONFIG_INVALID").Errorf("TOKEN_BACKEND %q must be %q or %q", rc.TokenBackend, rc.StoreBackend, backendRedis)
	}
	return nil
}
