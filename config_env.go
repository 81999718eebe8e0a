package authcore

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

// LoadConfigFromEnv returns [DefaultConfig] overlaid with any environment
// variables that are set, then validates it. Variable names are listed in
// the env tags on the Config sub-structs, for example SESSION_SECRET,
// PASSWORD_RESET_TTL and SITE_URL.
func LoadConfigFromEnv(ctx context.Context) (Config, error) {
	return LoadConfigWithLookuper(ctx, envconfig.OsLookuper())
}

// LoadConfigWithLookuper is [LoadConfigFromEnv] reading from l instead of the
// process environment.
func LoadConfigWithLookuper(ctx context.Context, l envconfig.Lookuper) (Config, error) {
	cfg := defaultConfig()
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: l,
	}); err != nil {
		return Config{}, fmt.Errorf("load config from env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
