package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indigoroots/authcore"
	"github.com/indigoroots/authcore/internal/logger"
	"github.com/indigoroots/authcore/store"
)

const testSecret = "cmd-test-secret-that-is-long-enough-00"

func testEnv(extra map[string]string) envconfig.Lookuper {
	env := map[string]string{
		"SESSION_SECRET":       testSecret,
		"PASSWORD_BCRYPT_COST": "4",
		"METRICS_ENABLED":      "true",
	}
	for k, v := range extra {
		env[k] = v
	}
	return envconfig.MapLookuper(env)
}

func TestRootCommandHasSubcommands(t *testing.T) {
	cmd := NewRootCmd()

	names := make([]string, 0, len(cmd.Commands()))
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "migrate", "cleanup-tokens"}, names)
}

func TestLoadRuntimeConfigDefaults(t *testing.T) {
	rc, err := loadRuntimeConfig(context.Background(), envconfig.MapLookuper(nil))
	require.NoError(t, err)

	assert.Equal(t, ":3000", rc.HTTPAddr)
	assert.Equal(t, backendMemory, rc.StoreBackend)
	assert.Equal(t, backendMemory, rc.TokenBackend)
	assert.Equal(t, 587, rc.SMTP.Port)
	assert.Equal(t, time.Hour, rc.CleanupInterval)
	assert.Equal(t, "http://localhost:3000", rc.OAuth.CallbackBaseURL)
}

func TestLoadRuntimeConfigReadsNested(t *testing.T) {
	rc, err := loadRuntimeConfig(context.Background(), envconfig.MapLookuper(map[string]string{
		"STORE_BACKEND":              "postgres",
		"DATABASE_URL":               "postgres://localhost/authcore",
		"TOKEN_BACKEND":              "redis",
		"REDIS_ADDR":                 "localhost:6379",
		"SMTP_HOST":                  "smtp.example.com",
		"SMTP_PORT":                  "2525",
		"OAUTH_GOOGLE_CLIENT_ID":     "gid",
		"OAUTH_GOOGLE_CLIENT_SECRET": "gsecret",
	}))
	require.NoError(t, err)

	assert.Equal(t, backendRedis, rc.TokenBackend)
	assert.Equal(t, "smtp.example.com", rc.SMTP.Host)
	assert.Equal(t, 2525, rc.SMTP.Port)
	assert.Equal(t, "gid", rc.OAuth.Google.ClientID)
	assert.Equal(t, "gsecret", rc.OAuth.Google.ClientSecret)
}

func TestLoadRuntimeConfigRejectsBadBackends(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown store", map[string]string{"STORE_BACKEND": "sqlite"}},
		{"postgres without url", map[string]string{"STORE_BACKEND": "postgres"}},
		{"mongo without uri", map[string]string{"STORE_BACKEND": "mongo"}},
		{"redis tokens without addr", map[string]string{"TOKEN_BACKEND": "redis"}},
		{"mismatched tokens", map[string]string{"STORE_BACKEND": "postgres", "DATABASE_URL": "x", "TOKEN_BACKEND": "mongo"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadRuntimeConfig(context.Background(), envconfig.MapLookuper(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestDecodeKey(t *testing.T) {
	key, err := decodeKey("COOKIE_HASH_KEY", "")
	require.NoError(t, err)
	assert.Nil(t, key)

	key, err = decodeKey("COOKIE_HASH_KEY", "00ff")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xff}, key)

	_, err = decodeKey("COOKIE_HASH_KEY", "zz")
	assert.Error(t, err)
}

func TestMigrateRequiresDatabaseURL(t *testing.T) {
	cmd := NewMigrateCmd()
	cmd.SetContext(context.Background())

	err := runMigrate(cmd, envconfig.MapLookuper(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestCleanupTokensRefusesMemoryBackend(t *testing.T) {
	cmd := NewCleanupTokensCmd()
	cmd.SetContext(context.Background())

	err := runCleanupTokens(cmd, testEnv(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOKEN_BACKEND")
}

func TestCleanupTokensOnRedisTokens(t *testing.T) {
	t.Cleanup(logger.Reset)
	logger.Init(logger.Options{Output: &bytes.Buffer{}})

	cmd := NewCleanupTokensCmd()
	cmd.SetContext(context.Background())
	var out bytes.Buffer
	cmd.SetOut(&out)

	env := testEnv(map[string]string{
		"TOKEN_BACKEND": "redis",
		"REDIS_ADDR":    miniredisAddr(t),
	})
	require.NoError(t, runCleanupTokens(cmd, env))
	assert.Contains(t, out.String(), "Removed 0 password-reset and 0 verification tokens")
}

func TestServerServesHealthAndMetrics(t *testing.T) {
	ctx := context.Background()
	env := testEnv(nil)
	log := zerolog.Nop()

	rc, err := loadRuntimeConfig(ctx, env)
	require.NoError(t, err)
	cfg, err := authcore.LoadConfigWithLookuper(ctx, env)
	require.NoError(t, err)

	b, err := openBackends(ctx, rc, log)
	require.NoError(t, err)
	t.Cleanup(b.close)

	engine, err := newEngine(cfg, b, newSender(rc, log), log)
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	server, err := newServer(rc, cfg, engine, log)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "authcore_login_success_total 0")
}

func TestOpenBackendsRedisTokens(t *testing.T) {
	mr := miniredisAddr(t)
	rc, err := loadRuntimeConfig(context.Background(), envconfig.MapLookuper(map[string]string{
		"TOKEN_BACKEND": "redis",
		"REDIS_ADDR":    mr,
	}))
	require.NoError(t, err)

	b, err := openBackends(context.Background(), rc, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(b.close)

	require.NotNil(t, b.redis)
	_, isMemory := b.tokens.(interface{ TokensFor(store.Kind, string) []store.TokenRecord })
	assert.False(t, isMemory, "tokens should live in redis")
}

func miniredisAddr(t *testing.T) string {
	t.Helper()
	return miniredis.RunT(t).Addr()
}
