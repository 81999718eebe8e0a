package authcore

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/indigoroots/authcore/permission"
	"github.com/indigoroots/authcore/store/memory"
)

func loginAda(t *testing.T, env *testEnv, role permission.Role, rememberMe bool) IssuedSession {
	t.Helper()
	env.seedUser(t, "ada@example.com", "Ada", "Passw0rd!x", role, true)
	session, err := env.engine.LoginWithPassword(context.Background(), "ada@example.com", "Passw0rd!x", rememberMe)
	if err != nil {
		t.Fatalf("LoginWithPassword failed: %v", err)
	}
	return session
}

func TestSessionRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	issued := loginAda(t, env, permission.RoleAdmin, true)

	info, err := env.engine.Session(context.Background(), issued.Token)
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if !info.IsAuthenticated() || !info.IsAdmin() || !info.IsEditor() {
		t.Fatalf("expected authenticated admin, got %+v", info)
	}
	if info.UserEmail() != "ada@example.com" || info.UserID() != issued.User.ID {
		t.Fatalf("unexpected identity: %+v", info.User)
	}
	if !info.IsRememberMe {
		t.Fatal("expected remember-me from claim")
	}
	if info.TimeUntilExpiry != 30*24*time.Hour {
		t.Fatalf("expected 30d remaining, got %v", info.TimeUntilExpiry)
	}
	if got := info.FormattedTimeUntilExpiry(); got != "30 days 0 hours" {
		t.Fatalf("unexpected formatted expiry %q", got)
	}
}

func TestSessionExpiredIsReportedNotRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	issued := loginAda(t, env, permission.RoleUser, false)
	env.clock.Advance(31 * 24 * time.Hour)

	info, err := env.engine.Session(context.Background(), issued.Token)
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if !info.IsExpired || info.IsAuthenticated() || info.TimeUntilExpiry != 0 {
		t.Fatalf("expected expired view, got %+v", info)
	}
	if info.HasRole(permission.RoleUser) {
		t.Fatal("expired session must not satisfy any role")
	}
	if got := info.FormattedTimeUntilExpiry(); got != "Expired" {
		t.Fatalf("expected Expired, got %q", got)
	}

	if _, err := env.engine.RefreshSession(context.Background(), issued.Token); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired from refresh, got %v", err)
	}
}

func TestSessionExpiryBoundary(t *testing.T) {
	env := newTestEnv(t, nil)
	issued := loginAda(t, env, permission.RoleUser, false)

	env.clock.Advance(30 * 24 * time.Hour)
	info, err := env.engine.Session(context.Background(), issued.Token)
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if info.IsExpired || !info.IsAuthenticated() || info.TimeUntilExpiry != 0 {
		t.Fatalf("expected live session at exp, got %+v", info)
	}

	env.clock.Advance(time.Second)
	info, err = env.engine.Session(context.Background(), issued.Token)
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if !info.IsExpired || info.IsAuthenticated() {
		t.Fatalf("expected expired session after exp, got %+v", info)
	}
}

func TestSessionLeewayDelaysExpiry(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Session.Leeway = 2 * time.Minute
	})
	issued := loginAda(t, env, permission.RoleUser, false)

	env.clock.Advance(30*24*time.Hour + 30*time.Second)
	info, err := env.engine.Session(context.Background(), issued.Token)
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if info.IsExpired || !info.IsAuthenticated() {
		t.Fatalf("expected session inside leeway to be live, got %+v", info)
	}
	if _, err := env.engine.RefreshSession(context.Background(), issued.Token); err != nil {
		t.Fatalf("RefreshSession inside leeway failed: %v", err)
	}

	env.clock.Advance(2 * time.Minute)
	info, err = env.engine.Session(context.Background(), issued.Token)
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if !info.IsExpired {
		t.Fatalf("expected session past leeway to be expired, got %+v", info)
	}
}

func TestSessionRejectsTamperedToken(t *testing.T) {
	env := newTestEnv(t, nil)
	issued := loginAda(t, env, permission.RoleUser, false)

	parts := strings.Split(issued.Token, ".")
	if len(parts) != 3 {
		t.Fatalf("expected compact JWS, got %q", issued.Token)
	}
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	if _, err := env.engine.Session(context.Background(), tampered); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
	if _, err := env.engine.Session(context.Background(), "garbage"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for garbage, got %v", err)
	}
	if _, err := env.engine.Session(context.Background(), ""); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for empty token, got %v", err)
	}
}

func TestSessionRejectsForeignSecret(t *testing.T) {
	env := newTestEnv(t, nil)
	issued := loginAda(t, env, permission.RoleUser, false)

	other := newTestEnv(t, func(c *Config) {
		c.Session.Secret = "another-secret-that-is-long-enough-000"
	})
	if _, err := other.engine.Session(context.Background(), issued.Token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid across secrets, got %v", err)
	}
}

func TestSessionLatencyHistogram(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Metrics.EnableLatencyHistograms = true
	})
	issued := loginAda(t, env, permission.RoleUser, false)

	if _, err := env.engine.Session(context.Background(), issued.Token); err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	snap := env.engine.MetricsSnapshot()
	var total uint64
	for _, v := range snap.Histograms[MetricSessionLatency] {
		total += v
	}
	if total != 1 {
		t.Fatalf("expected one latency observation, got %d", total)
	}
	if snap.Counters[MetricSessionValidated] != 1 {
		t.Fatalf("expected one validated session, got %d", snap.Counters[MetricSessionValidated])
	}
}

func TestSessionEd25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey failed: %v", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey failed: %v", err)
	}

	cfg := testConfig()
	cfg.Session.SigningMethod = "ed25519"
	cfg.Session.Secret = ""
	cfg.Session.PrivateKey = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	cfg.Session.PublicKey = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	users := memory.New()
	engine, err := New().WithConfig(cfg).WithStore(users).WithEmailSender(&captureSender{}).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	issued, err := engine.LoginWithOAuth(context.Background(), OAuthIdentity{Provider: "google", Email: "lin@example.com", Name: "Lin"}, false)
	if err != nil {
		t.Fatalf("LoginWithOAuth failed: %v", err)
	}
	info, err := engine.Session(context.Background(), issued.Token)
	if err != nil || !info.IsAuthenticated() {
		t.Fatalf("expected valid ed25519 session: %+v %v", info, err)
	}
}
