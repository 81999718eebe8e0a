package authcore

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/indigoroots/authcore/internal"
	"github.com/indigoroots/authcore/permission"
	"github.com/indigoroots/authcore/store"
)

const resetSubject = "Reset Your Password"

func TestPasswordResetTokenFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seedUser(t, "ada@example.com", "Ada", "OldPassw0rd!", permission.RoleUser, true)

	if err := env.engine.RequestPasswordReset(ctx, "ada@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	token := env.sender.lastToken(t, resetSubject)
	if _, err := hex.DecodeString(token); err != nil || len(token) != 64 {
		t.Fatalf("expected 64 hex chars, got %q", token)
	}

	check, err := env.engine.ValidateResetToken(ctx, token)
	if err != nil {
		t.Fatalf("ValidateResetToken failed: %v", err)
	}
	if !check.Valid || check.User == nil || check.User.Email != "ada@example.com" {
		t.Fatalf("expected valid token for ada, got %+v", check)
	}

	res, err := env.engine.ResetPassword(ctx, token, "NewPassw0rd!")
	if err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}

	if _, err := env.engine.LoginWithPassword(ctx, "ada@example.com", "OldPassw0rd!", false); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still accepted: %v", err)
	}
	if _, err := env.engine.LoginWithPassword(ctx, "ada@example.com", "NewPassw0rd!", false); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
}

func TestPasswordResetTokenIsStoredHashed(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seedUser(t, "ada@example.com", "Ada", "OldPassw0rd!", permission.RoleUser, true)

	if err := env.engine.RequestPasswordReset(ctx, "ada@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	token := env.sender.lastToken(t, resetSubject)

	recs := env.store.TokensFor(store.KindPasswordReset, "ada@example.com")
	if len(recs) != 1 {
		t.Fatalf("expected one reset record, got %d", len(recs))
	}
	if recs[0].TokenHash == token || recs[0].TokenHash != internal.HashToken(token) {
		t.Fatal("expected token to be stored as its sha256 digest")
	}
	wantExpiry := env.clock.Now().Add(time.Hour)
	if !recs[0].ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expected expiry %v, got %v", wantExpiry, recs[0].ExpiresAt)
	}
}

func TestPasswordResetNewRequestSupersedesOld(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seedUser(t, "ada@example.com", "Ada", "OldPassw0rd!", permission.RoleUser, true)

	if err := env.engine.RequestPasswordReset(ctx, "ada@example.com"); err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	first := env.sender.lastToken(t, resetSubject)
	if err := env.engine.RequestPasswordReset(ctx, "ada@example.com"); err != nil {
		t.Fatalf("second request failed: %v", err)
	}
	second := env.sender.lastToken(t, resetSubject)
	if first == second {
		t.Fatal("expected a fresh token per request")
	}

	check, err := env.engine.ValidateResetToken(ctx, first)
	if err != nil {
		t.Fatalf("ValidateResetToken failed: %v", err)
	}
	if check.Valid || check.Error != "Invalid token" {
		t.Fatalf("expected superseded token to be invalid, got %+v", check)
	}
	if n := len(env.store.TokensFor(store.KindPasswordReset, "ada@example.com")); n != 1 {
		t.Fatalf("expected exactly one live record, got %d", n)
	}
}

func TestPasswordResetUnknownEmailIsSilent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if err := env.engine.RequestPasswordReset(ctx, "nobody@example.com"); err != nil {
		t.Fatalf("expected nil for unknown email, got %v", err)
	}
	if env.sender.count() != 0 {
		t.Fatalf("expected no email for unknown address, got %d", env.sender.count())
	}
	if n := len(env.store.TokensFor(store.KindPasswordReset, "nobody@example.com")); n != 0 {
		t.Fatalf("expected no token rows, got %d", n)
	}
}

func TestPasswordResetEmailFailureIsSwallowed(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seedUser(t, "ada@example.com", "Ada", "OldPassw0rd!", permission.RoleUser, true)
	env.sender.setErr(errors.New("smtp down"))

	if err := env.engine.RequestPasswordReset(ctx, "ada@example.com"); err != nil {
		t.Fatalf("expected delivery failure to be swallowed, got %v", err)
	}
	if n := len(env.store.TokensFor(store.KindPasswordReset, "ada@example.com")); n != 1 {
		t.Fatalf("expected token row to persist, got %d", n)
	}
	if got := env.engine.Metrics().Value(MetricEmailDeliveryFailure); got != 1 {
		t.Fatalf("expected one delivery failure, got %d", got)
	}
}

func TestPasswordResetSingleUse(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seedUser(t, "ada@example.com", "Ada", "OldPassw0rd!", permission.RoleUser, true)

	if err := env.engine.RequestPasswordReset(ctx, "ada@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	token := env.sender.lastToken(t, resetSubject)

	first, err := env.engine.ResetPassword(ctx, token, "NewPassw0rd!")
	if err != nil || !first.Success {
		t.Fatalf("first reset failed: %+v %v", first, err)
	}

	second, err := env.engine.ResetPassword(ctx, token, "Another1!pass")
	if err != nil {
		t.Fatalf("second reset errored: %v", err)
	}
	if second.Success || second.Error != "Token has already been used" {
		t.Fatalf("expected used-token failure, got %+v", second)
	}

	check, err := env.engine.ValidateResetToken(ctx, token)
	if err != nil {
		t.Fatalf("ValidateResetToken failed: %v", err)
	}
	if check.Valid || check.Error != "Token has already been used" {
		t.Fatalf("expected used token, got %+v", check)
	}
	if !errors.Is(check.Reason, ErrTokenUsed) {
		t.Fatalf("expected ErrTokenUsed reason, got %v", check.Reason)
	}
}

func TestPasswordResetExpiredToken(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seedUser(t, "ada@example.com", "Ada", "OldPassw0rd!", permission.RoleUser, true)

	if err := env.engine.RequestPasswordReset(ctx, "ada@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	token := env.sender.lastToken(t, resetSubject)
	env.clock.Advance(time.Hour + time.Second)

	check, err := env.engine.ValidateResetToken(ctx, token)
	if err != nil {
		t.Fatalf("ValidateResetToken failed: %v", err)
	}
	if check.Valid || check.Error != "Token has expired" {
		t.Fatalf("expected expired token, got %+v", check)
	}

	res, err := env.engine.ResetPassword(ctx, token, "NewPassw0rd!")
	if err != nil {
		t.Fatalf("ResetPassword errored: %v", err)
	}
	if res.Success || res.Error != "Token has expired" {
		t.Fatalf("expected expired failure, got %+v", res)
	}
}

func TestPasswordResetUsedWinsOverExpired(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seedUser(t, "ada@example.com", "Ada", "OldPassw0rd!", permission.RoleUser, true)

	if err := env.engine.RequestPasswordReset(ctx, "ada@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	token := env.sender.lastToken(t, resetSubject)
	if res, err := env.engine.ResetPassword(ctx, token, "NewPassw0rd!"); err != nil || !res.Success {
		t.Fatalf("reset failed: %+v %v", res, err)
	}
	env.clock.Advance(2 * time.Hour)

	check, err := env.engine.ValidateResetToken(ctx, token)
	if err != nil {
		t.Fatalf("ValidateResetToken failed: %v", err)
	}
	if check.Valid || check.Error != "Token has already been used" {
		t.Fatalf("expected used flag to be reported before expiry, got %+v", check)
	}
	if !errors.Is(check.Reason, ErrTokenUsed) {
		t.Fatalf("expected ErrTokenUsed reason, got %v", check.Reason)
	}
}

func TestPasswordResetRejectsWeakPassword(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seedUser(t, "ada@example.com", "Ada", "OldPassw0rd!", permission.RoleUser, true)

	if err := env.engine.RequestPasswordReset(ctx, "ada@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	token := env.sender.lastToken(t, resetSubject)

	res, err := env.engine.ResetPassword(ctx, token, "weak")
	if err != nil {
		t.Fatalf("ResetPassword errored: %v", err)
	}
	if res.Success || res.Error != "Password does not meet requirements" {
		t.Fatalf("expected policy failure, got %+v", res)
	}
	if len(res.Details) != 4 {
		t.Fatalf("expected 4 policy details for %q, got %v", "weak", res.Details)
	}

	check, err := env.engine.ValidateResetToken(ctx, token)
	if err != nil || !check.Valid {
		t.Fatalf("weak password must not burn the token: %+v %v", check, err)
	}
}

func TestPasswordResetUnknownToken(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	for _, token := range []string{"", "deadbeef", "zz-not-hex"} {
		check, err := env.engine.ValidateResetToken(ctx, token)
		if err != nil {
			t.Fatalf("ValidateResetToken(%q) errored: %v", token, err)
		}
		if check.Valid || check.Error != "Invalid token" {
			t.Fatalf("ValidateResetToken(%q): expected invalid, got %+v", token, check)
		}
	}
}

func TestPasswordResetConcurrentConsumeSingleWinner(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seedUser(t, "ada@example.com", "Ada", "OldPassw0rd!", permission.RoleUser, true)

	if err := env.engine.RequestPasswordReset(ctx, "ada@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	token := env.sender.lastToken(t, resetSubject)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			res, err := env.engine.ResetPassword(ctx, token, "NewPassw0rd!")
			if err != nil {
				t.Errorf("ResetPassword errored: %v", err)
				return
			}
			if res.Success {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if success != 1 {
		t.Fatalf("expected exactly one successful reset, got %d", success)
	}
}

func TestCleanupExpiredTokens(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.seedUser(t, "ada@example.com", "Ada", "OldPassw0rd!", permission.RoleUser, true)

	if err := env.engine.RequestPasswordReset(ctx, "ada@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if _, err := env.engine.Register(ctx, RegisterRequest{
		Name:            "Grace",
		Email:           "grace@example.com",
		Password:        "Str0ng!pass",
		ConfirmPassword: "Str0ng!pass",
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	report := env.engine.CleanupExpiredTokens(ctx)
	if report.PasswordResets != 0 || report.VerificationTokens != 0 {
		t.Fatalf("expected nothing cleaned yet, got %+v", report)
	}

	// Reset tokens live 1h, verification tokens 24h.
	env.clock.Advance(2 * time.Hour)
	report = env.engine.CleanupExpiredTokens(ctx)
	if report.PasswordResets != 1 || report.VerificationTokens != 0 {
		t.Fatalf("expected one reset row cleaned, got %+v", report)
	}

	env.clock.Advance(24 * time.Hour)
	report = env.engine.CleanupExpiredTokens(ctx)
	if report.VerificationTokens != 1 || len(report.Errors) != 0 {
		t.Fatalf("expected one verification row cleaned, got %+v", report)
	}
	if got := env.engine.Metrics().Value(MetricTokensCleaned); got != 2 {
		t.Fatalf("expected MetricTokensCleaned=2, got %d", got)
	}
}

func TestPasswordResetNilEngine(t *testing.T) {
	var e *Engine
	if err := e.RequestPasswordReset(context.Background(), "ada@example.com"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	report := e.CleanupExpiredTokens(context.Background())
	if len(report.Errors) != 1 {
		t.Fatalf("expected one error in report, got %+v", report)
	}
}
