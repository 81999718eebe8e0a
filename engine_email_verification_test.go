package authcore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/indigoroots/authcore/internal"
	"github.com/indigoroots/authcore/permission"
	"github.com/indigoroots/authcore/store"
)

const (
	verifySubject  = "Verify Your Email"
	welcomeSubject = "Welcome to"
)

func validRegisterRequest() RegisterRequest {
	return RegisterRequest{
		Name:            "Grace Hopper",
		Email:           "grace@example.com",
		Password:        "Str0ng!pass",
		ConfirmPassword: "Str0ng!pass",
	}
}

func TestRegisterVerifyLoginEndToEnd(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.EmailVerification.RequireForLogin = true
	})
	ctx := context.Background()

	res, err := env.engine.Register(ctx, validRegisterRequest())
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if res.Message != RegisterSuccessMessage || res.User.Email != "grace@example.com" {
		t.Fatalf("unexpected register result: %+v", res)
	}

	u, err := env.store.GetUserByEmail(ctx, "grace@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail failed: %v", err)
	}
	if u.Role != permission.RoleUser || u.EmailVerified != nil {
		t.Fatalf("expected unverified USER, got role=%s verified=%v", u.Role, u.EmailVerified)
	}
	if u.PasswordHash == "Str0ng!pass" || !strings.HasPrefix(u.PasswordHash, "$2") {
		t.Fatalf("expected bcrypt hash, got %q", u.PasswordHash)
	}

	if _, err := env.engine.LoginWithPassword(ctx, "grace@example.com", "Str0ng!pass", false); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected unverified login to fail, got %v", err)
	}

	token := env.sender.lastToken(t, verifySubject)
	check, err := env.engine.CheckVerificationToken(ctx, token)
	if err != nil || !check.Valid || check.Email != "grace@example.com" {
		t.Fatalf("expected valid verification token: %+v %v", check, err)
	}

	verified, err := env.engine.VerifyEmail(ctx, token)
	if err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}
	if !verified.Success || verified.Email != "grace@example.com" {
		t.Fatalf("expected verification success, got %+v", verified)
	}

	u, err = env.store.GetUserByEmail(ctx, "grace@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail failed: %v", err)
	}
	if u.EmailVerified == nil || !u.EmailVerified.Equal(env.clock.Now()) {
		t.Fatalf("expected EmailVerified=%v, got %v", env.clock.Now(), u.EmailVerified)
	}
	if n := len(env.store.TokensFor(store.KindEmailVerification, "grace@example.com")); n != 0 {
		t.Fatalf("expected verification row deleted, got %d", n)
	}
	if got := len(env.sender.withSubject(welcomeSubject)); got != 1 {
		t.Fatalf("expected one welcome email, got %d", got)
	}

	session, err := env.engine.LoginWithPassword(ctx, "grace@example.com", "Str0ng!pass", true)
	if err != nil {
		t.Fatalf("verified login failed: %v", err)
	}
	if session.User.Email != "grace@example.com" || session.User.Role != permission.RoleUser {
		t.Fatalf("unexpected session user: %+v", session.User)
	}
}

func TestVerifyEmailTokenIsSingleUse(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if _, err := env.engine.Register(ctx, validRegisterRequest()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	token := env.sender.lastToken(t, verifySubject)

	if res, err := env.engine.VerifyEmail(ctx, token); err != nil || !res.Success {
		t.Fatalf("first verify failed: %+v %v", res, err)
	}
	res, err := env.engine.VerifyEmail(ctx, token)
	if err != nil {
		t.Fatalf("second verify errored: %v", err)
	}
	if res.Success || res.Error != "Invalid verification token" {
		t.Fatalf("expected invalid token on reuse, got %+v", res)
	}
}

func TestVerifyEmailExpiredToken(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if _, err := env.engine.Register(ctx, validRegisterRequest()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	token := env.sender.lastToken(t, verifySubject)
	env.clock.Advance(25 * time.Hour)

	res, err := env.engine.VerifyEmail(ctx, token)
	if err != nil {
		t.Fatalf("VerifyEmail errored: %v", err)
	}
	if res.Success || res.Error != "Verification token has expired" {
		t.Fatalf("expected expired token, got %+v", res)
	}
}

func TestVerifyEmailUserDeleted(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	// A token whose account never existed.
	rec := env.engine.newTokenRecord(store.KindEmailVerification, "ghost@example.com", internal.HashToken("cafebabe"), env.clock.Now().Add(time.Hour))
	if err := env.store.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	res, err := env.engine.VerifyEmail(ctx, "cafebabe")
	if err != nil {
		t.Fatalf("VerifyEmail errored: %v", err)
	}
	if res.Success || res.Error != "User not found" {
		t.Fatalf("expected user not found, got %+v", res)
	}
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if _, err := env.engine.Register(ctx, validRegisterRequest()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	_, err := env.engine.Register(ctx, validRegisterRequest())
	if !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*RegisterRequest)
		detail string
	}{
		{
			name:   "short name",
			mutate: func(r *RegisterRequest) { r.Name = "G" },
			detail: "Name must be at least 2 characters long",
		},
		{
			name:   "bad email",
			mutate: func(r *RegisterRequest) { r.Email = "not-an-email" },
			detail: "Invalid email address",
		},
		{
			name: "short password",
			mutate: func(r *RegisterRequest) {
				r.Password = "S1!a"
				r.ConfirmPassword = "S1!a"
			},
			detail: "Password must be at least 8 characters long",
		},
		{
			name:   "mismatched confirmation",
			mutate: func(r *RegisterRequest) { r.ConfirmPassword = "Different1!" },
			detail: "Passwords don't match",
		},
		{
			name: "weak password",
			mutate: func(r *RegisterRequest) {
				r.Password = "alllowercase"
				r.ConfirmPassword = "alllowercase"
			},
			detail: "Password must contain at least one uppercase letter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRegisterRequest()
			tt.mutate(&req)

			_, err := env.engine.Register(ctx, req)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if !errors.Is(err, ErrValidation) {
				t.Fatal("expected ErrValidation to match")
			}
			found := false
			for _, d := range ve.Details {
				if d == tt.detail {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected detail %q in %v", tt.detail, ve.Details)
			}
		})
	}

	if env.sender.count() != 0 {
		t.Fatalf("expected no email for rejected sign-ups, got %d", env.sender.count())
	}
}

func TestRegisterEmailFailureStillCreatesAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.sender.setErr(errors.New("smtp down"))

	res, err := env.engine.Register(ctx, validRegisterRequest())
	if err != nil {
		t.Fatalf("expected delivery failure to be swallowed, got %v", err)
	}
	if res.User.ID == "" {
		t.Fatal("expected account to be created")
	}
	if n := len(env.store.TokensFor(store.KindEmailVerification, "grace@example.com")); n != 1 {
		t.Fatalf("expected verification row, got %d", n)
	}
}

func TestVerifyEmailWelcomeDisabled(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.EmailVerification.SendWelcome = false
	})
	ctx := context.Background()

	if _, err := env.engine.Register(ctx, validRegisterRequest()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	token := env.sender.lastToken(t, verifySubject)
	if res, err := env.engine.VerifyEmail(ctx, token); err != nil || !res.Success {
		t.Fatalf("VerifyEmail failed: %+v %v", res, err)
	}
	if got := len(env.sender.withSubject(welcomeSubject)); got != 0 {
		t.Fatalf("expected no welcome email, got %d", got)
	}
}
