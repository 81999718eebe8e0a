package flows

import (
	"context"
	"errors"
	"testing"
	"time"
)

var (
	errTestNotFound  = errors.New("not found")
	errTestInvalid   = errors.New("invalid")
	errTestUsed      = errors.New("used")
	errTestExpired   = errors.New("expired")
	errTestNoUser    = errors.New("no user")
	errTestPolicy    = errors.New("policy")
	errTestLimited   = errors.New("limited")
	errTestNotReady  = errors.New("not ready")
	errTestRateLimit = errors.New("rate limit hit")
)

type fakeResetStore struct {
	users   map[string]TokenUser
	tokens  map[string]TokenRecord
	hashes  map[string]string
	sent    []string
	sleeps  int
	sendErr error
}

func newFakeResetStore() *fakeResetStore {
	return &fakeResetStore{
		users:  map[string]TokenUser{"ada@example.com": {ID: "u1", Email: "ada@example.com", Name: "Ada"}},
		tokens: map[string]TokenRecord{},
		hashes: map[string]string{},
	}
}

func (f *fakeResetStore) deps(now time.Time) PasswordResetDeps {
	seq := 0
	return PasswordResetDeps{
		TokenTTL:   time.Hour,
		TokenBytes: 32,
		Strategy:   ConsumeMarkUsed,
		Now:        func() time.Time { return now },
		GetUserByEmail: func(_ context.Context, email string) (TokenUser, error) {
			u, ok := f.users[email]
			if !ok {
				return TokenUser{}, errTestNotFound
			}
			return u, nil
		},
		IsUserNotFound:  func(err error) bool { return errors.Is(err, errTestNotFound) },
		IsStoreNotFound: func(err error) bool { return errors.Is(err, errTestNotFound) },
		IsRateLimited:   func(err error) bool { return errors.Is(err, errTestRateLimit) },
		HashPassword:    func(p string) (string, error) { return "hashed:" + p, nil },
		UpdatePasswordHash: func(_ context.Context, userID, hash string) error {
			f.hashes[userID] = hash
			return nil
		},
		PasswordStrength: func(p string) []string {
			if len(p) < 8 {
				return []string{"too short"}
			}
			return nil
		},
		GenerateToken: func(int) (string, error) {
			seq++
			return "tok" + string(rune('0'+seq)), nil
		},
		HashToken: func(s string) string { return "h:" + s },
		ReplaceToken: func(_ context.Context, identifier, hash string, expiresAt time.Time) error {
			for k, rec := range f.tokens {
				if rec.Identifier == identifier {
					delete(f.tokens, k)
				}
			}
			f.tokens[hash] = TokenRecord{Identifier: identifier, ExpiresAt: expiresAt}
			return nil
		},
		GetToken: func(_ context.Context, hash string) (TokenRecord, error) {
			rec, ok := f.tokens[hash]
			if !ok {
				return TokenRecord{}, errTestNotFound
			}
			return rec, nil
		},
		ConsumeToken: func(_ context.Context, hash string, _ ConsumeStrategy) error {
			rec, ok := f.tokens[hash]
			if !ok || rec.Used {
				return errTestNotFound
			}
			rec.Used = true
			f.tokens[hash] = rec
			return nil
		},
		SendResetEmail: func(_ context.Context, _ TokenUser, token string) error {
			f.sent = append(f.sent, token)
			return f.sendErr
		},
		SleepEnumerationDelay: func(context.Context) error {
			f.sleeps++
			return nil
		},
		Errors: PasswordResetErrors{
			EngineNotReady:           errTestNotReady,
			PasswordResetRateLimited: errTestLimited,
			TokenInvalid:             errTestInvalid,
			TokenUsed:                errTestUsed,
			TokenExpired:             errTestExpired,
			UserNotFound:             errTestNoUser,
			PasswordPolicy:           errTestPolicy,
		},
	}
}

func TestRunPasswordResetLifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	f := newFakeResetStore()
	deps := f.deps(now)

	if err := RunRequestPasswordReset(ctx, "ada@example.com", deps); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if len(f.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(f.sent))
	}
	token := f.sent[0]
	if rec := f.tokens["h:"+token]; !rec.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %v", rec.ExpiresAt)
	}

	outcome, err := RunValidateResetToken(ctx, token, deps)
	if err != nil || outcome.Reason != nil || outcome.User == nil {
		t.Fatalf("expected valid token: %+v %v", outcome, err)
	}

	outcome, err = RunResetPassword(ctx, token, "long-enough", deps)
	if err != nil || outcome.Reason != nil {
		t.Fatalf("reset failed: %+v %v", outcome, err)
	}
	if f.hashes["u1"] != "hashed:long-enough" {
		t.Fatalf("unexpected stored hash %q", f.hashes["u1"])
	}

	outcome, err = RunResetPassword(ctx, token, "long-enough", deps)
	if err != nil || !errors.Is(outcome.Reason, errTestUsed) {
		t.Fatalf("expected used token on replay: %+v %v", outcome, err)
	}
}

func TestRunRequestPasswordResetUnknownEmail(t *testing.T) {
	f := newFakeResetStore()
	if err := RunRequestPasswordReset(context.Background(), "nobody@example.com", f.deps(time.Now())); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if len(f.sent) != 0 || len(f.tokens) != 0 {
		t.Fatal("unknown email must not mint or send tokens")
	}
	if f.sleeps != 1 {
		t.Fatalf("expected one enumeration delay, got %d", f.sleeps)
	}
}

func TestRunRequestPasswordResetSwallowsDeliveryFailure(t *testing.T) {
	f := newFakeResetStore()
	f.sendErr = errors.New("smtp down")
	var logged string
	deps := f.deps(time.Now())
	deps.LogEmailFailure = func(_ context.Context, to string, _ error) { logged = to }

	if err := RunRequestPasswordReset(context.Background(), "ada@example.com", deps); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if logged != "ada@example.com" {
		t.Fatalf("expected failure to be logged for ada, got %q", logged)
	}
	if len(f.tokens) != 1 {
		t.Fatal("expected token to persist after delivery failure")
	}
}

func TestRunRequestPasswordResetRateLimited(t *testing.T) {
	f := newFakeResetStore()
	deps := f.deps(time.Now())
	deps.CheckRequestLimiter = func(context.Context, string, string) error { return errTestRateLimit }

	if err := RunRequestPasswordReset(context.Background(), "ada@example.com", deps); !errors.Is(err, errTestLimited) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestRunResetPasswordExpiredAndPolicy(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	f := newFakeResetStore()
	f.tokens["h:old"] = TokenRecord{Identifier: "ada@example.com", ExpiresAt: now.Add(-time.Second)}
	f.tokens["h:live"] = TokenRecord{Identifier: "ada@example.com", ExpiresAt: now.Add(time.Hour)}
	deps := f.deps(now)

	outcome, err := RunResetPassword(ctx, "old", "long-enough", deps)
	if err != nil || !errors.Is(outcome.Reason, errTestExpired) {
		t.Fatalf("expected expired: %+v %v", outcome, err)
	}

	outcome, err = RunResetPassword(ctx, "live", "short", deps)
	if err != nil || !errors.Is(outcome.Reason, errTestPolicy) || len(outcome.PolicyErrors) != 1 {
		t.Fatalf("expected policy failure: %+v %v", outcome, err)
	}
	if f.tokens["h:live"].Used {
		t.Fatal("policy failure must not consume the token")
	}

	delete(f.users, "ada@example.com")
	outcome, err = RunValidateResetToken(ctx, "live", deps)
	if err != nil || !errors.Is(outcome.Reason, errTestNoUser) {
		t.Fatalf("expected user not found: %+v %v", outcome, err)
	}
}

func TestRunResetPasswordLosesConsumeRace(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	f := newFakeResetStore()
	f.tokens["h:live"] = TokenRecord{Identifier: "ada@example.com", ExpiresAt: now.Add(time.Hour)}
	deps := f.deps(now)
	deps.ConsumeToken = func(context.Context, string, ConsumeStrategy) error { return errTestNotFound }

	outcome, err := RunResetPassword(context.Background(), "live", "long-enough", deps)
	if err != nil || !errors.Is(outcome.Reason, errTestUsed) {
		t.Fatalf("expected used token after lost race: %+v %v", outcome, err)
	}
	if _, ok := f.hashes["u1"]; ok {
		t.Fatal("password must not change when consumption fails")
	}
}

func TestRunPasswordResetNotReady(t *testing.T) {
	if err := RunRequestPasswordReset(context.Background(), "a", PasswordResetDeps{Errors: PasswordResetErrors{EngineNotReady: errTestNotReady}}); !errors.Is(err, errTestNotReady) {
		t.Fatalf("expected not ready, got %v", err)
	}
}
