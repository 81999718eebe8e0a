package flows

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeLoginBackend struct {
	users   map[string]LoginUserRecord
	burned  int
	created int
	failed  int
}

func (f *fakeLoginBackend) deps() LoginDeps {
	return LoginDeps{
		DefaultRole: "USER",
		Now:         func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) },
		GetUserByEmail: func(_ context.Context, email string) (LoginUserRecord, error) {
			u, ok := f.users[email]
			if !ok {
				return LoginUserRecord{}, errTestNotFound
			}
			return u, nil
		},
		IsUserNotFound: func(err error) bool { return errors.Is(err, errTestNotFound) },
		VerifyPassword: func(plain, hash string) (bool, error) { return "hash:"+plain == hash, nil },
		BurnPasswordCheck: func(string) {
			f.burned++
		},
		CreateOAuthUser: func(_ context.Context, cred LoginCredential, role string, _ time.Time) (LoginUserRecord, error) {
			f.created++
			u := LoginUserRecord{UserID: "new", Email: cred.Email, Name: cred.Name, Role: role, EmailVerified: true}
			f.users[cred.Email] = u
			return u, nil
		},
		RefreshOAuthProfile: func(_ context.Context, _ string, cred LoginCredential, _ time.Time) (LoginUserRecord, error) {
			u := f.users[cred.Email]
			u.Name = cred.Name
			f.users[cred.Email] = u
			return u, nil
		},
		IssueSession: func(u SessionUser, _ bool, now time.Time) (string, time.Time, error) {
			return "signed:" + u.ID, now.Add(30 * 24 * time.Hour), nil
		},
		MetricInc: func(id int) {
			if id == 2 {
				f.failed++
			}
		},
		Metrics: LoginMetrics{LoginSuccess: 1, LoginFailure: 2},
		Errors: LoginErrors{
			EngineNotReady:     errTestNotReady,
			InvalidCredentials: errTestInvalid,
			LoginRateLimited:   errTestLimited,
		},
	}
}

func newFakeLoginBackend() *fakeLoginBackend {
	return &fakeLoginBackend{users: map[string]LoginUserRecord{
		"ada@example.com":   {UserID: "u1", Email: "ada@example.com", PasswordHash: "hash:secret", Role: "ADMIN", EmailVerified: true},
		"grace@example.com": {UserID: "u2", Email: "grace@example.com", PasswordHash: "hash:secret", Role: "USER"},
		"oauth@example.com": {UserID: "u3", Email: "oauth@example.com", Role: "USER", EmailVerified: true},
	}}
}

func TestRunLoginPassword(t *testing.T) {
	f := newFakeLoginBackend()
	res, err := RunLogin(context.Background(), LoginCredential{Kind: CredentialPassword, Email: "ada@example.com", Password: "secret"}, true, f.deps())
	if err != nil {
		t.Fatalf("RunLogin failed: %v", err)
	}
	if res.Token != "signed:u1" || res.User.Role != "ADMIN" || !res.RememberMe {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunLoginFailuresCollapse(t *testing.T) {
	tests := []struct {
		name       string
		cred       LoginCredential
		wantBurned int
	}{
		{"wrong password", LoginCredential{Kind: CredentialPassword, Email: "ada@example.com", Password: "nope"}, 0},
		{"unknown user", LoginCredential{Kind: CredentialPassword, Email: "who@example.com", Password: "secret"}, 1},
		{"no password hash", LoginCredential{Kind: CredentialPassword, Email: "oauth@example.com", Password: "secret"}, 1},
		{"empty password", LoginCredential{Kind: CredentialPassword, Email: "ada@example.com"}, 0},
		{"unknown kind", LoginCredential{Email: "ada@example.com", Password: "secret"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeLoginBackend()
			if _, err := RunLogin(context.Background(), tt.cred, false, f.deps()); !errors.Is(err, errTestInvalid) {
				t.Fatalf("expected invalid credentials, got %v", err)
			}
			if f.burned != tt.wantBurned {
				t.Fatalf("expected %d dummy hash checks, got %d", tt.wantBurned, f.burned)
			}
		})
	}
}

func TestRunLoginRequireVerified(t *testing.T) {
	f := newFakeLoginBackend()
	deps := f.deps()
	cred := LoginCredential{Kind: CredentialPassword, Email: "grace@example.com", Password: "secret"}

	if _, err := RunLogin(context.Background(), cred, false, deps); err != nil {
		t.Fatalf("unverified login should pass when not required: %v", err)
	}
	deps.RequireVerified = true
	if _, err := RunLogin(context.Background(), cred, false, deps); !errors.Is(err, errTestInvalid) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if f.failed != 1 {
		t.Fatalf("expected one failure metric, got %d", f.failed)
	}
}

func TestRunLoginRateLimited(t *testing.T) {
	f := newFakeLoginBackend()
	deps := f.deps()
	deps.CheckLoginRate = func(context.Context, string, string) error { return errTestRateLimit }
	deps.IsRateLimited = func(err error) bool { return errors.Is(err, errTestRateLimit) }

	_, err := RunLogin(context.Background(), LoginCredential{Kind: CredentialPassword, Email: "ada@example.com", Password: "secret"}, false, deps)
	if !errors.Is(err, errTestLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
}

func TestRunLoginOAuth(t *testing.T) {
	f := newFakeLoginBackend()
	deps := f.deps()
	cred := LoginCredential{Kind: CredentialOAuth, Provider: "github", Email: "lin@example.com", Name: "Lin"}

	res, err := RunLogin(context.Background(), cred, false, deps)
	if err != nil || res.User.Role != "USER" || f.created != 1 {
		t.Fatalf("expected created account: %+v %v", res, err)
	}
	cred.Name = "Lin R"
	res, err = RunLogin(context.Background(), cred, false, deps)
	if err != nil || res.User.Name != "Lin R" || f.created != 1 {
		t.Fatalf("expected profile refresh: %+v %v", res, err)
	}

	cred.Email = ""
	if _, err := RunLogin(context.Background(), cred, false, deps); !errors.Is(err, errTestInvalid) {
		t.Fatalf("expected missing email rejection, got %v", err)
	}
}
