package flows

import (
	"context"
	"errors"
	"time"
)

// CredentialKind selects the login path.
type CredentialKind int

const (
	CredentialPassword CredentialKind = iota + 1
	CredentialOAuth
)

// LoginCredential is the flow-local union of the public credential types.
type LoginCredential struct {
	Kind     CredentialKind
	Email    string
	Password string
	Provider string
	Subject  string
	Name     string
	Picture  string
}

// LoginUserRecord is a flow-local user model used by login flows.
type LoginUserRecord struct {
	UserID        string
	Email         string
	Name          string
	Image         string
	PasswordHash  string
	Role          string
	EmailVerified bool
}

// SessionUser is the identity embedded in an issued session.
type SessionUser struct {
	ID      string
	Email   string
	Name    string
	Picture string
	Role    string
}

// LoginResult is the flow-local login response shape.
type LoginResult struct {
	Token      string
	ExpiresAt  time.Time
	RememberMe bool
	User       SessionUser
}

// LoginMetrics carries metric IDs needed by login flows.
type LoginMetrics struct {
	LoginSuccess     int
	LoginFailure     int
	LoginRateLimited int
	SessionCreated   int
	OAuthUserCreated int
}

// LoginEvents carries audit event names used by login flows.
type LoginEvents struct {
	LoginSuccess     string
	LoginFailure     string
	LoginRateLimited string
	OAuthUserCreated string
}

// LoginErrors carries host-level sentinel errors used by login flows.
type LoginErrors struct {
	EngineNotReady     error
	InvalidCredentials error
	LoginRateLimited   error
	Dependency         func(op string, err error) error
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	RequireVerified        bool
	PasswordUpgradeOnLogin bool
	DefaultRole            string

	ClientIPFromContext func(context.Context) string
	Now                 func() time.Time

	CheckLoginRate     func(context.Context, string, string) error
	IncrementLoginRate func(context.Context, string, string) error
	ResetLoginRate     func(context.Context, string) error
	IsRateLimited      func(error) bool

	GetUserByEmail      func(context.Context, string) (LoginUserRecord, error)
	IsUserNotFound      func(error) bool
	CreateOAuthUser     func(context.Context, LoginCredential, string, time.Time) (LoginUserRecord, error)
	RefreshOAuthProfile func(context.Context, string, LoginCredential, time.Time) (LoginUserRecord, error)
	UpdatePasswordHash  func(context.Context, string, string) error

	VerifyPassword       func(string, string) (bool, error)
	BurnPasswordCheck    func(string)
	PasswordNeedsUpgrade func(string) bool
	HashPassword         func(string) (string, error)

	IssueSession func(SessionUser, bool, time.Time) (string, time.Time, error)

	MetricInc     func(int)
	EmitAudit     func(context.Context, string, bool, string, string, error, func() map[string]string)
	EmitRateLimit func(context.Context, string, func() map[string]string)
	Warn          func(string, ...any)

	Metrics LoginMetrics
	Events  LoginEvents
	Errors  LoginErrors
}

// RunLogin authenticates cred and issues a signed session.
func RunLogin(ctx context.Context, cred LoginCredential, rememberMe bool, deps LoginDeps) (LoginResult, error) {
	normalizeLoginDeps(&deps)

	if deps.GetUserByEmail == nil || deps.IssueSession == nil {
		return LoginResult{}, deps.Errors.EngineNotReady
	}

	var (
		user LoginUserRecord
		err  error
	)
	switch cred.Kind {
	case CredentialPassword:
		user, err = runPasswordLogin(ctx, cred, deps)
	case CredentialOAuth:
		user, err = runOAuthLogin(ctx, cred, deps)
	default:
		err = deps.Errors.InvalidCredentials
	}
	if err != nil {
		return LoginResult{}, err
	}

	sessionUser := SessionUser{
		ID:      user.UserID,
		Email:   user.Email,
		Name:    user.Name,
		Picture: user.Image,
		Role:    user.Role,
	}
	token, expiresAt, err := deps.IssueSession(sessionUser, rememberMe, deps.Now())
	if err != nil {
		deps.MetricInc(deps.Metrics.LoginFailure)
		return LoginResult{}, deps.Errors.Dependency("issue session", err)
	}

	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.MetricInc(deps.Metrics.SessionCreated)
	deps.EmitAudit(ctx, deps.Events.LoginSuccess, true, user.UserID, "", nil, func() map[string]string {
		return map[string]string{
			"method":      credentialMethod(cred),
			"remember_me": boolString(rememberMe),
		}
	})
	return LoginResult{
		Token:      token,
		ExpiresAt:  expiresAt,
		RememberMe: rememberMe,
		User:       sessionUser,
	}, nil
}

func runPasswordLogin(ctx context.Context, cred LoginCredential, deps LoginDeps) (LoginUserRecord, error) {
	if deps.VerifyPassword == nil {
		return LoginUserRecord{}, deps.Errors.EngineNotReady
	}

	fail := func(userID, reason string) error {
		deps.MetricInc(deps.Metrics.LoginFailure)
		if deps.IncrementLoginRate != nil && cred.Email != "" {
			if err := deps.IncrementLoginRate(ctx, cred.Email, deps.ClientIPFromContext(ctx)); err != nil && !deps.IsRateLimited(err) {
				deps.Warn("authcore: login limiter increment failed")
			}
		}
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, userID, "", deps.Errors.InvalidCredentials, func() map[string]string {
			return map[string]string{
				"identifier": cred.Email,
				"reason":     reason,
			}
		})
		return deps.Errors.InvalidCredentials
	}

	if cred.Email == "" || cred.Password == "" {
		return LoginUserRecord{}, fail("", "empty_input")
	}

	ip := deps.ClientIPFromContext(ctx)
	if err := deps.CheckLoginRate(ctx, cred.Email, ip); err != nil {
		if deps.IsRateLimited(err) {
			deps.MetricInc(deps.Metrics.LoginRateLimited)
			deps.EmitAudit(ctx, deps.Events.LoginRateLimited, false, "", "", deps.Errors.LoginRateLimited, func() map[string]string {
				return map[string]string{
					"identifier": cred.Email,
				}
			})
			deps.EmitRateLimit(ctx, "login", func() map[string]string {
				return map[string]string{
					"identifier": cred.Email,
				}
			})
			return LoginUserRecord{}, deps.Errors.LoginRateLimited
		}
		return LoginUserRecord{}, deps.Errors.Dependency("login limiter", err)
	}

	user, err := deps.GetUserByEmail(ctx, cred.Email)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return LoginUserRecord{}, err
		}
		if !deps.IsUserNotFound(err) {
			return LoginUserRecord{}, deps.Errors.Dependency("lookup user", err)
		}
		deps.BurnPasswordCheck(cred.Password)
		return LoginUserRecord{}, fail("", "unknown_user")
	}
	if user.PasswordHash == "" {
		deps.BurnPasswordCheck(cred.Password)
		return LoginUserRecord{}, fail(user.UserID, "no_password")
	}

	ok, err := deps.VerifyPassword(cred.Password, user.PasswordHash)
	if err != nil || !ok {
		return LoginUserRecord{}, fail(user.UserID, "password_mismatch")
	}
	if deps.RequireVerified && !user.EmailVerified {
		return LoginUserRecord{}, fail(user.UserID, "unverified")
	}

	if deps.ResetLoginRate != nil {
		if err := deps.ResetLoginRate(ctx, cred.Email); err != nil {
			deps.Warn("authcore: login limiter reset failed")
		}
	}

	if deps.PasswordUpgradeOnLogin && deps.PasswordNeedsUpgrade != nil && deps.PasswordNeedsUpgrade(user.PasswordHash) &&
		deps.HashPassword != nil && deps.UpdatePasswordHash != nil {
		if upgraded, err := deps.HashPassword(cred.Password); err == nil {
			if err := deps.UpdatePasswordHash(ctx, user.UserID, upgraded); err != nil {
				deps.Warn("authcore: password rehash on login failed")
			}
		}
	}
	return user, nil
}

func runOAuthLogin(ctx context.Context, cred LoginCredential, deps LoginDeps) (LoginUserRecord, error) {
	if deps.CreateOAuthUser == nil || deps.RefreshOAuthProfile == nil {
		return LoginUserRecord{}, deps.Errors.EngineNotReady
	}
	if cred.Email == "" {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, "", "", deps.Errors.InvalidCredentials, func() map[string]string {
			return map[string]string{
				"provider": cred.Provider,
				"reason":   "missing_email",
			}
		})
		return LoginUserRecord{}, deps.Errors.InvalidCredentials
	}

	now := deps.Now().UTC()
	existing, err := deps.GetUserByEmail(ctx, cred.Email)
	if err == nil {
		updated, err := deps.RefreshOAuthProfile(ctx, existing.UserID, cred, now)
		if err != nil {
			return LoginUserRecord{}, deps.Errors.Dependency("refresh oauth profile", err)
		}
		return updated, nil
	}
	if !deps.IsUserNotFound(err) {
		return LoginUserRecord{}, deps.Errors.Dependency("lookup user", err)
	}

	created, err := deps.CreateOAuthUser(ctx, cred, deps.DefaultRole, now)
	if err != nil {
		return LoginUserRecord{}, deps.Errors.Dependency("create oauth user", err)
	}
	deps.MetricInc(deps.Metrics.OAuthUserCreated)
	deps.EmitAudit(ctx, deps.Events.OAuthUserCreated, true, created.UserID, "", nil, func() map[string]string {
		return map[string]string{
			"provider": cred.Provider,
		}
	})
	return created, nil
}

func credentialMethod(cred LoginCredential) string {
	if cred.Kind == CredentialOAuth {
		return "oauth:" + cred.Provider
	}
	return "password"
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func normalizeLoginDeps(deps *LoginDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.CheckLoginRate == nil {
		deps.CheckLoginRate = func(context.Context, string, string) error { return nil }
	}
	if deps.IsRateLimited == nil {
		deps.IsRateLimited = func(error) bool { return false }
	}
	if deps.IsUserNotFound == nil {
		deps.IsUserNotFound = func(error) bool { return false }
	}
	if deps.BurnPasswordCheck == nil {
		deps.BurnPasswordCheck = func(string) {}
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, string, error, func() map[string]string) {}
	}
	if deps.EmitRateLimit == nil {
		deps.EmitRateLimit = func(context.Context, string, func() map[string]string) {}
	}
	if deps.Warn == nil {
		deps.Warn = func(string, ...any) {}
	}
	if deps.Errors.Dependency == nil {
		deps.Errors.Dependency = func(_ string, err error) error { return err }
	}
}
