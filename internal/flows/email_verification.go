package flows

import (
	"context"
	"errors"
	"time"
)

// RegisterInput is the flow-local registration request.
type RegisterInput struct {
	Name            string
	Email           string
	Password        string
	ConfirmPassword string
}

type EmailVerificationMetrics struct {
	Registration             int
	RegistrationRateLimited  int
	EmailVerificationRequest int
	EmailVerificationSuccess int
	EmailVerificationFailure int
	EmailDeliveryFailure     int
}

type EmailVerificationEvents struct {
	Registration             string
	EmailVerificationRequest string
	EmailVerificationConfirm string
	EmailDeliveryFailure     string
}

type EmailVerificationErrors struct {
	EngineNotReady               error
	AccountExists                error
	RegistrationRateLimited      error
	EmailVerificationRateLimited error
	TokenInvalid                 error
	TokenExpired                 error
	UserNotFound                 error
	Validation                   func(message string, details []string) error
	Dependency                   func(op string, err error) error
}

type EmailVerificationDeps struct {
	TokenTTL   time.Duration
	TokenBytes int
	Strategy   ConsumeStrategy
	DefaultRole string

	ClientIPFromContext func(context.Context) string
	Now                 func() time.Time

	ValidateRequest     func(RegisterInput) error
	PasswordStrength    func(string) []string
	CheckRegistration   func(context.Context, string, string) error
	CheckConfirmLimiter func(context.Context, string) error
	IsRateLimited       func(error) bool

	GetUserByEmail    func(context.Context, string) (TokenUser, error)
	IsUserNotFound    func(error) bool
	CreateUser        func(context.Context, RegisterInput, string, string) (TokenUser, error)
	IsDuplicate       func(error) bool
	HashPassword      func(string) (string, error)
	MarkEmailVerified func(context.Context, string, time.Time) error

	GenerateToken   func(int) (string, error)
	HashToken       func(string) string
	CreateToken     func(context.Context, string, string, time.Time) error
	GetToken        func(context.Context, string) (TokenRecord, error)
	ConsumeToken    func(context.Context, string, ConsumeStrategy) error
	IsStoreNotFound func(error) bool

	SendVerificationEmail func(context.Context, TokenUser, string) error
	LogEmailFailure       func(context.Context, string, error)

	MetricInc     func(int)
	EmitAudit     func(context.Context, string, bool, string, string, error, func() map[string]string)
	EmitRateLimit func(context.Context, string, func() map[string]string)

	Metrics EmailVerificationMetrics
	Events  EmailVerificationEvents
	Errors  EmailVerificationErrors
}

// RunRegister creates an unverified account and mails a verification link.
func RunRegister(ctx context.Context, in RegisterInput, deps EmailVerificationDeps) (TokenUser, error) {
	normalizeEmailVerificationDeps(&deps)

	if deps.CreateUser == nil || deps.HashPassword == nil || deps.GenerateToken == nil ||
		deps.HashToken == nil || deps.CreateToken == nil {
		return TokenUser{}, deps.Errors.EngineNotReady
	}

	if err := deps.ValidateRequest(in); err != nil {
		return TokenUser{}, err
	}
	if problems := deps.PasswordStrength(in.Password); len(problems) > 0 {
		return TokenUser{}, deps.Errors.Validation("Password does not meet requirements", problems)
	}

	if err := deps.CheckRegistration(ctx, in.Email, deps.ClientIPFromContext(ctx)); err != nil {
		if deps.IsRateLimited(err) {
			deps.MetricInc(deps.Metrics.RegistrationRateLimited)
			deps.EmitRateLimit(ctx, "registration", func() map[string]string {
				return map[string]string{
					"identifier": in.Email,
				}
			})
			return TokenUser{}, deps.Errors.RegistrationRateLimited
		}
		return TokenUser{}, deps.Errors.Dependency("registration limiter", err)
	}

	hash, err := deps.HashPassword(in.Password)
	if err != nil {
		return TokenUser{}, deps.Errors.Dependency("hash password", err)
	}

	user, err := deps.CreateUser(ctx, in, hash, deps.DefaultRole)
	if err != nil {
		if deps.IsDuplicate(err) {
			deps.EmitAudit(ctx, deps.Events.Registration, false, "", "", deps.Errors.AccountExists, func() map[string]string {
				return map[string]string{
					"identifier": in.Email,
				}
			})
			return TokenUser{}, deps.Errors.AccountExists
		}
		return TokenUser{}, deps.Errors.Dependency("create user", err)
	}
	deps.MetricInc(deps.Metrics.Registration)
	deps.EmitAudit(ctx, deps.Events.Registration, true, user.ID, "", nil, nil)

	token, err := deps.GenerateToken(deps.TokenBytes)
	if err != nil {
		return user, deps.Errors.Dependency("generate verification token", err)
	}
	if err := deps.CreateToken(ctx, user.Email, deps.HashToken(token), deps.Now().Add(deps.TokenTTL)); err != nil {
		return user, deps.Errors.Dependency("store verification token", err)
	}
	deps.MetricInc(deps.Metrics.EmailVerificationRequest)

	if err := deps.SendVerificationEmail(ctx, user, token); err != nil {
		deps.LogEmailFailure(ctx, user.Email, err)
		deps.MetricInc(deps.Metrics.EmailDeliveryFailure)
		deps.EmitAudit(ctx, deps.Events.EmailDeliveryFailure, false, user.ID, "", err, func() map[string]string {
			return map[string]string{
				"template": "email_verification",
			}
		})
	}
	deps.EmitAudit(ctx, deps.Events.EmailVerificationRequest, true, user.ID, "", nil, nil)
	return user, nil
}

// RunCheckVerificationToken classifies token without changing state.
func RunCheckVerificationToken(ctx context.Context, token string, deps EmailVerificationDeps) (TokenOutcome, error) {
	normalizeEmailVerificationDeps(&deps)

	if deps.GetToken == nil || deps.HashToken == nil {
		return TokenOutcome{}, deps.Errors.EngineNotReady
	}
	return checkVerificationToken(ctx, token, deps)
}

func checkVerificationToken(ctx context.Context, token string, deps EmailVerificationDeps) (TokenOutcome, error) {
	ct, state, err := loadToken(ctx, token, deps.Strategy, deps.Now(), deps.storeOps())
	if err != nil {
		return TokenOutcome{}, deps.Errors.Dependency("load verification token", err)
	}
	switch state {
	case TokenMissing, TokenUsed:
		return TokenOutcome{Reason: deps.Errors.TokenInvalid}, nil
	case TokenExpired:
		return TokenOutcome{Reason: deps.Errors.TokenExpired, Email: ct.Record.Identifier}, nil
	}
	return TokenOutcome{Email: ct.Record.Identifier}, nil
}

// RunVerifyEmail consumes token and stamps the account as verified.
func RunVerifyEmail(ctx context.Context, token string, deps EmailVerificationDeps) (TokenOutcome, error) {
	normalizeEmailVerificationDeps(&deps)

	if deps.GetToken == nil || deps.HashToken == nil || deps.ConsumeToken == nil ||
		deps.GetUserByEmail == nil || deps.MarkEmailVerified == nil {
		return TokenOutcome{}, deps.Errors.EngineNotReady
	}

	if err := deps.CheckConfirmLimiter(ctx, deps.ClientIPFromContext(ctx)); err != nil {
		if deps.IsRateLimited(err) {
			deps.MetricInc(deps.Metrics.EmailVerificationFailure)
			deps.EmitRateLimit(ctx, "email_verification_confirm", nil)
			return TokenOutcome{}, deps.Errors.EmailVerificationRateLimited
		}
		return TokenOutcome{}, deps.Errors.Dependency("verification limiter", err)
	}

	outcome, err := checkVerificationToken(ctx, token, deps)
	if err != nil {
		return TokenOutcome{}, err
	}
	if outcome.Reason != nil {
		deps.MetricInc(deps.Metrics.EmailVerificationFailure)
		deps.EmitAudit(ctx, deps.Events.EmailVerificationConfirm, false, "", "", outcome.Reason, nil)
		return outcome, nil
	}

	user, err := deps.GetUserByEmail(ctx, outcome.Email)
	if err != nil {
		if deps.IsUserNotFound(err) {
			deps.MetricInc(deps.Metrics.EmailVerificationFailure)
			return TokenOutcome{Reason: deps.Errors.UserNotFound, Email: outcome.Email}, nil
		}
		return TokenOutcome{}, deps.Errors.Dependency("lookup user", err)
	}

	if err := deps.ConsumeToken(ctx, deps.HashToken(token), deps.Strategy); err != nil {
		if deps.IsStoreNotFound(err) {
			deps.MetricInc(deps.Metrics.EmailVerificationFailure)
			deps.EmitAudit(ctx, deps.Events.EmailVerificationConfirm, false, user.ID, "", deps.Errors.TokenInvalid, func() map[string]string {
				return map[string]string{
					"reason": "consumed_concurrently",
				}
			})
			return TokenOutcome{Reason: deps.Errors.TokenInvalid}, nil
		}
		return TokenOutcome{}, deps.Errors.Dependency("consume verification token", err)
	}

	if err := deps.MarkEmailVerified(ctx, user.ID, deps.Now().UTC()); err != nil {
		return TokenOutcome{}, deps.Errors.Dependency("mark email verified", err)
	}

	deps.MetricInc(deps.Metrics.EmailVerificationSuccess)
	deps.EmitAudit(ctx, deps.Events.EmailVerificationConfirm, true, user.ID, "", nil, nil)
	return TokenOutcome{Email: outcome.Email, User: &user}, nil
}

func (deps EmailVerificationDeps) storeOps() tokenStoreOps {
	return tokenStoreOps{
		GetToken:        deps.GetToken,
		ConsumeToken:    deps.ConsumeToken,
		IsStoreNotFound: deps.IsStoreNotFound,
		HashToken:       deps.HashToken,
	}
}

func normalizeEmailVerificationDeps(deps *EmailVerificationDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if !deps.Strategy.Valid() {
		deps.Strategy = ConsumeDelete
	}
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.ValidateRequest == nil {
		deps.ValidateRequest = func(RegisterInput) error { return nil }
	}
	if deps.PasswordStrength == nil {
		deps.PasswordStrength = func(string) []string { return nil }
	}
	if deps.CheckRegistration == nil {
		deps.CheckRegistration = func(context.Context, string, string) error { return nil }
	}
	if deps.CheckConfirmLimiter == nil {
		deps.CheckConfirmLimiter = func(context.Context, string) error { return nil }
	}
	if deps.IsRateLimited == nil {
		deps.IsRateLimited = func(error) bool { return false }
	}
	if deps.IsUserNotFound == nil {
		deps.IsUserNotFound = func(error) bool { return false }
	}
	if deps.IsDuplicate == nil {
		deps.IsDuplicate = func(error) bool { return false }
	}
	if deps.IsStoreNotFound == nil {
		deps.IsStoreNotFound = func(error) bool { return false }
	}
	if deps.SendVerificationEmail == nil {
		deps.SendVerificationEmail = func(context.Context, TokenUser, string) error { return nil }
	}
	if deps.LogEmailFailure == nil {
		deps.LogEmailFailure = func(context.Context, string, error) {}
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
	if deps.Errors.Validation == nil {
		deps.Errors.Validation = func(message string, _ []string) error { return errors.New(message) }
	}
	if deps.Errors.Dependency == nil {
		deps.Errors.Dependency = func(_ string, err error) error { return err }
	}
}
