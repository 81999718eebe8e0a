package flows

import (
	"context"
	"errors"
	"time"
)

type PasswordResetMetrics struct {
	PasswordResetRequest        int
	PasswordResetConfirmSuccess int
	PasswordResetConfirmFailure int
	PasswordResetReplay         int
	EmailDeliveryFailure        int
}

type PasswordResetEvents struct {
	PasswordResetRequest string
	PasswordResetConfirm string
	PasswordResetReplay  string
	EmailDeliveryFailure string
}

type PasswordResetErrors struct {
	EngineNotReady           error
	PasswordResetRateLimited error
	TokenInvalid             error
	TokenUsed                error
	TokenExpired             error
	UserNotFound             error
	PasswordPolicy           error
	Dependency               func(op string, err error) error
}

type PasswordResetDeps struct {
	TokenTTL   time.Duration
	TokenBytes int
	Strategy   ConsumeStrategy

	ClientIPFromContext func(context.Context) string
	Now                 func() time.Time

	CheckRequestLimiter func(context.Context, string, string) error
	CheckConfirmLimiter func(context.Context, string) error
	IsRateLimited       func(error) bool

	GetUserByEmail     func(context.Context, string) (TokenUser, error)
	IsUserNotFound     func(error) bool
	HashPassword       func(string) (string, error)
	UpdatePasswordHash func(context.Context, string, string) error
	PasswordStrength   func(string) []string

	GenerateToken func(int) (string, error)
	HashToken     func(string) string
	ReplaceToken  func(context.Context, string, string, time.Time) error
	GetToken      func(context.Context, string) (TokenRecord, error)
	ConsumeToken  func(context.Context, string, ConsumeStrategy) error
	IsStoreNotFound func(error) bool

	SendResetEmail        func(context.Context, TokenUser, string) error
	SleepEnumerationDelay func(context.Context) error
	LogEmailFailure       func(context.Context, string, error)

	MetricInc     func(int)
	EmitAudit     func(context.Context, string, bool, string, string, error, func() map[string]string)
	EmitRateLimit func(context.Context, string, func() map[string]string)

	Metrics PasswordResetMetrics
	Events  PasswordResetEvents
	Errors  PasswordResetErrors
}

// RunRequestPasswordReset mints and mails a reset token for email. An unknown
// email is indistinguishable from a known one to the caller.
func RunRequestPasswordReset(ctx context.Context, email string, deps PasswordResetDeps) error {
	normalizePasswordResetDeps(&deps)

	if deps.GetUserByEmail == nil || deps.GenerateToken == nil || deps.ReplaceToken == nil || deps.HashToken == nil {
		return deps.Errors.EngineNotReady
	}

	ip := deps.ClientIPFromContext(ctx)
	if err := deps.CheckRequestLimiter(ctx, email, ip); err != nil {
		if deps.IsRateLimited(err) {
			deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, false, "", "", deps.Errors.PasswordResetRateLimited, func() map[string]string {
				return map[string]string{
					"identifier": email,
				}
			})
			deps.EmitRateLimit(ctx, "password_reset_request", func() map[string]string {
				return map[string]string{
					"identifier": email,
				}
			})
			return deps.Errors.PasswordResetRateLimited
		}
		return deps.Errors.Dependency("password reset limiter", err)
	}

	user, err := deps.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if !deps.IsUserNotFound(err) {
			return deps.Errors.Dependency("lookup user", err)
		}
		if sleepErr := deps.SleepEnumerationDelay(ctx); sleepErr != nil {
			return sleepErr
		}
		deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, true, "", "", nil, func() map[string]string {
			return map[string]string{
				"identifier":       email,
				"enumeration_safe": "true",
			}
		})
		deps.MetricInc(deps.Metrics.PasswordResetRequest)
		return nil
	}

	token, err := deps.GenerateToken(deps.TokenBytes)
	if err != nil {
		return deps.Errors.Dependency("generate reset token", err)
	}
	expiresAt := deps.Now().Add(deps.TokenTTL)
	if err := deps.ReplaceToken(ctx, email, deps.HashToken(token), expiresAt); err != nil {
		mapped := deps.Errors.Dependency("store reset token", err)
		deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, false, user.ID, "", mapped, func() map[string]string {
			return map[string]string{
				"identifier": email,
			}
		})
		return mapped
	}

	if err := deps.SendResetEmail(ctx, user, token); err != nil {
		deps.LogEmailFailure(ctx, email, err)
		deps.MetricInc(deps.Metrics.EmailDeliveryFailure)
		deps.EmitAudit(ctx, deps.Events.EmailDeliveryFailure, false, user.ID, "", err, func() map[string]string {
			return map[string]string{
				"template": "password_reset",
			}
		})
	}

	deps.EmitAudit(ctx, deps.Events.PasswordResetRequest, true, user.ID, "", nil, func() map[string]string {
		return map[string]string{
			"identifier": email,
		}
	})
	deps.MetricInc(deps.Metrics.PasswordResetRequest)
	return nil
}

// RunValidateResetToken classifies token without changing state. The checks
// run in order: missing, used, expired, user missing.
func RunValidateResetToken(ctx context.Context, token string, deps PasswordResetDeps) (TokenOutcome, error) {
	normalizePasswordResetDeps(&deps)

	if deps.GetToken == nil || deps.HashToken == nil || deps.GetUserByEmail == nil {
		return TokenOutcome{}, deps.Errors.EngineNotReady
	}
	return validateResetToken(ctx, token, deps)
}

func validateResetToken(ctx context.Context, token string, deps PasswordResetDeps) (TokenOutcome, error) {
	ct, state, err := loadToken(ctx, token, deps.Strategy, deps.Now(), deps.storeOps())
	if err != nil {
		return TokenOutcome{}, deps.Errors.Dependency("load reset token", err)
	}
	switch state {
	case TokenMissing:
		return TokenOutcome{Reason: deps.Errors.TokenInvalid}, nil
	case TokenUsed:
		return TokenOutcome{Reason: deps.Errors.TokenUsed, Email: ct.Record.Identifier}, nil
	case TokenExpired:
		return TokenOutcome{Reason: deps.Errors.TokenExpired, Email: ct.Record.Identifier}, nil
	}

	user, err := deps.GetUserByEmail(ctx, ct.Record.Identifier)
	if err != nil {
		if deps.IsUserNotFound(err) {
			return TokenOutcome{Reason: deps.Errors.UserNotFound, Email: ct.Record.Identifier}, nil
		}
		return TokenOutcome{}, deps.Errors.Dependency("lookup user", err)
	}
	return TokenOutcome{Email: ct.Record.Identifier, User: &user}, nil
}

// RunResetPassword consumes token and sets a new password. The token is
// consumed before the hash is written, so a failure after consumption leaves
// the token burnt.
func RunResetPassword(ctx context.Context, token, newPassword string, deps PasswordResetDeps) (TokenOutcome, error) {
	normalizePasswordResetDeps(&deps)

	if deps.GetToken == nil || deps.HashToken == nil || deps.GetUserByEmail == nil ||
		deps.ConsumeToken == nil || deps.HashPassword == nil || deps.UpdatePasswordHash == nil {
		return TokenOutcome{}, deps.Errors.EngineNotReady
	}

	if problems := deps.PasswordStrength(newPassword); len(problems) > 0 {
		deps.MetricInc(deps.Metrics.PasswordResetConfirmFailure)
		return TokenOutcome{Reason: deps.Errors.PasswordPolicy, PolicyErrors: problems}, nil
	}

	if err := deps.CheckConfirmLimiter(ctx, deps.ClientIPFromContext(ctx)); err != nil {
		if deps.IsRateLimited(err) {
			deps.MetricInc(deps.Metrics.PasswordResetConfirmFailure)
			deps.EmitRateLimit(ctx, "password_reset_confirm", nil)
			return TokenOutcome{}, deps.Errors.PasswordResetRateLimited
		}
		return TokenOutcome{}, deps.Errors.Dependency("password reset limiter", err)
	}

	outcome, err := validateResetToken(ctx, token, deps)
	if err != nil {
		return TokenOutcome{}, err
	}
	if outcome.Reason != nil {
		deps.MetricInc(deps.Metrics.PasswordResetConfirmFailure)
		deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, false, "", "", outcome.Reason, nil)
		return outcome, nil
	}
	user := outcome.User

	newHash, err := deps.HashPassword(newPassword)
	if err != nil {
		deps.MetricInc(deps.Metrics.PasswordResetConfirmFailure)
		return TokenOutcome{}, deps.Errors.Dependency("hash password", err)
	}

	if err := deps.ConsumeToken(ctx, deps.HashToken(token), deps.Strategy); err != nil {
		if deps.IsStoreNotFound(err) {
			// Another request consumed the token between validation and here.
			deps.MetricInc(deps.Metrics.PasswordResetReplay)
			deps.MetricInc(deps.Metrics.PasswordResetConfirmFailure)
			deps.EmitAudit(ctx, deps.Events.PasswordResetReplay, false, user.ID, "", deps.Errors.TokenUsed, nil)
			return TokenOutcome{Reason: deps.Errors.TokenUsed, Email: outcome.Email}, nil
		}
		deps.MetricInc(deps.Metrics.PasswordResetConfirmFailure)
		return TokenOutcome{}, deps.Errors.Dependency("consume reset token", err)
	}

	if err := deps.UpdatePasswordHash(ctx, user.ID, newHash); err != nil {
		mapped := deps.Errors.Dependency("update password", err)
		deps.MetricInc(deps.Metrics.PasswordResetConfirmFailure)
		deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, false, user.ID, "", mapped, func() map[string]string {
			return map[string]string{
				"reason": "update_hash_failed",
			}
		})
		return TokenOutcome{}, mapped
	}

	deps.MetricInc(deps.Metrics.PasswordResetConfirmSuccess)
	deps.EmitAudit(ctx, deps.Events.PasswordResetConfirm, true, user.ID, "", nil, nil)
	return outcome, nil
}

func (deps PasswordResetDeps) storeOps() tokenStoreOps {
	return tokenStoreOps{
		GetToken:        deps.GetToken,
		ConsumeToken:    deps.ConsumeToken,
		IsStoreNotFound: deps.IsStoreNotFound,
		HashToken:       deps.HashToken,
	}
}

func normalizePasswordResetDeps(deps *PasswordResetDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if !deps.Strategy.Valid() {
		deps.Strategy = ConsumeMarkUsed
	}
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.CheckRequestLimiter == nil {
		deps.CheckRequestLimiter = func(context.Context, string, string) error { return nil }
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
	if deps.IsStoreNotFound == nil {
		deps.IsStoreNotFound = func(error) bool { return false }
	}
	if deps.PasswordStrength == nil {
		deps.PasswordStrength = func(string) []string { return nil }
	}
	if deps.SendResetEmail == nil {
		deps.SendResetEmail = func(context.Context, TokenUser, string) error { return nil }
	}
	if deps.SleepEnumerationDelay == nil {
		deps.SleepEnumerationDelay = func(context.Context) error { return nil }
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
	if deps.Errors.Dependency == nil {
		deps.Errors.Dependency = func(_ string, err error) error { return err }
	}
}
