package authcore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/indigoroots/authcore/email"
	"github.com/indigoroots/authcore/internal"
	internalflows "github.com/indigoroots/authcore/internal/flows"
	"github.com/indigoroots/authcore/internal/limiters"
	"github.com/indigoroots/authcore/permission"
	"github.com/indigoroots/authcore/store"
)

var verificationMessages = map[error]string{
	ErrTokenInvalid: "Invalid verification token",
	ErrTokenExpired: "Verification token has expired",
	ErrUserNotFound: "User not found",
}

// RegisterSuccessMessage is the confirmation shown after a successful sign-up.
const RegisterSuccessMessage = "Account created successfully! Please check your email to verify your account before signing in."

// Register creates an unverified account with the default role and mails a
// verification link. Invalid input returns a [*ValidationError]; a taken
// email returns [ErrAccountExists]. Email delivery failures are swallowed.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (RegisterResult, error) {
	if !e.ready() {
		return RegisterResult{}, ErrEngineNotReady
	}
	req.Email = strings.TrimSpace(req.Email)
	req.Name = strings.TrimSpace(req.Name)

	user, err := internalflows.RunRegister(ctx, internalflows.RegisterInput{
		Name:            req.Name,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	}, e.flows.EmailVerification)
	if err != nil {
		return RegisterResult{}, err
	}
	return RegisterResult{
		User:    TokenUser{ID: user.ID, Email: user.Email, Name: user.Name},
		Message: RegisterSuccessMessage,
	}, nil
}

// CheckVerificationToken classifies token without consuming it.
func (e *Engine) CheckVerificationToken(ctx context.Context, token string) (TokenCheck, error) {
	if !e.ready() {
		return TokenCheck{}, ErrEngineNotReady
	}
	outcome, err := internalflows.RunCheckVerificationToken(ctx, token, e.flows.EmailVerification)
	if err != nil {
		return TokenCheck{}, err
	}
	return tokenCheckFromOutcome(outcome, verificationMessages), nil
}

// VerifyEmail consumes token and marks the account verified. A second use
// of the same token reports "Invalid verification token". When enabled, a
// welcome email follows; its failure does not affect the result.
func (e *Engine) VerifyEmail(ctx context.Context, token string) (ConsumeResult, error) {
	if !e.ready() {
		return ConsumeResult{}, ErrEngineNotReady
	}
	outcome, err := internalflows.RunVerifyEmail(ctx, token, e.flows.EmailVerification)
	if err != nil {
		return ConsumeResult{}, err
	}
	if outcome.Reason == nil && outcome.User != nil && e.config.EmailVerification.SendWelcome {
		to := email.Recipient{Email: outcome.User.Email, Name: outcome.User.Name}
		if err := e.mailer.SendWelcome(ctx, to); err != nil {
			e.logEmailFailure("welcome")(ctx, to.Email, err)
			e.metricInc(MetricEmailDeliveryFailure)
			e.emitAudit(ctx, auditEventEmailDeliveryFailure, false, outcome.User.ID, "", err, func() map[string]string {
				return map[string]string{
					"template": "welcome",
				}
			})
		}
	}
	return consumeResultFromOutcome(outcome, verificationMessages), nil
}

func (e *Engine) emailVerificationFlowDeps() internalflows.EmailVerificationDeps {
	cfg := e.config

	deps := internalflows.EmailVerificationDeps{
		TokenTTL:            cfg.EmailVerification.TokenTTL,
		TokenBytes:          cfg.EmailVerification.TokenBytes,
		Strategy:            cfg.EmailVerification.Strategy.flow(),
		DefaultRole:         string(cfg.Registration.DefaultRole),
		ClientIPFromContext: clientIPFromContext,
		Now:                 e.now,
		ValidateRequest: func(in internalflows.RegisterInput) error {
			return ValidateRequest(RegisterRequest{
				Name:            in.Name,
				Email:           in.Email,
				Password:        in.Password,
				ConfirmPassword: in.ConfirmPassword,
			})
		},
		PasswordStrength: passwordProblems,
		IsRateLimited: func(err error) bool {
			return errors.Is(err, limiters.ErrAccountRateLimited) ||
				errors.Is(err, limiters.ErrVerificationRateLimited)
		},
		GetUserByEmail: e.tokenUserByEmail,
		IsUserNotFound: isStoreNotFound,
		CreateUser: func(ctx context.Context, in internalflows.RegisterInput, hash, role string) (internalflows.TokenUser, error) {
			u, err := e.users.CreateUser(ctx, store.NewUser{
				Email:        in.Email,
				Name:         in.Name,
				PasswordHash: hash,
				Role:         permission.Role(role),
			})
			if err != nil {
				return internalflows.TokenUser{}, err
			}
			return internalflows.TokenUser{ID: u.ID, Email: u.Email, Name: u.Name}, nil
		},
		IsDuplicate: func(err error) bool {
			return errors.Is(err, store.ErrDuplicate)
		},
		HashPassword: e.hasher.Hash,
		MarkEmailVerified: func(ctx context.Context, userID string, at time.Time) error {
			return e.users.MarkEmailVerified(ctx, userID, at)
		},
		GenerateToken: internal.NewToken,
		HashToken:     internal.HashToken,
		CreateToken: func(ctx context.Context, identifier, tokenHash string, expiresAt time.Time) error {
			return e.tokens.Create(ctx, e.newTokenRecord(store.KindEmailVerification, identifier, tokenHash, expiresAt))
		},
		GetToken:        e.tokenGetter(store.KindEmailVerification),
		ConsumeToken:    e.tokenConsumer(store.KindEmailVerification),
		IsStoreNotFound: isStoreNotFound,
		SendVerificationEmail: func(ctx context.Context, user internalflows.TokenUser, token string) error {
			return e.mailer.SendVerification(ctx, email.Recipient{Email: user.Email, Name: user.Name}, token)
		},
		LogEmailFailure: e.logEmailFailure("email_verification"),
		MetricInc:       e.flowMetricInc,
		EmitAudit:       e.emitAudit,
		EmitRateLimit:   e.emitRateLimit,
		Metrics: internalflows.EmailVerificationMetrics{
			Registration:             int(MetricRegistration),
			RegistrationRateLimited:  int(MetricRegistrationRateLimited),
			EmailVerificationRequest: int(MetricEmailVerificationRequest),
			EmailVerificationSuccess: int(MetricEmailVerificationSuccess),
			EmailVerificationFailure: int(MetricEmailVerificationFailure),
			EmailDeliveryFailure:     int(MetricEmailDeliveryFailure),
		},
		Events: internalflows.EmailVerificationEvents{
			Registration:             auditEventRegistration,
			EmailVerificationRequest: auditEventEmailVerificationRequest,
			EmailVerificationConfirm: auditEventEmailVerificationConfirm,
			EmailDeliveryFailure:     auditEventEmailDeliveryFailure,
		},
		Errors: internalflows.EmailVerificationErrors{
			EngineNotReady:               ErrEngineNotReady,
			AccountExists:                ErrAccountExists,
			RegistrationRateLimited:      ErrRegistrationRateLimited,
			EmailVerificationRateLimited: ErrEmailVerificationRateLimited,
			TokenInvalid:                 ErrTokenInvalid,
			TokenExpired:                 ErrTokenExpired,
			UserNotFound:                 ErrUserNotFound,
			Validation:                   newValidationError,
			Dependency:                   dependencyMapper(CodeEmailVerificationStoreFailed),
		},
	}

	if e.registrationLimiter != nil {
		deps.CheckRegistration = e.registrationLimiter.Enforce
	}
	if e.verificationLimiter != nil {
		deps.CheckConfirmLimiter = e.verificationLimiter.CheckConfirm
	}
	return deps
}
