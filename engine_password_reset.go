package authcore

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strconv"
	"time"

	"github.com/indigoroots/authcore/email"
	"github.com/indigoroots/authcore/internal"
	internalflows "github.com/indigoroots/authcore/internal/flows"
	"github.com/indigoroots/authcore/internal/limiters"
	"github.com/indigoroots/authcore/store"
)

var resetMessages = map[error]string{
	ErrTokenInvalid:   "Invalid token",
	ErrTokenUsed:      "Token has already been used",
	ErrTokenExpired:   "Token has expired",
	ErrUserNotFound:   "User not found",
	ErrPasswordPolicy: "Password does not meet requirements",
}

// RequestPasswordReset mails a fresh reset link to email when an account
// exists. It returns nil for unknown addresses, so callers cannot tell the
// two cases apart. Any earlier reset token for the address stops working.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return internalflows.RunRequestPasswordReset(ctx, email, e.flows.PasswordReset)
}

// ValidateResetToken classifies token without consuming it. The returned
// error is non-nil only when a dependency fails.
func (e *Engine) ValidateResetToken(ctx context.Context, token string) (TokenCheck, error) {
	if !e.ready() {
		return TokenCheck{}, ErrEngineNotReady
	}
	outcome, err := internalflows.RunValidateResetToken(ctx, token, e.flows.PasswordReset)
	if err != nil {
		return TokenCheck{}, err
	}
	return tokenCheckFromOutcome(outcome, resetMessages), nil
}

// ResetPassword consumes token and replaces the account password. The token
// is burnt before the new hash is written.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) (ConsumeResult, error) {
	if !e.ready() {
		return ConsumeResult{}, ErrEngineNotReady
	}
	outcome, err := internalflows.RunResetPassword(ctx, token, newPassword, e.flows.PasswordReset)
	if err != nil {
		return ConsumeResult{}, err
	}
	return consumeResultFromOutcome(outcome, resetMessages), nil
}

// CleanupExpiredTokens deletes expired reset and verification rows. Failures
// are logged and reported in the result, never returned.
func (e *Engine) CleanupExpiredTokens(ctx context.Context) CleanupReport {
	var report CleanupReport
	if !e.ready() {
		report.Errors = append(report.Errors, ErrEngineNotReady.Error())
		return report
	}

	now := e.now().UTC()
	for _, kind := range store.Kinds() {
		n, err := e.tokens.DeleteExpired(ctx, kind, now)
		if err != nil {
			e.log.Error().Err(err).Str("kind", string(kind)).Msg("token cleanup failed")
			report.Errors = append(report.Errors, string(kind)+": "+err.Error())
			continue
		}
		switch kind {
		case store.KindPasswordReset:
			report.PasswordResets = n
		case store.KindEmailVerification:
			report.VerificationTokens = n
		}
		if n > 0 {
			e.metrics.Add(MetricTokensCleaned, uint64(n))
		}
	}

	e.log.Info().
		Int64("password_resets", report.PasswordResets).
		Int64("verification_tokens", report.VerificationTokens).
		Msg("expired tokens cleaned up")
	e.emitAudit(ctx, auditEventTokenCleanup, len(report.Errors) == 0, "", "", nil, func() map[string]string {
		return map[string]string{
			"password_resets":     strconv.FormatInt(report.PasswordResets, 10),
			"verification_tokens": strconv.FormatInt(report.VerificationTokens, 10),
		}
	})
	return report
}

func (e *Engine) passwordResetFlowDeps() internalflows.PasswordResetDeps {
	cfg := e.config

	deps := internalflows.PasswordResetDeps{
		TokenTTL:            cfg.PasswordReset.TokenTTL,
		TokenBytes:          cfg.PasswordReset.TokenBytes,
		Strategy:            cfg.PasswordReset.Strategy.flow(),
		ClientIPFromContext: clientIPFromContext,
		Now:                 e.now,
		IsRateLimited: func(err error) bool {
			return errors.Is(err, limiters.ErrResetRateLimited)
		},
		GetUserByEmail: e.tokenUserByEmail,
		IsUserNotFound: isStoreNotFound,
		HashPassword:   e.hasher.Hash,
		UpdatePasswordHash: func(ctx context.Context, userID, hash string) error {
			return e.users.UpdatePasswordHash(ctx, userID, hash)
		},
		PasswordStrength: passwordProblems,
		GenerateToken:    internal.NewToken,
		HashToken:        internal.HashToken,
		ReplaceToken: func(ctx context.Context, identifier, tokenHash string, expiresAt time.Time) error {
			return e.tokens.Replace(ctx, e.newTokenRecord(store.KindPasswordReset, identifier, tokenHash, expiresAt))
		},
		GetToken:        e.tokenGetter(store.KindPasswordReset),
		ConsumeToken:    e.tokenConsumer(store.KindPasswordReset),
		IsStoreNotFound: isStoreNotFound,
		SendResetEmail: func(ctx context.Context, user internalflows.TokenUser, token string) error {
			return e.mailer.SendPasswordReset(ctx, email.Recipient{Email: user.Email, Name: user.Name}, token)
		},
		SleepEnumerationDelay: e.sleepEnumerationDelay,
		LogEmailFailure:       e.logEmailFailure("password_reset"),
		MetricInc:             e.flowMetricInc,
		EmitAudit:             e.emitAudit,
		EmitRateLimit:         e.emitRateLimit,
		Metrics: internalflows.PasswordResetMetrics{
			PasswordResetRequest:        int(MetricPasswordResetRequest),
			PasswordResetConfirmSuccess: int(MetricPasswordResetConfirmSuccess),
			PasswordResetConfirmFailure: int(MetricPasswordResetConfirmFailure),
			PasswordResetReplay:         int(MetricPasswordResetReplay),
			EmailDeliveryFailure:        int(MetricEmailDeliveryFailure),
		},
		Events: internalflows.PasswordResetEvents{
			PasswordResetRequest: auditEventPasswordResetRequest,
			PasswordResetConfirm: auditEventPasswordResetConfirm,
			PasswordResetReplay:  auditEventPasswordResetReplay,
			EmailDeliveryFailure: auditEventEmailDeliveryFailure,
		},
		Errors: internalflows.PasswordResetErrors{
			EngineNotReady:           ErrEngineNotReady,
			PasswordResetRateLimited: ErrPasswordResetRateLimited,
			TokenInvalid:             ErrTokenInvalid,
			TokenUsed:                ErrTokenUsed,
			TokenExpired:             ErrTokenExpired,
			UserNotFound:             ErrUserNotFound,
			PasswordPolicy:           ErrPasswordPolicy,
			Dependency:               dependencyMapper(CodePasswordResetStoreFailed),
		},
	}

	if e.resetLimiter != nil {
		deps.CheckRequestLimiter = e.resetLimiter.CheckRequest
		deps.CheckConfirmLimiter = e.resetLimiter.CheckConfirm
	}
	return deps
}

// sleepEnumerationDelay waits a uniformly random duration in the configured
// range so unknown-email requests take about as long as real ones.
func (e *Engine) sleepEnumerationDelay(ctx context.Context) error {
	lo := e.config.PasswordReset.EnumerationDelayMin
	hi := e.config.PasswordReset.EnumerationDelayMax
	d := lo
	if span := hi - lo; span > 0 {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(span)+1))
		if err != nil {
			return err
		}
		d += time.Duration(n.Int64())
	}
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

/*
====================================
SHARED TOKEN PLUMBING
====================================
*/

func (s ConsumeStrategy) flow() internalflows.ConsumeStrategy {
	switch s {
	case ConsumeDelete:
		return internalflows.ConsumeDelete
	case ConsumeMarkUsed:
		return internalflows.ConsumeMarkUsed
	default:
		return 0
	}
}

func (e *Engine) newTokenRecord(kind store.Kind, identifier, tokenHash string, expiresAt time.Time) store.TokenRecord {
	return store.TokenRecord{
		ID:         store.NewID(),
		Kind:       kind,
		Identifier: identifier,
		TokenHash:  tokenHash,
		ExpiresAt:  expiresAt.UTC(),
		CreatedAt:  e.now().UTC(),
	}
}

func (e *Engine) tokenGetter(kind store.Kind) func(context.Context, string) (internalflows.TokenRecord, error) {
	return func(ctx context.Context, tokenHash string) (internalflows.TokenRecord, error) {
		rec, err := e.tokens.Get(ctx, kind, tokenHash)
		if err != nil {
			return internalflows.TokenRecord{}, err
		}
		return internalflows.TokenRecord{
			Identifier: rec.Identifier,
			ExpiresAt:  rec.ExpiresAt,
			Used:       rec.Used,
		}, nil
	}
}

func (e *Engine) tokenConsumer(kind store.Kind) func(context.Context, string, internalflows.ConsumeStrategy) error {
	return func(ctx context.Context, tokenHash string, strategy internalflows.ConsumeStrategy) error {
		if strategy == internalflows.ConsumeDelete {
			return e.tokens.Delete(ctx, kind, tokenHash)
		}
		return e.tokens.MarkUsed(ctx, kind, tokenHash)
	}
}

func (e *Engine) tokenUserByEmail(ctx context.Context, email string) (internalflows.TokenUser, error) {
	u, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		return internalflows.TokenUser{}, err
	}
	return internalflows.TokenUser{ID: u.ID, Email: u.Email, Name: u.Name}, nil
}

func (e *Engine) logEmailFailure(template string) func(context.Context, string, error) {
	return func(_ context.Context, to string, err error) {
		e.log.Error().Err(err).Str("template", template).Str("to", MaskEmail(to)).Msg("email delivery failed")
	}
}

func isStoreNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func isDeliveryError(err error) bool {
	return errors.Is(err, email.ErrDelivery)
}

func tokenCheckFromOutcome(o internalflows.TokenOutcome, messages map[error]string) TokenCheck {
	check := TokenCheck{
		Valid:  o.Reason == nil,
		Reason: o.Reason,
		Email:  o.Email,
	}
	if o.Reason != nil {
		check.Error = messages[o.Reason]
	}
	if o.User != nil {
		check.User = &TokenUser{ID: o.User.ID, Email: o.User.Email, Name: o.User.Name}
	}
	return check
}

func consumeResultFromOutcome(o internalflows.TokenOutcome, messages map[error]string) ConsumeResult {
	res := ConsumeResult{
		Success: o.Reason == nil,
		Reason:  o.Reason,
		Email:   o.Email,
		Details: o.PolicyErrors,
	}
	if o.Reason != nil {
		res.Error = messages[o.Reason]
	}
	return res
}
