package authcore

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/indigoroots/authcore/email"
	internalaudit "github.com/indigoroots/authcore/internal/audit"
	internalflows "github.com/indigoroots/authcore/internal/flows"
	"github.com/indigoroots/authcore/internal/limiters"
	"github.com/indigoroots/authcore/internal/rate"
	"github.com/indigoroots/authcore/jwt"
	"github.com/indigoroots/authcore/password"
	"github.com/indigoroots/authcore/store"
)

// Engine runs the sign-in, session, password-reset and email-verification
// lifecycles. It is created by [Builder.Build] and is safe for concurrent use.
type Engine struct {
	config Config

	users  store.UserStore
	tokens store.TokenStore

	hasher    *password.Bcrypt
	dummyHash string
	jwt       *jwt.Manager

	rateLimiter         *rate.Limiter
	resetLimiter        *limiters.PasswordResetLimiter
	verificationLimiter *limiters.EmailVerificationLimiter
	registrationLimiter *limiters.RegistrationLimiter

	flows internalflows.Deps

	mailer  *email.Mailer
	audit   *internalaudit.Dispatcher
	metrics *Metrics
	log     zerolog.Logger
	clock   func() time.Time
}

// Close drains and stops the audit dispatcher. The engine must not be used
// afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped reports how many audit events were discarded because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Metrics exposes the live counters for exporters.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

// Config returns a copy of the configuration the engine was built with.
func (e *Engine) Config() Config {
	if e == nil {
		return defaultConfig()
	}
	return cloneConfig(e.config)
}

// ready reports whether the engine was produced by Build.
func (e *Engine) ready() bool {
	return e != nil && e.users != nil && e.tokens != nil && e.hasher != nil && e.jwt != nil
}

// buildFlowDeps wires every flow once all collaborators are set.
func (e *Engine) buildFlowDeps() internalflows.Deps {
	return internalflows.Deps{
		Login:             e.loginFlowDeps(),
		Session:           e.sessionFlowDeps(),
		PasswordReset:     e.passwordResetFlowDeps(),
		EmailVerification: e.emailVerificationFlowDeps(),
	}
}
