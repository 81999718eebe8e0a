package authcore

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/indigoroots/authcore/email"
	internalaudit "github.com/indigoroots/authcore/internal/audit"
	"github.com/indigoroots/authcore/internal/limiters"
	"github.com/indigoroots/authcore/internal/rate"
	"github.com/indigoroots/authcore/jwt"
	"github.com/indigoroots/authcore/password"
	"github.com/indigoroots/authcore/store"
)

// Builder assembles an [Engine]. Configure it during initialization, call
// Build once, and discard it.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users  store.UserStore
	tokens store.TokenStore

	sender    email.Sender
	auditSink AuditSink
	log       zerolog.Logger
	clock     func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
		log:    zerolog.Nop(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets a backend that persists both users and token records.
func (b *Builder) WithStore(s interface {
	store.UserStore
	store.TokenStore
}) *Builder {
	b.users = s
	b.tokens = s
	return b
}

func (b *Builder) WithUserStore(s store.UserStore) *Builder {
	b.users = s
	return b
}

func (b *Builder) WithTokenStore(s store.TokenStore) *Builder {
	b.tokens = s
	return b
}

// WithRedis enables the Redis-backed rate limiters. Without it every
// throttle setting is ignored.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithEmailSender sets the transport for account emails. The default logs
// messages instead of delivering them.
func (b *Builder) WithEmailSender(sender email.Sender) *Builder {
	b.sender = sender
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(log zerolog.Logger) *Builder {
	b.log = log
	return b
}

// WithClock overrides time.Now. It is meant for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine. A Builder can be
// built only once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}
	if b.tokens == nil {
		return nil, errors.New("token store required")
	}

	log := b.log.With().Str("component", "authcore").Logger()

	engine := &Engine{
		config: cfg,
		users:  b.users,
		tokens: b.tokens,
		log:    log,
		clock:  b.clock,
	}

	// -------- HASHING --------
	hasher, err := password.NewBcrypt(password.Config{Cost: cfg.Password.Cost})
	if err != nil {
		return nil, err
	}
	engine.hasher = hasher
	// Unknown-user logins compare against this so both branches pay for bcrypt.
	engine.dummyHash, err = hasher.Hash("authcore-timing-equalizer")
	if err != nil {
		return nil, err
	}

	// -------- SESSION SIGNING --------
	jcfg := jwt.Config{
		MaxLifetime:   cfg.Session.MaxLifetime,
		SigningMethod: jwt.SigningMethod(cfg.Session.SigningMethod),
		Issuer:        cfg.Session.Issuer,
		Audience:      cfg.Session.Audience,
		Leeway:        cfg.Session.Leeway,
	}
	if jcfg.SigningMethod == jwt.MethodHS256 {
		jcfg.PrivateKey = []byte(cfg.Session.Secret)
	} else {
		jcfg.PrivateKey = cloneBytes(cfg.Session.PrivateKey)
		jcfg.PublicKey = cloneBytes(cfg.Session.PublicKey)
	}
	jm, err := jwt.NewManager(jcfg)
	if err != nil {
		return nil, err
	}
	engine.jwt = jm

	// -------- RATE LIMITERS --------
	if b.redis != nil {
		if cfg.Security.EnableLoginThrottle {
			engine.rateLimiter = rate.New(b.redis, rate.Config{
				EnableIPThrottle:      cfg.Security.EnableIPThrottle,
				MaxLoginAttempts:      cfg.Security.MaxLoginAttempts,
				LoginCooldownDuration: cfg.Security.LoginCooldownDuration,
			})
		}
		if cfg.PasswordReset.EnableIdentifierThrottle || cfg.PasswordReset.EnableIPThrottle {
			engine.resetLimiter = limiters.NewPasswordResetLimiter(b.redis, limiters.PasswordResetConfig{
				EnableIdentifierThrottle: cfg.PasswordReset.EnableIdentifierThrottle,
				EnableIPThrottle:         cfg.PasswordReset.EnableIPThrottle,
				Window:                   cfg.PasswordReset.ThrottleWindow,
				MaxRequests:              cfg.PasswordReset.MaxRequests,
				MaxConfirmAttempts:       cfg.PasswordReset.MaxConfirmAttempts,
			})
		}
		if cfg.EmailVerification.EnableIPThrottle {
			engine.verificationLimiter = limiters.NewEmailVerificationLimiter(b.redis, limiters.EmailVerificationConfig{
				EnableIPThrottle: true,
				Window:           cfg.EmailVerification.ThrottleWindow,
				MaxAttempts:      cfg.EmailVerification.MaxAttempts,
			})
		}
		if cfg.Registration.EnableIdentifierThrottle || cfg.Registration.EnableIPThrottle {
			engine.registrationLimiter = limiters.NewRegistrationLimiter(b.redis, limiters.AccountConfig{
				EnableIdentifierThrottle: cfg.Registration.EnableIdentifierThrottle,
				EnableIPThrottle:         cfg.Registration.EnableIPThrottle,
				MaxAttempts:              cfg.Registration.MaxAttempts,
				Cooldown:                 cfg.Registration.Cooldown,
			})
		}
	}

	// -------- EMAIL --------
	sender := b.sender
	if sender == nil {
		sender = email.NewLogSender(log)
	}
	mailer, err := email.NewMailer(sender, email.Config{
		From:         cfg.Email.From,
		SiteURL:      cfg.Email.SiteURL,
		AppName:      cfg.Email.AppName,
		ResetPath:    cfg.Email.ResetPath,
		VerifyPath:   cfg.Email.VerifyPath,
		ResetTTL:     cfg.PasswordReset.TokenTTL,
		VerifyTTL:    cfg.EmailVerification.TokenTTL,
		SendAttempts: cfg.Email.SendAttempts,
	}, log)
	if err != nil {
		return nil, err
	}
	engine.mailer = mailer

	// -------- AUDIT AND METRICS --------
	sink := b.auditSink
	if sink == nil {
		sink = NewZerologSink(log)
	}
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		OnDrop: func(total uint64) {
			if total == 1 || total%1000 == 0 {
				log.Warn().Uint64("dropped_total", total).Msg("audit buffer full, dropping events")
			}
		},
	}, sink)
	engine.metrics = NewMetrics(cfg.Metrics)
	engine.flows = engine.buildFlowDeps()

	b.built = true
	return engine, nil
}
