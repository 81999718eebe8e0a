package authcore

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/indigoroots/authcore/permission"
)

// Config is the full engine configuration. Start from [DefaultConfig] and
// override fields, or load it with [LoadConfigFromEnv].
//
// Config values are copied into the Engine at Build time and treated as
// immutable afterwards.
type Config struct {
	Session           SessionConfig
	Password          PasswordConfig
	PasswordReset     PasswordResetConfig
	EmailVerification EmailVerificationConfig
	Registration      RegistrationConfig
	Email             EmailConfig
	Security          SecurityConfig
	Audit             AuditConfig
	Metrics           MetricsConfig
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls signed session claims.
type SessionConfig struct {
	// MaxLifetime is the fixed lifetime of every session. Remember-me only
	// controls whether the cookie outlives the browser.
	MaxLifetime time.Duration `env:"SESSION_MAX_LIFETIME, overwrite"`
	// RememberMeThreshold classifies legacy sessions without an explicit
	// remember-me claim: more remaining lifetime than this counts as remembered.
	RememberMeThreshold time.Duration `env:"SESSION_REMEMBER_ME_THRESHOLD, overwrite"`
	// ExpiringSoonWindow bounds [SessionInfo.IsExpiringSoon].
	ExpiringSoonWindow time.Duration `env:"SESSION_EXPIRING_SOON_WINDOW, overwrite"`
	SigningMethod      string        `env:"SESSION_SIGNING_METHOD, overwrite"` // "hs256" (default) or "ed25519"
	Secret             string        `env:"SESSION_SECRET, overwrite"`
	PrivateKey         []byte
	PublicKey          []byte
	Issuer             string        `env:"SESSION_ISSUER, overwrite"`
	Audience           string        `env:"SESSION_AUDIENCE, overwrite"`
	Leeway             time.Duration `env:"SESSION_LEEWAY, overwrite"`
	CookieName         string        `env:"SESSION_COOKIE_NAME, overwrite"`
	SecureCookies      bool          `env:"SESSION_SECURE_COOKIES, overwrite"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

type PasswordConfig struct {
	Cost           int  `env:"PASSWORD_BCRYPT_COST, overwrite"`
	UpgradeOnLogin bool `env:"PASSWORD_UPGRADE_ON_LOGIN, overwrite"`
}

// ConsumeStrategy selects how a single-use token is retired.
type ConsumeStrategy string

const (
	// ConsumeMarkUsed keeps the row and flips its used flag.
	ConsumeMarkUsed ConsumeStrategy = "mark_used"
	// ConsumeDelete removes the row.
	ConsumeDelete ConsumeStrategy = "delete"
)

func (s ConsumeStrategy) valid() bool {
	return s == ConsumeMarkUsed || s == ConsumeDelete
}

// PasswordResetConfig controls the password-reset token lifecycle.
type PasswordResetConfig struct {
	TokenTTL                 time.Duration   `env:"PASSWORD_RESET_TTL, overwrite"`
	TokenBytes               int             `env:"PASSWORD_RESET_TOKEN_BYTES, overwrite"`
	Strategy                 ConsumeStrategy `env:"PASSWORD_RESET_STRATEGY, overwrite"`
	EnableIdentifierThrottle bool            `env:"PASSWORD_RESET_IDENTIFIER_THROTTLE, overwrite"`
	EnableIPThrottle         bool            `env:"PASSWORD_RESET_IP_THROTTLE, overwrite"`
	ThrottleWindow           time.Duration   `env:"PASSWORD_RESET_THROTTLE_WINDOW, overwrite"`
	MaxRequests              int             `env:"PASSWORD_RESET_MAX_REQUESTS, overwrite"`
	MaxConfirmAttempts       int             `env:"PASSWORD_RESET_MAX_CONFIRM_ATTEMPTS, overwrite"`
	// Unknown emails sleep a random duration in this range before returning.
	EnumerationDelayMin time.Duration `env:"PASSWORD_RESET_ENUMERATION_DELAY_MIN, overwrite"`
	EnumerationDelayMax time.Duration `env:"PASSWORD_RESET_ENUMERATION_DELAY_MAX, overwrite"`
}

// EmailVerificationConfig controls the email-verification token lifecycle.
type EmailVerificationConfig struct {
	TokenTTL         time.Duration   `env:"EMAIL_VERIFICATION_TTL, overwrite"`
	TokenBytes       int             `env:"EMAIL_VERIFICATION_TOKEN_BYTES, overwrite"`
	Strategy         ConsumeStrategy `env:"EMAIL_VERIFICATION_STRATEGY, overwrite"`
	RequireForLogin  bool            `env:"EMAIL_VERIFICATION_REQUIRED_FOR_LOGIN, overwrite"`
	EnableIPThrottle bool            `env:"EMAIL_VERIFICATION_IP_THROTTLE, overwrite"`
	ThrottleWindow   time.Duration   `env:"EMAIL_VERIFICATION_THROTTLE_WINDOW, overwrite"`
	MaxAttempts      int             `env:"EMAIL_VERIFICATION_MAX_ATTEMPTS, overwrite"`
	SendWelcome      bool            `env:"EMAIL_VERIFICATION_SEND_WELCOME, overwrite"`
}

// RegistrationConfig controls self-service sign-up.
type RegistrationConfig struct {
	DefaultRole              permission.Role `env:"REGISTRATION_DEFAULT_ROLE, overwrite"`
	EnableIdentifierThrottle bool            `env:"REGISTRATION_IDENTIFIER_THROTTLE, overwrite"`
	EnableIPThrottle         bool            `env:"REGISTRATION_IP_THROTTLE, overwrite"`
	MaxAttempts              int             `env:"REGISTRATION_MAX_ATTEMPTS, overwrite"`
	Cooldown                 time.Duration   `env:"REGISTRATION_COOLDOWN, overwrite"`
}

// EmailConfig controls outgoing mail content and links.
type EmailConfig struct {
	From         string `env:"EMAIL_FROM, overwrite"`
	SiteURL      string `env:"SITE_URL, overwrite"`
	AppName      string `env:"APP_NAME, overwrite"`
	ResetPath    string `env:"EMAIL_RESET_PATH, overwrite"`
	VerifyPath   string `env:"EMAIL_VERIFY_PATH, overwrite"`
	SendAttempts int    `env:"EMAIL_SEND_ATTEMPTS, overwrite"`
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig controls the failed-login throttle.
type SecurityConfig struct {
	EnableLoginThrottle   bool          `env:"LOGIN_THROTTLE, overwrite"`
	EnableIPThrottle      bool          `env:"LOGIN_IP_THROTTLE, overwrite"`
	MaxLoginAttempts      int           `env:"LOGIN_MAX_ATTEMPTS, overwrite"`
	LoginCooldownDuration time.Duration `env:"LOGIN_COOLDOWN, overwrite"`
}

type AuditConfig struct {
	Enabled    bool `env:"AUDIT_ENABLED, overwrite"`
	BufferSize int  `env:"AUDIT_BUFFER_SIZE, overwrite"`
	DropIfFull bool `env:"AUDIT_DROP_IF_FULL, overwrite"`
}

type MetricsConfig struct {
	Enabled                 bool `env:"METRICS_ENABLED, overwrite"`
	EnableLatencyHistograms bool `env:"METRICS_LATENCY_HISTOGRAMS, overwrite"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		Session: SessionConfig{
			MaxLifetime:         30 * 24 * time.Hour,
			RememberMeThreshold: 7 * 24 * time.Hour,
			ExpiringSoonWindow:  time.Hour,
			SigningMethod:       "hs256",
			Issuer:              "authcore",
			Leeway:              0,
			CookieName:          "authcore_session",
			SecureCookies:       true,
		},
		Password: PasswordConfig{
			Cost:           12,
			UpgradeOnLogin: true,
		},
		PasswordReset: PasswordResetConfig{
			TokenTTL:                 time.Hour,
			TokenBytes:               32,
			Strategy:                 ConsumeMarkUsed,
			EnableIdentifierThrottle: true,
			EnableIPThrottle:         true,
			ThrottleWindow:           15 * time.Minute,
			MaxRequests:              5,
			MaxConfirmAttempts:       10,
			EnumerationDelayMin:      20 * time.Millisecond,
			EnumerationDelayMax:      40 * time.Millisecond,
		},
		EmailVerification: EmailVerificationConfig{
			TokenTTL:         24 * time.Hour,
			TokenBytes:       32,
			Strategy:         ConsumeDelete,
			RequireForLogin:  false,
			EnableIPThrottle: true,
			ThrottleWindow:   15 * time.Minute,
			MaxAttempts:      10,
			SendWelcome:      true,
		},
		Registration: RegistrationConfig{
			DefaultRole:              permission.RoleUser,
			EnableIdentifierThrottle: true,
			EnableIPThrottle:         true,
			MaxAttempts:              5,
			Cooldown:                 15 * time.Minute,
		},
		Email: EmailConfig{
			From:         "noreply@indigorootsvibe.com",
			SiteURL:      "http://localhost:3000",
			AppName:      "Indigo Roots Vibe",
			ResetPath:    "/auth/reset-password",
			VerifyPath:   "/auth/verify-email",
			SendAttempts: 3,
		},
		Security: SecurityConfig{
			EnableLoginThrottle:   true,
			EnableIPThrottle:      false,
			MaxLoginAttempts:      5,
			LoginCooldownDuration: 15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

// DefaultConfig returns the production defaults. The session secret is left
// empty and must be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Session.PrivateKey = cloneBytes(cfg.Session.PrivateKey)
	out.Session.PublicKey = cloneBytes(cfg.Session.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	// Session
	if c.Session.MaxLifetime <= 0 {
		return errors.New("Session MaxLifetime must be > 0")
	}
	if c.Session.RememberMeThreshold <= 0 || c.Session.RememberMeThreshold >= c.Session.MaxLifetime {
		return errors.New("Session RememberMeThreshold must be > 0 and below MaxLifetime")
	}
	if c.Session.ExpiringSoonWindow <= 0 {
		return errors.New("Session ExpiringSoonWindow must be > 0")
	}
	switch c.Session.SigningMethod {
	case "hs256":
		if len(c.Session.Secret) < 32 {
			return errors.New("hs256 requires a Session Secret of at least 32 bytes")
		}
	case "ed25519":
		if len(c.Session.PrivateKey) == 0 || len(c.Session.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	default:
		return errors.New("unsupported Session SigningMethod")
	}
	if c.Session.Leeway < 0 || c.Session.Leeway > 2*time.Minute {
		return errors.New("Session Leeway must be between 0 and 2m")
	}
	if strings.TrimSpace(c.Session.CookieName) == "" {
		return errors.New("Session CookieName is required")
	}

	// Password
	if c.Password.Cost < bcrypt.MinCost || c.Password.Cost > bcrypt.MaxCost {
		return fmt.Errorf("Password Cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	// Password Reset
	if c.PasswordReset.TokenTTL <= 0 {
		return errors.New("PasswordReset TokenTTL must be > 0")
	}
	if c.PasswordReset.TokenBytes < 16 {
		return errors.New("PasswordReset TokenBytes must be >= 16")
	}
	if !c.PasswordReset.Strategy.valid() {
		return errors.New("PasswordReset Strategy is invalid")
	}
	if c.PasswordReset.EnableIdentifierThrottle || c.PasswordReset.EnableIPThrottle {
		if c.PasswordReset.ThrottleWindow <= 0 || c.PasswordReset.MaxRequests <= 0 || c.PasswordReset.MaxConfirmAttempts <= 0 {
			return errors.New("PasswordReset throttle requires ThrottleWindow, MaxRequests and MaxConfirmAttempts > 0")
		}
	}
	if c.PasswordReset.EnumerationDelayMin < 0 || c.PasswordReset.EnumerationDelayMax < c.PasswordReset.EnumerationDelayMin {
		return errors.New("PasswordReset enumeration delay range is invalid")
	}

	// Email Verification
	if c.EmailVerification.TokenTTL <= 0 {
		return errors.New("EmailVerification TokenTTL must be > 0")
	}
	if c.EmailVerification.TokenBytes < 16 {
		return errors.New("EmailVerification TokenBytes must be >= 16")
	}
	if !c.EmailVerification.Strategy.valid() {
		return errors.New("EmailVerification Strategy is invalid")
	}
	if c.EmailVerification.EnableIPThrottle && (c.EmailVerification.ThrottleWindow <= 0 || c.EmailVerification.MaxAttempts <= 0) {
		return errors.New("EmailVerification throttle requires ThrottleWindow and MaxAttempts > 0")
	}

	// Registration
	if !c.Registration.DefaultRole.Valid() {
		return errors.New("Registration DefaultRole is not a known role")
	}
	if c.Registration.EnableIdentifierThrottle || c.Registration.EnableIPThrottle {
		if c.Registration.MaxAttempts <= 0 || c.Registration.Cooldown <= 0 {
			return errors.New("Registration throttle requires MaxAttempts and Cooldown > 0")
		}
	}

	// Email
	if c.Email.From == "" {
		return errors.New("Email From is required")
	}
	if u, err := url.Parse(c.Email.SiteURL); err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("Email SiteURL must be an absolute URL")
	}
	if !strings.HasPrefix(c.Email.ResetPath, "/") || !strings.HasPrefix(c.Email.VerifyPath, "/") {
		return errors.New("Email ResetPath and VerifyPath must start with /")
	}
	if c.Email.SendAttempts < 1 {
		return errors.New("Email SendAttempts must be >= 1")
	}

	// Security
	if c.Security.EnableLoginThrottle {
		if c.Security.MaxLoginAttempts <= 0 {
			return errors.New("MaxLoginAttempts must be > 0")
		}
		if c.Security.LoginCooldownDuration <= 0 {
			return errors.New("LoginCooldownDuration must be > 0")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
