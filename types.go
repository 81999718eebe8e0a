package authcore

import (
	"time"

	"github.com/indigoroots/authcore/permission"
)

// TokenUser is the account a reset or verification token resolves to.
type TokenUser struct {
	ID    string
	Email string
	Name  string
}

// TokenCheck is the read-only classification of a reset or verification
// token. Reason is nil when Valid is true; otherwise it is one of
// [ErrTokenInvalid], [ErrTokenUsed], [ErrTokenExpired] or [ErrUserNotFound],
// and Error holds the matching user-facing text.
type TokenCheck struct {
	Valid  bool
	Reason error
	Error  string
	Email  string
	User   *TokenUser
}

// ConsumeResult reports the outcome of a token-consuming operation.
// Details lists password-policy violations when Reason is [ErrPasswordPolicy].
type ConsumeResult struct {
	Success bool
	Reason  error
	Error   string
	Details []string
	Email   string
}

// CleanupReport counts removed expired token rows per kind. Errors are
// reported as text; cleanup never fails the caller.
type CleanupReport struct {
	PasswordResets     int64
	VerificationTokens int64
	Errors             []string
}

// RegisterRequest is the self-service sign-up input.
type RegisterRequest struct {
	Name            string `json:"name" validate:"required,min=2"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
}

// RegisterResult is returned by a successful [Engine.Register].
type RegisterResult struct {
	User    TokenUser
	Message string
}

// SessionUser is the identity carried by a session.
type SessionUser struct {
	ID    string
	Email string
	Name  string
	Role  permission.Role
	Image string
}

// IssuedSession is a freshly signed session token.
type IssuedSession struct {
	Token      string
	ExpiresAt  time.Time
	RememberMe bool
	User       SessionUser
}

// Credential is accepted by [Engine.Login]. It is implemented only by
// [PasswordCredential] and [OAuthIdentity].
type Credential interface {
	credential()
}

// PasswordCredential signs in with an email and password.
type PasswordCredential struct {
	Email    string
	Password string
}

// OAuthIdentity is a profile already verified by an OAuth provider.
type OAuthIdentity struct {
	Provider string
	Subject  string
	Email    string
	Name     string
	Picture  string
}

func (PasswordCredential) credential() {}
func (OAuthIdentity) credential()      {}
