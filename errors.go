package authcore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
)

var (
	// ErrValidation is matched by every [*ValidationError].
	ErrValidation = errors.New("validation failed")
	// ErrTokenInvalid reports an unknown token, or an undecodable session.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenUsed reports a reset token that was already consumed.
	ErrTokenUsed = errors.New("token already used")
	// ErrTokenExpired reports a token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrUserNotFound reports a token whose account no longer exists.
	ErrUserNotFound = errors.New("user not found")
	// ErrSessionExpired reports an authentic session past its expiry.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionNotFound reports a request that carried no session at all.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidCredentials is the single answer for every failed sign-in.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrForbidden reports an authenticated caller below the required role.
	ErrForbidden = errors.New("forbidden")
	// ErrDependency wraps store, signing, hashing and limiter failures.
	ErrDependency = errors.New("dependency failure")
	// ErrAccountExists is returned by Register for a taken email.
	ErrAccountExists = errors.New("account already exists")
	// ErrPasswordPolicy reports a password that fails the strength rules.
	ErrPasswordPolicy = errors.New("password policy violation")
	ErrPasswordResetRateLimited     = errors.New("password reset rate limited")
	ErrLoginRateLimited             = errors.New("login rate limited")
	ErrRegistrationRateLimited      = errors.New("registration rate limited")
	ErrEmailVerificationRateLimited = errors.New("email verification rate limited")
	// ErrEngineNotReady is returned by a nil or partially built Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// Dependency error codes, readable through oops.AsOops.
const (
	CodePasswordResetStoreFailed     = "PASSWORD_RESET_STORE_FAILED"
	CodeEmailVerificationStoreFailed = "EMAIL_VERIFICATION_STORE_FAILED"
	CodeLoginDependencyFailed        = "LOGIN_DEPENDENCY_FAILED"
	CodeSessionDependencyFailed      = "SESSION_DEPENDENCY_FAILED"
)

// ValidationError carries a user-facing message and per-rule details.
type ValidationError struct {
	Message string
	Details []string
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(e.Details, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func newValidationError(message string, details []string) error {
	return &ValidationError{Message: message, Details: details}
}

func dependencyError(code, op string, err error) error {
	return oops.Code(code).With("operation", op).Wrap(fmt.Errorf("%w: %w", ErrDependency, err))
}

func dependencyMapper(code string) func(op string, err error) error {
	return func(op string, err error) error {
		return dependencyError(code, op, err)
	}
}
