// Package store defines the records and persistence contracts used by the
// authentication engine, plus helpers shared by every backend.
//
// Backends live in sub-packages: memory (tests and single-process use),
// postgres (pgx with goose migrations), mongostore, and redisstore (token
// records only).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/indigoroots/authcore/permission"
)

var (
	// ErrNotFound is returned when a record does not exist, or when a
	// conditional update matched nothing.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("record already exists")
)

// Kind selects which ephemeral token table a record belongs to.
type Kind string

const (
	// KindPasswordReset records are consumed by marking them used.
	KindPasswordReset Kind = "password_reset"
	// KindEmailVerification records are consumed by deleting them.
	KindEmailVerification Kind = "email_verification"
)

// Kinds lists every token kind.
func Kinds() []Kind {
	return []Kind{KindPasswordReset, KindEmailVerification}
}

// User is a persisted account.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         permission.Role
	Image        string
	// EmailVerified is nil until the address has been confirmed.
	EmailVerified *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewUser is the input for [UserStore.CreateUser].
type NewUser struct {
	Email         string
	Name          string
	PasswordHash  string
	Role          permission.Role
	Image         string
	EmailVerified *time.Time
}

// ProfileUpdate carries identity-provider fields refreshed on OAuth sign-in.
// Empty strings keep the stored value.
type ProfileUpdate struct {
	Name          string
	Image         string
	EmailVerified time.Time
}

// TokenRecord is a single-use, expiring capability bound to an email address.
type TokenRecord struct {
	ID         string
	Kind       Kind
	Identifier string
	// TokenHash is the sha256 hex of the opaque token handed to the user.
	TokenHash string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

// UserStore persists accounts. Users are never deleted.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	// CreateUser returns ErrDuplicate when the email is taken.
	CreateUser(ctx context.Context, in NewUser) (User, error)
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
	MarkEmailVerified(ctx context.Context, userID string, at time.Time) error
	UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (User, error)
}

// TokenStore persists ephemeral token records of every [Kind].
type TokenStore interface {
	Create(ctx context.Context, rec TokenRecord) error
	// Replace atomically removes every record of rec.Kind for rec.Identifier
	// and inserts rec.
	Replace(ctx context.Context, rec TokenRecord) error
	Get(ctx context.Context, kind Kind, tokenHash string) (TokenRecord, error)
	// MarkUsed flips Used from false to true. It returns ErrNotFound when the
	// record is missing or already used.
	MarkUsed(ctx context.Context, kind Kind, tokenHash string) error
	// Delete removes the record. It returns ErrNotFound when nothing was removed.
	Delete(ctx context.Context, kind Kind, tokenHash string) error
	// DeleteExpired removes records of kind whose expiry is before cutoff.
	DeleteExpired(ctx context.Context, kind Kind, cutoff time.Time) (int64, error)
}

// NewID returns a fresh lexically sortable record identifier.
func NewID() string {
	return ulid.Make().String()
}
