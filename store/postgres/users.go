package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/indigoroots/authcore/permission"
	"github.com/indigoroots/authcore/store"
)

const userColumns = `id, email, name, password_hash, role, image, email_verified, created_at, updated_at`

// UserRepository implements store.UserStore using PostgreSQL.
type UserRepository struct {
	pool poolIface
}

// NewUserRepository creates a new PostgreSQL user repository.
func NewUserRepository(pool poolIface) *UserRepository {
	return &UserRepository{pool: pool}
}

// GetUserByEmail retrieves a user by email address.
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.User{}, oops.Code("USER_NOT_FOUND").With("email", email).Wrap(store.ErrNotFound)
	}
	if err != nil {
		return store.User{}, oops.Code("USER_GET_FAILED").With("email", email).Wrap(err)
	}
	return u, nil
}

// GetUserByID retrieves a user by ID.
func (r *UserRepository) GetUserByID(ctx context.Context, id string) (store.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.User{}, oops.Code("USER_NOT_FOUND").With("id", id).Wrap(store.ErrNotFound)
	}
	if err != nil {
		return store.User{}, oops.Code("USER_GET_FAILED").With("id", id).Wrap(err)
	}
	return u, nil
}

// CreateUser inserts a new user.
func (r *UserRepository) CreateUser(ctx context.Context, in store.NewUser) (store.User, error) {
	now := time.Now().UTC()
	u := store.User{
		ID:            store.NewID(),
		Email:         in.Email,
		Name:          in.Name,
		PasswordHash:  in.PasswordHash,
		Role:          in.Role,
		Image:         in.Image,
		EmailVerified: in.EmailVerified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, email, name, password_hash, role, image, email_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, u.ID, u.Email, u.Name, u.PasswordHash, string(u.Role), u.Image, u.EmailVerified, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.User{}, oops.Code("USER_DUPLICATE_EMAIL").With("email", in.Email).Wrap(store.ErrDuplicate)
		}
		return store.User{}, oops.Code("USER_CREATE_FAILED").With("email", in.Email).Wrap(err)
	}
	return u, nil
}

// UpdatePasswordHash replaces a user's password hash.
func (r *UserRepository) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`, userID, hash)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").With("id", userID).With("operation", "update password").Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", userID).Wrap(store.ErrNotFound)
	}
	return nil
}

// MarkEmailVerified stamps the user's verification time.
func (r *UserRepository) MarkEmailVerified(ctx context.Context, userID string, at time.Time) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE users SET email_verified = $2, updated_at = now() WHERE id = $1`, userID, at)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").With("id", userID).With("operation", "mark verified").Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", userID).Wrap(store.ErrNotFound)
	}
	return nil
}

// UpdateProfile refreshes provider-sourced profile fields. Empty values keep
// the stored ones.
func (r *UserRepository) UpdateProfile(ctx context.Context, userID string, update store.ProfileUpdate) (store.User, error) {
	var verified *time.Time
	if !update.EmailVerified.IsZero() {
		verified = &update.EmailVerified
	}
	row := r.pool.QueryRow(ctx, `
		UPDATE users SET
			name = COALESCE(NULLIF($2, ''), name),
			image = COALESCE(NULLIF($3, ''), image),
			email_verified = COALESCE($4, email_verified),
			updated_at = now()
		WHERE id = $1
		RETURNING `+userColumns, userID, update.Name, update.Image, verified)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.User{}, oops.Code("USER_NOT_FOUND").With("id", userID).Wrap(store.ErrNotFound)
	}
	if err != nil {
		return store.User{}, oops.Code("USER_UPDATE_FAILED").With("id", userID).With("operation", "update profile").Wrap(err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (store.User, error) {
	var (
		u    store.User
		role string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &role, &u.Image,
		&u.EmailVerified, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return store.User{}, err
	}
	u.Role = permission.Role(role)
	return u, nil
}

var _ store.UserStore = (*UserRepository)(nil)
