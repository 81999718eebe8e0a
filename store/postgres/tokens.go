package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/indigoroots/authcore/store"
)

var errUnknownKind = errors.New("unknown token kind")

func tableFor(kind store.Kind) (string, error) {
	switch kind {
	case store.KindPasswordReset:
		return "password_resets", nil
	case store.KindEmailVerification:
		return "verification_tokens", nil
	default:
		return "", oops.Code("TOKEN_KIND_INVALID").With("kind", string(kind)).Wrap(errUnknownKind)
	}
}

// TokenRepository implements store.TokenStore using PostgreSQL.
type TokenRepository struct {
	pool poolIface
}

// NewTokenRepository creates a new PostgreSQL token repository.
func NewTokenRepository(pool poolIface) *TokenRepository {
	return &TokenRepository{pool: pool}
}

// Create inserts a token record.
func (r *TokenRepository) Create(ctx context.Context, rec store.TokenRecord) error {
	table, err := tableFor(rec.Kind)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, insertSQL(table),
		rec.ID, rec.Identifier, rec.TokenHash, rec.ExpiresAt, rec.Used, rec.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("TOKEN_DUPLICATE").With("kind", string(rec.Kind)).Wrap(store.ErrDuplicate)
		}
		return oops.Code("TOKEN_CREATE_FAILED").With("kind", string(rec.Kind)).Wrap(err)
	}
	return nil
}

// Replace deletes every record for rec.Identifier and inserts rec in one
// transaction. A transaction-scoped advisory lock keyed on the table and
// identifier serializes concurrent Replace calls, so the second caller's
// DELETE sees the first caller's committed row.
func (r *TokenRepository) Replace(ctx context.Context, rec store.TokenRecord) error {
	table, err := tableFor(rec.Kind)
	if err != nil {
		return err
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return oops.Code("TOKEN_REPLACE_FAILED").With("operation", "begin").Wrap(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, table+":"+rec.Identifier); err != nil {
		return oops.Code("TOKEN_REPLACE_FAILED").With("kind", string(rec.Kind)).With("operation", "lock").Wrap(err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE identifier = $1`, rec.Identifier); err != nil {
		return oops.Code("TOKEN_REPLACE_FAILED").With("kind", string(rec.Kind)).With("operation", "delete prior").Wrap(err)
	}
	if _, err := tx.Exec(ctx, insertSQL(table),
		rec.ID, rec.Identifier, rec.TokenHash, rec.ExpiresAt, rec.Used, rec.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return oops.Code("TOKEN_DUPLICATE").With("kind", string(rec.Kind)).Wrap(store.ErrDuplicate)
		}
		return oops.Code("TOKEN_REPLACE_FAILED").With("kind", string(rec.Kind)).With("operation", "insert").Wrap(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return oops.Code("TOKEN_REPLACE_FAILED").With("operation", "commit").Wrap(err)
	}
	return nil
}

// Get retrieves a token record by its hash.
func (r *TokenRepository) Get(ctx context.Context, kind store.Kind, tokenHash string) (store.TokenRecord, error) {
	table, err := tableFor(kind)
	if err != nil {
		return store.TokenRecord{}, err
	}
	row := r.pool.QueryRow(ctx, `
		SELECT id, identifier, token_hash, expires_at, used, created_at
		FROM `+table+` WHERE token_hash = $1`, tokenHash)

	var rec store.TokenRecord
	err = row.Scan(&rec.ID, &rec.Identifier, &rec.TokenHash, &rec.ExpiresAt, &rec.Used, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.TokenRecord{}, oops.Code("TOKEN_NOT_FOUND").With("kind", string(kind)).Wrap(store.ErrNotFound)
	}
	if err != nil {
		return store.TokenRecord{}, oops.Code("TOKEN_GET_FAILED").With("kind", string(kind)).Wrap(err)
	}
	rec.Kind = kind
	return rec, nil
}

// MarkUsed flips the used flag if it is still false.
func (r *TokenRepository) MarkUsed(ctx context.Context, kind store.Kind, tokenHash string) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	result, err := r.pool.Exec(ctx,
		`UPDATE `+table+` SET used = true WHERE token_hash = $1 AND used = false`, tokenHash)
	if err != nil {
		return oops.Code("TOKEN_UPDATE_FAILED").With("kind", string(kind)).Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("TOKEN_NOT_FOUND").With("kind", string(kind)).Wrap(store.ErrNotFound)
	}
	return nil
}

// Delete removes a token record.
func (r *TokenRepository) Delete(ctx context.Context, kind store.Kind, tokenHash string) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	result, err := r.pool.Exec(ctx, `DELETE FROM `+table+` WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return oops.Code("TOKEN_DELETE_FAILED").With("kind", string(kind)).Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("TOKEN_NOT_FOUND").With("kind", string(kind)).Wrap(store.ErrNotFound)
	}
	return nil
}

// DeleteExpired removes records whose expiry is before cutoff.
func (r *TokenRepository) DeleteExpired(ctx context.Context, kind store.Kind, cutoff time.Time) (int64, error) {
	table, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	result, err := r.pool.Exec(ctx, `DELETE FROM `+table+` WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, oops.Code("TOKEN_CLEANUP_FAILED").With("kind", string(kind)).Wrap(err)
	}
	return result.RowsAffected(), nil
}

func insertSQL(table string) string {
	return fmt.Sprintf(`INSERT INTO %s (id, identifier, token_hash, expires_at, used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`, table)
}

var _ store.TokenStore = (*TokenRepository)(nil)
