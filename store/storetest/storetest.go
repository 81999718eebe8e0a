// Package storetest holds behavioural checks shared by every store backend.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indigoroots/authcore/store"
)

// NewRecord returns a token record of kind for identifier expiring after ttl.
func NewRecord(kind store.Kind, identifier, tokenHash string, ttl time.Duration) store.TokenRecord {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return store.TokenRecord{
		ID:         store.NewID(),
		Kind:       kind,
		Identifier: identifier,
		TokenHash:  tokenHash,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}
}

// TokenStore runs the TokenStore contract against the store returned by newStore.
// newStore is called once per subtest.
func TokenStore(t *testing.T, newStore func(t *testing.T) store.TokenStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		rec := NewRecord(store.KindPasswordReset, "a@example.com", "h1", time.Hour)
		require.NoError(t, s.Create(ctx, rec))

		got, err := s.Get(ctx, store.KindPasswordReset, "h1")
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)
		assert.Equal(t, rec.Identifier, got.Identifier)
		assert.False(t, got.Used)
		assert.WithinDuration(t, rec.ExpiresAt, got.ExpiresAt, time.Second)
	})

	t.Run("kinds are isolated", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, NewRecord(store.KindPasswordReset, "a@example.com", "h1", time.Hour)))

		_, err := s.Get(ctx, store.KindEmailVerification, "h1")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, store.KindPasswordReset, "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("replace removes prior records for identifier", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, NewRecord(store.KindPasswordReset, "a@example.com", "old1", time.Hour)))
		require.NoError(t, s.Create(ctx, NewRecord(store.KindPasswordReset, "a@example.com", "old2", time.Hour)))
		require.NoError(t, s.Create(ctx, NewRecord(store.KindPasswordReset, "b@example.com", "other", time.Hour)))

		require.NoError(t, s.Replace(ctx, NewRecord(store.KindPasswordReset, "a@example.com", "new", time.Hour)))

		_, err := s.Get(ctx, store.KindPasswordReset, "old1")
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.Get(ctx, store.KindPasswordReset, "old2")
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.Get(ctx, store.KindPasswordReset, "new")
		assert.NoError(t, err)
		_, err = s.Get(ctx, store.KindPasswordReset, "other")
		assert.NoError(t, err, "records of other identifiers must survive")
	})

	t.Run("concurrent replace leaves one record", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, NewRecord(store.KindPasswordReset, "a@example.com", "seed", time.Hour)))

		const callers = 6
		var ok atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				rec := NewRecord(store.KindPasswordReset, "a@example.com", fmt.Sprintf("c%d", i), time.Hour)
				if s.Replace(ctx, rec) == nil {
					ok.Add(1)
				}
			}(i)
		}
		wg.Wait()
		require.Positive(t, ok.Load())

		live := 0
		for i := 0; i < callers; i++ {
			if _, err := s.Get(ctx, store.KindPasswordReset, fmt.Sprintf("c%d", i)); err == nil {
				live++
			}
		}
		_, err := s.Get(ctx, store.KindPasswordReset, "seed")
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.Equal(t, 1, live, "one reset token per identifier")
	})

	t.Run("mark used is single shot", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, NewRecord(store.KindPasswordReset, "a@example.com", "h1", time.Hour)))

		require.NoError(t, s.MarkUsed(ctx, store.KindPasswordReset, "h1"))
		assert.ErrorIs(t, s.MarkUsed(ctx, store.KindPasswordReset, "h1"), store.ErrNotFound)

		got, err := s.Get(ctx, store.KindPasswordReset, "h1")
		require.NoError(t, err)
		assert.True(t, got.Used)
	})

	t.Run("mark used races have one winner", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, NewRecord(store.KindPasswordReset, "a@example.com", "race", time.Hour)))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if s.MarkUsed(ctx, store.KindPasswordReset, "race") == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("delete is single shot", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, NewRecord(store.KindEmailVerification, "a@example.com", "v1", time.Hour)))

		require.NoError(t, s.Delete(ctx, store.KindEmailVerification, "v1"))
		assert.ErrorIs(t, s.Delete(ctx, store.KindEmailVerification, "v1"), store.ErrNotFound)
		_, err := s.Get(ctx, store.KindEmailVerification, "v1")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("delete expired", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, NewRecord(store.KindEmailVerification, "a@example.com", "stale", -time.Minute)))
		require.NoError(t, s.Create(ctx, NewRecord(store.KindEmailVerification, "b@example.com", "fresh", time.Hour)))
		require.NoError(t, s.Create(ctx, NewRecord(store.KindPasswordReset, "c@example.com", "stale-reset", -time.Minute)))

		n, err := s.DeleteExpired(ctx, store.KindEmailVerification, time.Now())
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, err = s.Get(ctx, store.KindEmailVerification, "fresh")
		assert.NoError(t, err)
		_, err = s.Get(ctx, store.KindPasswordReset, "stale-reset")
		assert.NoError(t, err, "other kinds are untouched")
	})
}

// UserStore runs the UserStore contract against the store returned by newStore.
func UserStore(t *testing.T, newStore func(t *testing.T) store.UserStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("create and lookup", func(t *testing.T) {
		s := newStore(t)
		u, err := s.CreateUser(ctx, store.NewUser{Email: "a@example.com", Name: "Ada", Role: "USER", PasswordHash: "h"})
		require.NoError(t, err)
		assert.NotEmpty(t, u.ID)
		assert.Nil(t, u.EmailVerified)

		byEmail, err := s.GetUserByEmail(ctx, "a@example.com")
		require.NoError(t, err)
		assert.Equal(t, u.ID, byEmail.ID)

		byID, err := s.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "Ada", byID.Name)
	})

	t.Run("duplicate email", func(t *testing.T) {
		s := newStore(t)
		_, err := s.CreateUser(ctx, store.NewUser{Email: "a@example.com", Role: "USER"})
		require.NoError(t, err)
		_, err = s.CreateUser(ctx, store.NewUser{Email: "a@example.com", Role: "USER"})
		assert.ErrorIs(t, err, store.ErrDuplicate)
	})

	t.Run("missing user", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetUserByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.ErrorIs(t, s.UpdatePasswordHash(ctx, "missing", "h"), store.ErrNotFound)
	})

	t.Run("updates", func(t *testing.T) {
		s := newStore(t)
		u, err := s.CreateUser(ctx, store.NewUser{Email: "a@example.com", Name: "Ada", Image: "old.png", Role: "USER"})
		require.NoError(t, err)

		require.NoError(t, s.UpdatePasswordHash(ctx, u.ID, "new-hash"))
		at := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, s.MarkEmailVerified(ctx, u.ID, at))

		updated, err := s.UpdateProfile(ctx, u.ID, store.ProfileUpdate{Image: "new.png"})
		require.NoError(t, err)
		assert.Equal(t, "Ada", updated.Name, "empty name keeps stored value")
		assert.Equal(t, "new.png", updated.Image)

		got, err := s.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "new-hash", got.PasswordHash)
		require.NotNil(t, got.EmailVerified)
		assert.WithinDuration(t, at, *got.EmailVerified, time.Second)
	})
}
