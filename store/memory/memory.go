// Package memory provides a mutex-guarded in-process implementation of the
// store contracts. It is used by tests and single-instance deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/indigoroots/authcore/permission"
	"github.com/indigoroots/authcore/store"
)

type tokenKey struct {
	kind store.Kind
	hash string
}

// Store implements [store.UserStore] and [store.TokenStore].
type Store struct {
	mu      sync.RWMutex
	users   map[string]store.User
	byEmail map[string]string
	tokens  map[tokenKey]store.TokenRecord
	now     func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:   make(map[string]store.User),
		byEmail: make(map[string]string),
		tokens:  make(map[tokenKey]store.TokenRecord),
		now:     time.Now,
	}
}

// GetUserByEmail implements store.UserStore.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if err := ctx.Err(); err != nil {
		return store.User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return cloneUser(s.users[id]), nil
}

// GetUserByID implements store.UserStore.
func (s *Store) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if err := ctx.Err(); err != nil {
		return store.User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return cloneUser(u), nil
}

// CreateUser implements store.UserStore.
func (s *Store) CreateUser(ctx context.Context, in store.NewUser) (store.User, error) {
	if err := ctx.Err(); err != nil {
		return store.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[in.Email]; exists {
		return store.User{}, store.ErrDuplicate
	}
	now := s.now().UTC()
	u := store.User{
		ID:            store.NewID(),
		Email:         in.Email,
		Name:          in.Name,
		PasswordHash:  in.PasswordHash,
		Role:          in.Role,
		Image:         in.Image,
		EmailVerified: copyTime(in.EmailVerified),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.users[u.ID] = u
	s.byEmail[u.Email] = u.ID
	return cloneUser(u), nil
}

// UpdatePasswordHash implements store.UserStore.
func (s *Store) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	return s.mutateUser(ctx, userID, func(u *store.User) {
		u.PasswordHash = hash
	})
}

// MarkEmailVerified implements store.UserStore.
func (s *Store) MarkEmailVerified(ctx context.Context, userID string, at time.Time) error {
	return s.mutateUser(ctx, userID, func(u *store.User) {
		u.EmailVerified = copyTime(&at)
	})
}

// UpdateProfile implements store.UserStore.
func (s *Store) UpdateProfile(ctx context.Context, userID string, update store.ProfileUpdate) (store.User, error) {
	var out store.User
	err := s.mutateUser(ctx, userID, func(u *store.User) {
		if update.Name != "" {
			u.Name = update.Name
		}
		if update.Image != "" {
			u.Image = update.Image
		}
		if !update.EmailVerified.IsZero() {
			u.EmailVerified = copyTime(&update.EmailVerified)
		}
		out = cloneUser(*u)
	})
	return out, err
}

// SetRole changes a user's role. The engine never does this; it exists for
// administrative tooling and tests.
func (s *Store) SetRole(userID string, role permission.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.Role = role
	s.users[userID] = u
	return nil
}

func (s *Store) mutateUser(ctx context.Context, userID string, fn func(*store.User)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	fn(&u)
	u.UpdatedAt = s.now().UTC()
	s.users[userID] = u
	return nil
}

// Create implements store.TokenStore.
func (s *Store) Create(ctx context.Context, rec store.TokenRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tokenKey{kind: rec.Kind, hash: rec.TokenHash}
	if _, exists := s.tokens[key]; exists {
		return store.ErrDuplicate
	}
	s.tokens[key] = rec
	return nil
}

// Replace implements store.TokenStore.
func (s *Store) Replace(ctx context.Context, rec store.TokenRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, existing := range s.tokens {
		if key.kind == rec.Kind && existing.Identifier == rec.Identifier {
			delete(s.tokens, key)
		}
	}
	key := tokenKey{kind: rec.Kind, hash: rec.TokenHash}
	if _, exists := s.tokens[key]; exists {
		return store.ErrDuplicate
	}
	s.tokens[key] = rec
	return nil
}

// Get implements store.TokenStore.
func (s *Store) Get(ctx context.Context, kind store.Kind, tokenHash string) (store.TokenRecord, error) {
	if err := ctx.Err(); err != nil {
		return store.TokenRecord{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.tokens[tokenKey{kind: kind, hash: tokenHash}]
	if !ok {
		return store.TokenRecord{}, store.ErrNotFound
	}
	return rec, nil
}

// MarkUsed implements store.TokenStore.
func (s *Store) MarkUsed(ctx context.Context, kind store.Kind, tokenHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tokenKey{kind: kind, hash: tokenHash}
	rec, ok := s.tokens[key]
	if !ok || rec.Used {
		return store.ErrNotFound
	}
	rec.Used = true
	s.tokens[key] = rec
	return nil
}

// Delete implements store.TokenStore.
func (s *Store) Delete(ctx context.Context, kind store.Kind, tokenHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tokenKey{kind: kind, hash: tokenHash}
	if _, ok := s.tokens[key]; !ok {
		return store.ErrNotFound
	}
	delete(s.tokens, key)
	return nil
}

// DeleteExpired implements store.TokenStore.
func (s *Store) DeleteExpired(ctx context.Context, kind store.Kind, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, rec := range s.tokens {
		if key.kind == kind && rec.ExpiresAt.Before(cutoff) {
			delete(s.tokens, key)
			n++
		}
	}
	return n, nil
}

// TokensFor returns every record of kind bound to identifier.
func (s *Store) TokensFor(kind store.Kind, identifier string) []store.TokenRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.TokenRecord
	for key, rec := range s.tokens {
		if key.kind == kind && rec.Identifier == identifier {
			out = append(out, rec)
		}
	}
	return out
}

func cloneUser(u store.User) store.User {
	u.EmailVerified = copyTime(u.EmailVerified)
	return u
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

var (
	_ store.UserStore  = (*Store)(nil)
	_ store.TokenStore = (*Store)(nil)
)
