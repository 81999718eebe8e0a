// Package redisstore keeps ephemeral token records in Redis.
//
// Each record lives under <prefix>:<kind>:h:<token hash> as a versioned
// binary value. A per-identifier set under <prefix>:<kind>:i:<identifier>
// tracks live hashes so Replace can drop prior records. Keys outlive the
// record's logical expiry by Retention so an expired token can still be
// told apart from an unknown one.
//
// Users are not stored here; pair this with a durable [store.UserStore].
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/indigoroots/authcore/store"
)

// ErrRedisUnavailable wraps transport failures.
var ErrRedisUnavailable = errors.New("token store redis unavailable")

const (
	defaultPrefix    = "atok"
	defaultRetention = 24 * time.Hour
	maxTxRetries     = 4
)

// markUsedLua flips the used byte of a record in place, preserving TTL.
// KEYS[1] = record key
// Returns 1 when this call consumed the record, 0 when it was missing or used.
var markUsedLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return 0
end
if string.byte(data, 1) ~= 1 then
  return 0
end
if string.byte(data, 2) == 1 then
  return 0
end
local updated = string.sub(data, 1, 1) .. string.char(1) .. string.sub(data, 3)
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
  redis.call('SET', KEYS[1], updated, 'PX', ttl)
else
  redis.call('SET', KEYS[1], updated)
end
return 1
`)

// Config tunes key layout and retention.
type Config struct {
	Prefix    string
	Retention time.Duration
}

// TokenStore implements store.TokenStore on Redis.
type TokenStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

// New returns a TokenStore using client.
func New(client redis.UniversalClient, cfg Config) *TokenStore {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	return &TokenStore{
		redis:     client,
		prefix:    cfg.Prefix,
		retention: cfg.Retention,
		now:       time.Now,
	}
}

func (s *TokenStore) recordKey(kind store.Kind, tokenHash string) string {
	return s.prefix + ":" + string(kind) + ":h:" + tokenHash
}

func (s *TokenStore) indexKey(kind store.Kind, identifier string) string {
	return s.prefix + ":" + string(kind) + ":i:" + identifier
}

func (s *TokenStore) ttlFor(rec store.TokenRecord) time.Duration {
	ttl := rec.ExpiresAt.Sub(s.now()) + s.retention
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// Create stores rec. It returns store.ErrDuplicate if the hash is taken.
func (s *TokenStore) Create(ctx context.Context, rec store.TokenRecord) error {
	encoded, err := encodeTokenRecord(rec)
	if err != nil {
		return err
	}
	ttl := s.ttlFor(rec)
	ok, err := s.redis.SetNX(ctx, s.recordKey(rec.Kind, rec.TokenHash), encoded, ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if !ok {
		return store.ErrDuplicate
	}
	idx := s.indexKey(rec.Kind, rec.Identifier)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, idx, rec.TokenHash)
		pipe.Expire(ctx, idx, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Replace drops every record indexed under rec.Identifier and stores rec in
// one optimistic transaction.
func (s *TokenStore) Replace(ctx context.Context, rec store.TokenRecord) error {
	encoded, err := encodeTokenRecord(rec)
	if err != nil {
		return err
	}
	ttl := s.ttlFor(rec)
	idx := s.indexKey(rec.Kind, rec.Identifier)
	newKey := s.recordKey(rec.Kind, rec.TokenHash)

	for i := 0; i < maxTxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			prior, err := tx.SMembers(ctx, idx).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, h := range prior {
					pipe.Del(ctx, s.recordKey(rec.Kind, h))
				}
				pipe.Del(ctx, idx)
				pipe.Set(ctx, newKey, encoded, ttl)
				pipe.SAdd(ctx, idx, rec.TokenHash)
				pipe.Expire(ctx, idx, ttl)
				return nil
			})
			return err
		}, idx)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return nil
	}
	return fmt.Errorf("%w: replace contention", ErrRedisUnavailable)
}

// Get loads a record by hash.
func (s *TokenStore) Get(ctx context.Context, kind store.Kind, tokenHash string) (store.TokenRecord, error) {
	data, err := s.redis.Get(ctx, s.recordKey(kind, tokenHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return store.TokenRecord{}, store.ErrNotFound
		}
		return store.TokenRecord{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return decodeTokenRecord(kind, tokenHash, data)
}

// MarkUsed atomically flips the used flag.
func (s *TokenStore) MarkUsed(ctx context.Context, kind store.Kind, tokenHash string) error {
	n, err := markUsedLua.Run(ctx, s.redis, []string{s.recordKey(kind, tokenHash)}).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if n != 1 {
		return store.ErrNotFound
	}
	return nil
}

// Delete removes a record. Exactly one concurrent caller observes success.
func (s *TokenStore) Delete(ctx context.Context, kind store.Kind, tokenHash string) error {
	key := s.recordKey(kind, tokenHash)
	data, err := s.redis.GetDel(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return store.ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if rec, err := decodeTokenRecord(kind, tokenHash, data); err == nil {
		// Index cleanup is best effort; stale members are skipped by Replace.
		_ = s.redis.SRem(ctx, s.indexKey(kind, rec.Identifier), tokenHash).Err()
	}
	return nil
}

// DeleteExpired scans records of kind and removes those expired before cutoff.
func (s *TokenStore) DeleteExpired(ctx context.Context, kind store.Kind, cutoff time.Time) (int64, error) {
	prefix := s.prefix + ":" + string(kind) + ":h:"
	iter := s.redis.Scan(ctx, 0, prefix+"*", 256).Iterator()

	var removed int64
	for iter.Next(ctx) {
		key := iter.Val()
		hash := key[len(prefix):]
		data, err := s.redis.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		rec, err := decodeTokenRecord(kind, hash, data)
		if err != nil || !rec.ExpiresAt.Before(cutoff) {
			continue
		}
		if err := s.Delete(ctx, kind, hash); err == nil {
			removed++
		} else if !errors.Is(err, store.ErrNotFound) {
			return removed, err
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return removed, nil
}

var _ store.TokenStore = (*TokenStore)(nil)
