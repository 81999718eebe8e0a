package redisstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/indigoroots/authcore/store"
	"github.com/indigoroots/authcore/store/storetest"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestTokenStoreContract(t *testing.T) {
	storetest.TokenStore(t, func(t *testing.T) store.TokenStore {
		_, client := newTestRedis(t)
		return New(client, Config{})
	})
}

func TestExpiredRecordStaysReadableWithinRetention(t *testing.T) {
	mr, client := newTestRedis(t)
	s := New(client, Config{Retention: time.Hour})
	ctx := context.Background()

	rec := storetest.NewRecord(store.KindPasswordReset, "a@example.com", "h1", time.Minute)
	if err := s.Create(ctx, rec); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	mr.FastForward(30 * time.Minute)
	got, err := s.Get(ctx, store.KindPasswordReset, "h1")
	if err != nil {
		t.Fatalf("expected record within retention, got %v", err)
	}
	if !got.ExpiresAt.Equal(rec.ExpiresAt) {
		t.Fatalf("expiry round trip mismatch: %v vs %v", got.ExpiresAt, rec.ExpiresAt)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := s.Get(ctx, store.KindPasswordReset, "h1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected key to be evicted after retention, got %v", err)
	}
}

func TestMarkUsedPreservesTTL(t *testing.T) {
	mr, client := newTestRedis(t)
	s := New(client, Config{Prefix: "t", Retention: time.Hour})
	ctx := context.Background()

	if err := s.Create(ctx, storetest.NewRecord(store.KindPasswordReset, "a@example.com", "h1", time.Hour)); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	before := mr.TTL("t:password_reset:h:h1")
	if err := s.MarkUsed(ctx, store.KindPasswordReset, "h1"); err != nil {
		t.Fatalf("MarkUsed error: %v", err)
	}
	after := mr.TTL("t:password_reset:h:h1")
	if after <= 0 || after > before {
		t.Fatalf("expected ttl to be preserved, before=%v after=%v", before, after)
	}
}

func TestRedisFailureIsWrapped(t *testing.T) {
	mr, client := newTestRedis(t)
	s := New(client, Config{})
	mr.Close()

	_, err := s.Get(context.Background(), store.KindPasswordReset, "h1")
	if !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}

func TestCodecRejectsUnknownVersion(t *testing.T) {
	data, err := encodeTokenRecord(storetest.NewRecord(store.KindPasswordReset, "a@example.com", "h", time.Hour))
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	data[0] = 9
	if _, err := decodeTokenRecord(store.KindPasswordReset, "h", data); !errors.Is(err, errInvalidRecord) {
		t.Fatalf("expected errInvalidRecord, got %v", err)
	}
}
