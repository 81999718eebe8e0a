package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/samber/oops"

	"github.com/indigoroots/authcore"
	"github.com/indigoroots/authcore/email"
	"github.com/indigoroots/authcore/session"
	"github.com/indigoroots/authcore/store"
	"github.com/indigoroots/authcore/store/memory"
	"github.com/indigoroots/authcore/store/mongostore"
	"github.com/indigoroots/authcore/store/postgres"
	"github.com/indigoroots/authcore/store/redisstore"
)

// backends is the set of opened stores. close releases them in reverse order.
type backends struct {
	users   store.UserStore
	tokens  store.TokenStore
	redis   redis.UniversalClient
	closers []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// openBackends connects the user store, the token store, and Redis (for rate
// limiting) as rc describes.
func openBackends(ctx context.Context, rc runtimeConfig, log zerolog.Logger) (*backends, error) {
	b := &backends{}

	if rc.RedisAddr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{rc.RedisAddr},
			Password: rc.RedisPassword,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, oops.Code("REDIS_CONNECT_FAILED").With("operation", "ping").Wrap(err)
		}
		b.redis = client
		b.closers = append(b.closers, func() { _ = client.Close() })
	}

	switch rc.StoreBackend {
	case backendPostgres:
		pg, err := postgres.Open(ctx, rc.DatabaseURL)
		if err != nil {
			b.close()
			return nil, err
		}
		b.users, b.tokens = pg, pg
		b.closers = append(b.closers, pg.Close)
	case backendMongo:
		mg, err := mongostore.Connect(ctx, mongostore.Config{URI: rc.MongoURI, Database: rc.MongoDatabase})
		if err != nil {
			b.close()
			return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "connect mongo").Wrap(err)
		}
		if err := mg.EnsureIndexes(ctx); err != nil {
			_ = mg.Close(context.Background())
			b.close()
			return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "ensure mongo indexes").Wrap(err)
		}
		b.users, b.tokens = mg, mg
		b.closers = append(b.closers, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mg.Close(closeCtx)
		})
	default:
		log.Warn().Msg("using in-memory store; accounts are lost on restart")
		mem := memory.New()
		b.users, b.tokens = mem, mem
	}

	if rc.TokenBackend == backendRedis {
		b.tokens = redisstore.New(b.redis, redisstore.Config{})
	}
	return b, nil
}

// newEngine builds the engine over opened backends.
func newEngine(cfg authcore.Config, b *backends, sender email.Sender, log zerolog.Logger) (*authcore.Engine, error) {
	builder := authcore.New().
		WithConfig(cfg).
		WithUserStore(b.users).
		WithTokenStore(b.tokens).
		WithEmailSender(sender).
		WithAuditSink(authcore.NewZerologSink(log)).
		WithLogger(log)
	if b.redis != nil {
		builder = builder.WithRedis(b.redis)
	}
	return builder.Build()
}

// newSender picks SMTP delivery when a host is configured and logs mail otherwise.
func newSender(rc runtimeConfig, log zerolog.Logger) email.Sender {
	if rc.SMTP.Host == "" {
		log.Warn().Msg("SMTP_HOST not set; emails are logged instead of sent")
		return email.NewLogSender(log)
	}
	return email.NewSMTPSender(email.SMTPConfig{
		Host:     rc.SMTP.Host,
		Port:     rc.SMTP.Port,
		Username: rc.SMTP.Username,
		Password: rc.SMTP.Password,
	})
}

// newCookieStore decodes hex cookie keys. A missing hash key is generated per
// process, which signs everyone out on restart.
func newCookieStore(rc runtimeConfig, sc authcore.SessionConfig, log zerolog.Logger) (*session.CookieStore, error) {
	hashKey, err := decodeKey("COOKIE_HASH_KEY", rc.CookieHashKey)
	if err != nil {
		return nil, err
	}
	if hashKey == nil {
		log.Warn().Msg("COOKIE_HASH_KEY not set; using an ephemeral key")
		generated, err := randomKey(32)
		if err != nil {
			return nil, err
		}
		hashKey = generated
	}
	blockKey, err := decodeKey("COOKIE_BLOCK_KEY", rc.CookieBlockKey)
	if err != nil {
		return nil, err
	}
	return session.NewCookieStore(session.Options{
		Name:     sc.CookieName,
		HashKey:  hashKey,
		BlockKey: blockKey,
		MaxAge:   sc.MaxLifetime,
		Secure:   sc.SecureCookies,
	})
}

func decodeKey(name, value string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(value)
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("variable", name).Wrapf(err, "%s must be hex encoded", name)
	}
	return key, nil
}

func randomKey(n int) ([]byte, error) {
	key := make([]byte, n)
	if _, err := rand.Read(key); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "generate cookie key").Wrap(err)
	}
	return key, nil
}
