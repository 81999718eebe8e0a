package limiters

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/indigoroots/authcore/internal/rate"
)

var (
	ErrAccountRateLimited      = errors.New("account rate limited")
	ErrAccountRedisUnavailable = errors.New("account redis unavailable")
)

type AccountConfig struct {
	EnableIdentifierThrottle bool
	EnableIPThrottle         bool
	MaxAttempts              int
	Cooldown                 time.Duration
}

// RegistrationLimiter throttles sign-ups per email and per client IP.
type RegistrationLimiter struct {
	redis  redis.UniversalClient
	config AccountConfig
}

func NewRegistrationLimiter(redisClient redis.UniversalClient, cfg AccountConfig) *RegistrationLimiter {
	return &RegistrationLimiter{
		redis:  redisClient,
		config: cfg,
	}
}

func (l *RegistrationLimiter) Enforce(ctx context.Context, email, ip string) error {
	if l == nil {
		return nil
	}
	if l.config.EnableIdentifierThrottle {
		if err := l.enforceKey(ctx, "aca:"+email); err != nil {
			return err
		}
	}

	if l.config.EnableIPThrottle && ip != "" {
		if err := l.enforceKey(ctx, "acaip:"+ip); err != nil {
			return err
		}
	}

	return nil
}

func (l *RegistrationLimiter) enforceKey(ctx context.Context, key string) error {
	count, err := rate.FixedWindow(ctx, l.redis, key, l.config.Cooldown)
	if err != nil {
		return errors.Join(ErrAccountRedisUnavailable, err)
	}
	if count > int64(l.config.MaxAttempts) {
		return ErrAccountRateLimited
	}
	return nil
}
