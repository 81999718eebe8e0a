package limiters

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/indigoroots/authcore/internal/rate"
)

var (
	ErrVerificationRateLimited        = errors.New("verification rate limited")
	ErrVerificationLimiterUnavailable = errors.New("verification limiter unavailable")
)

type EmailVerificationConfig struct {
	EnableIPThrottle bool
	Window           time.Duration
	MaxAttempts      int
}

// EmailVerificationLimiter bounds verification-token guessing per client IP.
type EmailVerificationLimiter struct {
	redis  redis.UniversalClient
	config EmailVerificationConfig
}

func NewEmailVerificationLimiter(redisClient redis.UniversalClient, cfg EmailVerificationConfig) *EmailVerificationLimiter {
	return &EmailVerificationLimiter{
		redis:  redisClient,
		config: cfg,
	}
}

func (l *EmailVerificationLimiter) CheckConfirm(ctx context.Context, ip string) error {
	if l == nil || !l.config.EnableIPThrottle || ip == "" {
		return nil
	}
	count, err := rate.FixedWindow(ctx, l.redis, "apvcip:"+ip, l.config.Window)
	if err != nil {
		return errors.Join(ErrVerificationLimiterUnavailable, err)
	}
	if count > int64(l.config.MaxAttempts) {
		return ErrVerificationRateLimited
	}
	return nil
}
