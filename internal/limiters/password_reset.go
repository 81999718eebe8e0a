package limiters

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/indigoroots/authcore/internal/rate"
)

var (
	ErrResetRateLimited      = errors.New("reset rate limited")
	ErrResetRedisUnavailable = errors.New("reset redis unavailable")
)

type PasswordResetConfig struct {
	EnableIdentifierThrottle bool
	EnableIPThrottle         bool
	Window                   time.Duration
	MaxRequests              int
	MaxConfirmAttempts       int
}

type PasswordResetLimiter struct {
	redis  redis.UniversalClient
	config PasswordResetConfig
}

func NewPasswordResetLimiter(redisClient redis.UniversalClient, cfg PasswordResetConfig) *PasswordResetLimiter {
	return &PasswordResetLimiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckRequest counts a reset request for email and ip. It runs before the
// account lookup so the answer never depends on whether the account exists.
func (l *PasswordResetLimiter) CheckRequest(ctx context.Context, email, ip string) error {
	if l == nil {
		return nil
	}
	if l.config.EnableIdentifierThrottle {
		if err := l.enforce(ctx, "apri:"+email, l.config.MaxRequests); err != nil {
			return err
		}
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.enforce(ctx, "aprip:"+ip, l.config.MaxRequests); err != nil {
			return err
		}
	}
	return nil
}

// CheckConfirm counts a reset attempt from ip, bounding token guessing.
func (l *PasswordResetLimiter) CheckConfirm(ctx context.Context, ip string) error {
	if l == nil || !l.config.EnableIPThrottle || ip == "" {
		return nil
	}
	return l.enforce(ctx, "aprcip:"+ip, l.config.MaxConfirmAttempts)
}

func (l *PasswordResetLimiter) Cooldown() time.Duration {
	if l == nil {
		return 0
	}
	return l.config.Window
}

func (l *PasswordResetLimiter) enforce(ctx context.Context, key string, max int) error {
	count, err := rate.FixedWindow(ctx, l.redis, key, l.config.Window)
	if err != nil {
		return errors.Join(ErrResetRedisUnavailable, err)
	}
	if count > int64(max) {
		return ErrResetRateLimited
	}
	return nil
}
