package ratelimit

import (
	"context"
	"errors"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/smallbiznis/upimatch/internal/config"
)

const keySMSSender = "upimatch:sms:sender:"

// SMSLimiter throttles the SMS webhook per sending gateway. A nil limiter allows everything.
type SMSLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewSMSLimiter(lc fx.Lifecycle, cfg config.Config) (*SMSLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.SMSRate <= 0 || limitCfg.SMSBurst <= 0 {
		return nil, errors.New("sms rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})
	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return client.Close() },
		})
	}
	return NewSMSLimiterWithClient(client, limitCfg.SMSRate, limitCfg.SMSBurst), nil
}

// NewSMSLimiterWithClient builds a limiter on an existing client, cluster or ring.
func NewSMSLimiterWithClient(client redis.Scripter, rate float64, burst int) *SMSLimiter {
	return &SMSLimiter{
		bucket: NewTokenBucket(client),
		rate:   rate,
		burst:  burst,
	}
}

func (l *SMSLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow takes a token for sender. Callers pass the client IP when the gateway sends none.
func (l *SMSLimiter) Allow(ctx context.Context, sender string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	sender = strings.ToUpper(strings.TrimSpace(sender))
	if sender == "" {
		sender = "ANONYMOUS"
	}
	return l.bucket.Allow(ctx, keySMSSender+sender, l.rate, l.burst)
}
