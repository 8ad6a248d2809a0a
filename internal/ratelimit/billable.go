package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/learnify/learnify/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const (
	keyBillableOwner = "billable:owner:%s"
	keyDebitLock     = "debit:lock:%s"
)

// BillableLimiter throttles billable actions per owner and serializes
// concurrent debits for the same owner with a short-lived lock. A nil
// limiter means rate limiting is disabled and everything is allowed.
type BillableLimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	rate    float64
	burst   int
	lockTTL time.Duration
}

func NewBillableLimiter(cfg config.Config) (*BillableLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.BillableRate <= 0 || limitCfg.BillableBurst <= 0 {
		return nil, errors.New("billable rate limit must be positive")
	}
	if limitCfg.DebitLockTTLSec <= 0 {
		return nil, errors.New("debit lock ttl must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &BillableLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		locker:  NewLocker(client),
		rate:    limitCfg.BillableRate,
		burst:   limitCfg.BillableBurst,
		lockTTL: time.Duration(limitCfg.DebitLockTTLSec) * time.Second,
	}, nil
}

func (l *BillableLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowOwner applies the per-owner token bucket to a billable request.
func (l *BillableLimiter) AllowOwner(ctx context.Context, ownerID string) (*AllowResult, error) {
	if !l.Enabled() {
		return &AllowResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyBillableOwner, strings.TrimSpace(ownerID)), l.rate, l.burst)
}

// TryLockOwner takes the per-owner debit lock so overlapping reservations
// for one owner do not race the balance check.
func (l *BillableLimiter) TryLockOwner(ctx context.Context, ownerID string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	key := fmt.Sprintf(keyDebitLock, strings.TrimSpace(ownerID))
	return l.locker.TryLock(ctx, key, l.lockTTL)
}

func (l *BillableLimiter) ReleaseOwner(ctx context.Context, ownerID, token string) error {
	if !l.Enabled() {
		return nil
	}
	key := fmt.Sprintf(keyDebitLock, strings.TrimSpace(ownerID))
	return l.locker.Release(ctx, key, token)
}
