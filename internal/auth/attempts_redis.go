package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	failureKeyPrefix = "login:fail:"
	lockKeyPrefix    = "login:lock:"
)

// RedisLimiter は複数インスタンスで試行回数を共有するための AttemptLimiter です。
//
//	login:fail:{key} → Window 内の失敗回数（TTL = Window）
//	login:lock:{key} → ロック中フラグ（TTL = LockDuration）
type RedisLimiter struct {
	rdb      *redis.Client
	settings LimiterSettings
}

// NewRedisLimiter は RedisLimiter を作成します。
func NewRedisLimiter(rdb *redis.Client, settings LimiterSettings) *RedisLimiter {
	return &RedisLimiter{
		rdb:      rdb,
		settings: settings,
	}
}

func (l *RedisLimiter) Check(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := l.rdb.PTTL(ctx, lockKey(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("reading lock ttl: %w", err)
	}
	// キーが無い場合は -2、TTL が無い場合は -1 が返る
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

func (l *RedisLimiter) RecordFailure(ctx context.Context, key string) (int, error) {
	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, failureKey(key))
	ttl := pipe.PTTL(ctx, failureKey(key))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("incrementing failures: %w", err)
	}
	count := incr.Val()
	// 初回だけでなく期限の無いカウンターにも期限を付け直す
	if ttl.Val() < 0 {
		if err := l.rdb.Expire(ctx, failureKey(key), l.settings.Window).Err(); err != nil {
			return 0, fmt.Errorf("setting failure window: %w", err)
		}
	}

	limit := int64(l.settings.MaxAttempts)
	if count < limit {
		return int(limit - count), nil
	}

	pipe = l.rdb.TxPipeline()
	pipe.Set(ctx, lockKey(key), 1, l.settings.LockDuration)
	pipe.Del(ctx, failureKey(key))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("locking %s: %w", key, err)
	}
	return 0, nil
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.rdb.Del(ctx, failureKey(key), lockKey(key)).Err(); err != nil {
		return fmt.Errorf("resetting attempts: %w", err)
	}
	return nil
}

func failureKey(key string) string {
	return failureKeyPrefix + key
}

func lockKey(key string) string {
	return lockKeyPrefix + key
}
