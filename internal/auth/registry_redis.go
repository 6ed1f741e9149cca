package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "login:session:"

// RedisRegistry は複数インスタンスでセッションを共有するための SessionRegistry です。
//
//	login:session:{id} → ログイン中フラグ（TTL = セッションの最大有効期間）
type RedisRegistry struct {
	rdb *redis.Client
}

// NewRedisRegistry は RedisRegistry を作成します。
func NewRedisRegistry(rdb *redis.Client) *RedisRegistry {
	return &RedisRegistry{rdb: rdb}
}

func (r *RedisRegistry) Register(ctx context.Context, id string, ttl time.Duration) error {
	if err := r.rdb.Set(ctx, sessionKeyPrefix+id, 1, ttl).Err(); err != nil {
		return fmt.Errorf("registering session: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Active(ctx context.Context, id string) (bool, error) {
	n, err := r.rdb.Exists(ctx, sessionKeyPrefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("checking session: %w", err)
	}
	return n > 0, nil
}

func (r *RedisRegistry) Revoke(ctx context.Context, id string) error {
	if err := r.rdb.Del(ctx, sessionKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}
	return nil
}
