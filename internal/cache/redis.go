package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis はRedisを使用したキャッシュ。複数インスタンス間でキャッシュを共有する場合に使う。
type Redis struct {
	c          *redis.Client
	prefix     string
	defaultTTL time.Duration
}

// NewRedis はRedisキャッシュを生成する。キーには "ssolink:" プレフィックスが付与される。
func NewRedis(addr string, db int, defaultTTL time.Duration) *Redis {
	return &Redis{
		c:          redis.NewClient(&redis.Options{Addr: addr, DB: db}),
		prefix:     "ssolink:",
		defaultTTL: defaultTTL,
	}
}

// Ping はRedisへの疎通を確認する。
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.c.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// Get はキーに対応する値を返す。
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.c.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return b, true, nil
}

// Set は値を保持する。
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	if err := r.c.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}

// Delete はキーを削除する。
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.c.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Close は接続を閉じる。
func (r *Redis) Close() error {
	return r.c.Close()
}

var _ Client = (*Redis)(nil)
