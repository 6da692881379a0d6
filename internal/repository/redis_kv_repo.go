package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisKVRepo はRedisを使用したキーバリューリポジトリ。
// 全てのキーにプレフィックスを付与して保存する。有効期限は設定しない。
type RedisKVRepo struct {
	client *redis.Client
	prefix string
}

// NewRedisKVRepo はRedisKVRepoを生成する。
func NewRedisKVRepo(client *redis.Client, prefix string) *RedisKVRepo {
	return &RedisKVRepo{client: client, prefix: prefix}
}

// NewRedisClient はRedis URLからクライアントを生成する。
// 例: "redis://localhost:6379/0"
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Get は指定キーの値を取得する。見つからない場合はnilを返す。
func (r *RedisKVRepo) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get kv entry: %w", err)
	}
	return value, nil
}

// Put は指定キーの値を上書き保存する。SETは単一コマンドで原子的に適用される。
func (r *RedisKVRepo) Put(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to put kv entry: %w", err)
	}
	return nil
}

// Delete は指定キーの値を削除する。
func (r *RedisKVRepo) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete kv entry: %w", err)
	}
	return nil
}

// compile-time interface check
var _ KeyValueRepository = (*RedisKVRepo)(nil)
