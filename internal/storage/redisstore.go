// internal/storage/redisstore.go
//
// 以 Redis 單一 key 保存快照。SET 為單一指令，對讀者而言是原子替換：
// 要嘛看到舊快照，要嘛看到新快照。
package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey 為預設的快照 key。
const DefaultRedisKey = "ledger:snapshot"

// RedisBackend 將快照存入 Redis。
type RedisBackend struct {
	client redis.UniversalClient
	key    string
}

// NewRedisBackend 建立 Redis 後端；key 為空時使用 DefaultRedisKey。
func NewRedisBackend(client redis.UniversalClient, key string) *RedisBackend {
	key = strings.TrimSpace(key)
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisBackend{client: client, key: key}
}

func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) Write(ctx context.Context, payload []byte) error {
	return b.client.Set(ctx, b.key, payload, 0).Err()
}

func (b *RedisBackend) Read(ctx context.Context) ([]byte, error) {
	data, err := b.client.Get(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSnapshot
	}
	return data, err
}
