package util

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RetryCounter 记录同一条消息因临时故障被重新入队的次数
// 计数保存在 Redis 中，多个消费者进程共享
type RetryCounter struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRetryCounter(rdb redis.UniversalClient, ttl time.Duration) *RetryCounter {
	return &RetryCounter{rdb: rdb, ttl: ttl}
}

// IncrementAndGet increments the retry count for a given key and returns the new count
func (r *RetryCounter) IncrementAndGet(ctx context.Context, key string) (int64, error) {
	count, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}

	// 第一次计数时设置过期时间
	if count == 1 {
		r.rdb.Expire(ctx, key, r.ttl)
	}

	return count, nil
}

// Get returns the current retry count
func (r *RetryCounter) Get(ctx context.Context, key string) (int64, error) {
	count, err := r.rdb.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return count, err
}

// Reset resets the retry count
func (r *RetryCounter) Reset(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, key).Err()
}

// FormatRetryKey 以 routing key 加消息体摘要作为计数键，重投的同一条消息落在同一个键上
func FormatRetryKey(routingKey string, body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf("retry:%s:%s", routingKey, hex.EncodeToString(sum[:12]))
}
