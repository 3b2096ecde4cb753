package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// AttemptRepository 以 Redis 计数记录后台任务的失败次数，消费者重启后计数仍然有效。
type AttemptRepository interface {
	Incr(ctx context.Context, taskID string) (int64, error)
	Reset(ctx context.Context, taskID string) error
}

type redisAttemptRepository struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewAttemptRepository 创建 Redis 失败计数器，键形如 <prefix>:<taskID>，ttl 后自动过期。
func NewAttemptRepository(rdb *redis.Client, prefix string, ttl time.Duration) AttemptRepository {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &redisAttemptRepository{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (r *redisAttemptRepository) key(taskID string) string {
	return fmt.Sprintf("%s:%s", r.prefix, taskID)
}

func (r *redisAttemptRepository) Incr(ctx context.Context, taskID string) (int64, error) {
	key := r.key(taskID)
	pipe := r.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (r *redisAttemptRepository) Reset(ctx context.Context, taskID string) error {
	return r.rdb.Del(ctx, r.key(taskID)).Err()
}
