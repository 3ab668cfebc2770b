package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisAbuseGuard shares a fixed window counter across instances. Each key
// gets an INCR plus an EXPIRE set on first hit, so the window resets
// naturally without a sweeper.
type RedisAbuseGuard struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisAbuseGuard(client redis.UniversalClient, prefix string) *RedisAbuseGuard {
	if prefix == "" {
		prefix = "abuse_guard"
	}
	return &RedisAbuseGuard{client: client, prefix: prefix}
}

func (g *RedisAbuseGuard) Check(ctx context.Context, key string, limit int, window time.Duration) (AbuseDecision, error) {
	if g.client == nil {
		return AbuseDecision{}, nil
	}
	redisKey := g.counterKey(key)

	pipe := g.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return AbuseDecision{}, err
	}

	count := incr.Val()
	if count <= int64(limit) {
		return AbuseDecision{}, nil
	}

	ttl, err := g.client.TTL(ctx, redisKey).Result()
	if err != nil || ttl <= 0 {
		ttl = window
	}
	return AbuseDecision{Limited: true, RetryAfter: ttl}, nil
}

func (g *RedisAbuseGuard) counterKey(key string) string {
	return fmt.Sprintf("%s:%s", g.prefix, key)
}
