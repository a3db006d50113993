// Package rate implementa el rate limit de ventana deslizante que protege el
// endpoint de refresh contra brute force, independiente de la detección de
// reuse. Backend redis (producción) o en memoria (dev/tests).
package rate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// RedisLimiter: sliding window sobre un ZSET por key. Cada hit es un member
// con score = unix nanos; se purgan los miembros fuera de ventana y se cuenta
// lo que queda.
type RedisLimiter struct {
	Client *rdb.Client
	Prefix string
	Max    int64
	Window time.Duration
}

func NewRedisLimiter(client *rdb.Client, prefix string, max int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	return &RedisLimiter{Client: client, Prefix: prefix, Max: int64(max), Window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-l.Window)
	redisKey := l.Prefix + key

	pipe := l.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(cutoff.UnixNano(), 10))
	pipe.ZAdd(ctx, redisKey, rdb.Z{Score: float64(now.UnixNano()), Member: now.UnixNano()})
	card := pipe.ZCard(ctx, redisKey)
	oldest := pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
	pipe.Expire(ctx, redisKey, l.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, err
	}

	hits := card.Val()
	res := Result{Allowed: hits <= l.Max, Remaining: max64(l.Max-hits, 0)}
	if !res.Allowed {
		// Retry cuando el hit más viejo salga de la ventana.
		if zs := oldest.Val(); len(zs) > 0 {
			oldestAt := time.Unix(0, int64(zs[0].Score))
			res.RetryAfter = oldestAt.Add(l.Window).Sub(now)
		}
		if res.RetryAfter <= 0 {
			res.RetryAfter = l.Window
		}
	}
	return res, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// KeyFor arma la key del limiter para un caller dado.
func KeyFor(scope, caller string) string {
	return fmt.Sprintf("%s:%s", scope, caller)
}
