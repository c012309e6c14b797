package rate

import (
	"context"
	"math"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

// RedisLimiter: INCR + EXPIRE en el primer hit. Compartido entre instancias (modo estricto).
type RedisLimiter struct {
	Client rdb.UniversalClient
	Prefix string
}

var _ Backend = (*RedisLimiter)(nil)

func NewRedisLimiter(client rdb.UniversalClient, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	return &RedisLimiter{Client: client, Prefix: prefix}
}

func (l *RedisLimiter) AllowWithLimits(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	redisKey := l.Prefix + key

	pipe := l.Client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.TTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, err
	}

	// set expiry on first hit; una clave sin TTL (expire perdido) también se repara
	windowTTL := ttl.Val()
	if incr.Val() == 1 || windowTTL < 0 {
		if err := l.Client.Expire(ctx, redisKey, window).Err(); err != nil {
			return Result{}, err
		}
		windowTTL = window
	}

	hits := incr.Val()
	res := Result{
		Allowed:     hits <= int64(limit),
		Remaining:   remaining(limit, hits),
		CurrentHits: hits,
		WindowTTL:   windowTTL,
	}
	if !res.Allowed {
		// Retry after: resto de la ventana
		res.RetryAfter = windowTTL
		if res.RetryAfter <= 0 {
			res.RetryAfter = time.Duration(math.Ceil(window.Seconds())) * time.Second
		}
	}
	return res, nil
}
