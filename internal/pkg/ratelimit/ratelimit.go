package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"mapleads/internal/pkg/metrics"
)

// ErrRateLimitTimeout 等待令牌期间上下文结束。
var ErrRateLimitTimeout = errors.New("rate limit wait timeout")

// DefaultKey 导航限流使用的令牌桶键。
const DefaultKey = "mapleads:ratelimit:navigation"

// 令牌桶：按毫秒时间戳补充令牌，返回 {是否允许, 建议等待毫秒, 剩余令牌}
const tokenBucketLua = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

if rate <= 0 or burst <= 0 then
  return {1, 0, burst}
end

local state = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local ts = tonumber(state[2]) or now

tokens = math.min(burst, tokens + (math.max(0, now - ts) * rate) / 1000.0)

local wait_ms = 0
local allowed = 0
if tokens >= requested then
  tokens = tokens - requested
  allowed = 1
else
  wait_ms = math.ceil((requested - tokens) * 1000.0 / rate)
end

redis.call("HMSET", key, "tokens", tokens, "ts", now)
redis.call("PEXPIRE", key, math.ceil((burst / rate) * 2000.0))

return {allowed, wait_ms, tokens}
`

// RateLimiter 基于 Redis 的分布式令牌桶。
//
// 同一个 key 的所有进程共享令牌，用于控制所有 worker 合计的导航频率。
type RateLimiter struct {
	rdb    *redis.Client
	key    string
	rate   float64
	burst  float64
	jitter time.Duration
	logger *slog.Logger
	script *redis.Script
}

// Option RateLimiter 的可选配置。
type Option func(*RateLimiter)

// WithJitter 设置每次等待附加的最大随机抖动。
func WithJitter(d time.Duration) Option {
	return func(r *RateLimiter) {
		r.jitter = d
	}
}

// NewRedisRateLimiter 创建分布式令牌桶。
//
// 参数:
//   - rdb: Redis 客户端
//   - logger: 日志记录器，可为 nil
//   - key: 令牌桶键，为空时使用 DefaultKey
//   - rate: 每秒补充的令牌数，<=0 表示不限流
//   - burst: 桶容量
func NewRedisRateLimiter(rdb *redis.Client, logger *slog.Logger, key string, rate float64, burst float64, opts ...Option) *RateLimiter {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &RateLimiter{
		rdb:    rdb,
		key:    key,
		rate:   rate,
		burst:  burst,
		jitter: 10 * time.Millisecond,
		logger: logger,
		script: redis.NewScript(tokenBucketLua),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Acquire 阻塞直到取得一个令牌或 ctx 结束。
func (r *RateLimiter) Acquire(ctx context.Context) error {
	if r == nil || r.rdb == nil || r.rate <= 0 || r.burst <= 0 {
		return nil
	}

	start := time.Now()
	for {
		allowed, waitMs, err := r.tryAcquire(ctx)
		if err != nil {
			return err
		}
		if allowed {
			waited := time.Since(start)
			metrics.RateLimitWaitDuration.Observe(waited.Seconds())
			if waited > time.Second {
				r.logger.Debug("rate limiter released", slog.String("key", r.key), slog.Duration("waited", waited))
			}
			return nil
		}

		wait := time.Duration(waitMs) * time.Millisecond
		if wait <= 0 {
			wait = 50 * time.Millisecond
		}
		if r.jitter > 0 {
			wait += time.Duration(rand.Int63n(int64(r.jitter)))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			metrics.RateLimitWaitDuration.Observe(time.Since(start).Seconds())
			metrics.RateLimitTimeoutTotal.Inc()
			return ErrRateLimitTimeout
		case <-timer.C:
		}
	}
}

func (r *RateLimiter) tryAcquire(ctx context.Context) (bool, int64, error) {
	res, err := r.script.Run(ctx, r.rdb, []string{r.key}, r.rate, r.burst, time.Now().UnixMilli(), 1).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit eval: %w", err)
	}
	values, ok := res.([]interface{})
	if !ok || len(values) < 2 {
		return false, 0, fmt.Errorf("ratelimit invalid result %T", res)
	}
	return toInt64(values[0]) == 1, toInt64(values[1]), nil
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if parsed, err := strconv.ParseInt(t, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}
