package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"mapleads/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

// DefaultDelayedKey 默认延迟重试集合。
const DefaultDelayedKey = "mapleads:jobs:delayed"

// Delayed 基于 Redis 有序集合的延迟重试队列。
//
// score 为到期时间（毫秒时间戳），到期后由 PromoteDue 写回任务 Stream。
// 多个 worker 同时回灌时，每条消息只会被一方写回 Stream。
type Delayed struct {
	rdb    *redis.Client
	key    string
	queue  *TaskQueue
	logger *slog.Logger
}

// NewDelayed 创建延迟重试队列。
//
// 参数:
//   - rdb: Redis 客户端
//   - logger: 日志记录器
//   - key: 有序集合键名，为空时使用 DefaultDelayedKey
//   - streamName: 到期后写回的 Stream 名称
func NewDelayed(rdb *redis.Client, logger *slog.Logger, key, streamName string) *Delayed {
	if key == "" {
		key = DefaultDelayedKey
	}
	return &Delayed{
		rdb:    rdb,
		key:    key,
		queue:  NewTaskQueue(rdb, logger, streamName),
		logger: logger,
	}
}

// Schedule 安排消息在 delay 之后重新入队。
func (d *Delayed) Schedule(ctx context.Context, msg *TaskMessage, delay time.Duration) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	due := time.Now().Add(delay)
	if err := d.rdb.ZAdd(ctx, d.key, redis.Z{
		Score:  float64(due.UnixMilli()),
		Member: string(data),
	}).Err(); err != nil {
		return fmt.Errorf("zadd failed: %w", err)
	}

	metrics.TaskDelayedTotal.Inc()
	d.logger.Info("job retry scheduled",
		slog.String("job_id", msg.JobID),
		slog.Int("attempt", msg.Attempt),
		slog.Duration("delay", delay))
	return nil
}

// promoteScript 原子性地把一条到期消息写回 Stream 并移出集合。
// 先 XADD 后 ZREM：XADD 出错时脚本中止，消息仍留在集合中等待下一轮。
// KEYS[1] = delayed zset, KEYS[2] = stream
// ARGV[1] = message JSON, ARGV[2] = stream maxlen
// 返回: 1 = 已回灌, 0 = 已被其他 worker 认领
var promoteScript = redis.NewScript(`
	if redis.call('ZSCORE', KEYS[1], ARGV[1]) == false then
		return 0
	end
	redis.call('XADD', KEYS[2], 'MAXLEN', '~', ARGV[2], '*', 'data', ARGV[1])
	redis.call('ZREM', KEYS[1], ARGV[1])
	return 1
`)

// PromoteDue 将到期的消息写回 Stream。
//
// 每条消息的发布与移除在同一个 Lua 脚本中完成，进程在两步之间崩溃不会丢失重试。
//
// 参数:
//   - now: 当前时间
//   - limit: 单次最多处理的条数
//
// 返回值:
//   - int: 本次由当前调用方回灌的条数
//   - error: Redis 错误
func (d *Delayed) PromoteDue(ctx context.Context, now time.Time, limit int64) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	members, err := d.rdb.ZRangeByScore(ctx, d.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("zrangebyscore failed: %w", err)
	}

	promoted := 0
	for _, member := range members {
		msg, err := parseMessage(member)
		if err != nil {
			if zerr := d.rdb.ZRem(ctx, d.key, member).Err(); zerr != nil {
				return promoted, fmt.Errorf("zrem malformed message: %w", zerr)
			}
			d.logger.Error("drop malformed delayed message", slog.String("error", err.Error()))
			continue
		}

		moved, err := promoteScript.Run(ctx, d.rdb,
			[]string{d.key, d.queue.Stream()}, member, streamMaxLen).Int()
		if err != nil {
			d.logger.Warn("delayed job promotion failed, kept for next round",
				slog.String("job_id", msg.JobID),
				slog.String("error", err.Error()))
			return promoted, fmt.Errorf("promote delayed message: %w", err)
		}
		// 0 说明已被其他 worker 认领
		if moved == 0 {
			continue
		}
		promoted++
		metrics.TaskPromotedTotal.Inc()
		d.logger.Debug("delayed job promoted", slog.String("job_id", msg.JobID), slog.Int("attempt", msg.Attempt))
	}
	return promoted, nil
}

// Count 返回等待中的延迟消息数量。
func (d *Delayed) Count(ctx context.Context) (int64, error) {
	n, err := d.rdb.ZCard(ctx, d.key).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return n, nil
}
