package taskqueue

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Stats 队列积压快照。
type Stats struct {
	Length  int64 `json:"length"`  // Stream 中的消息数
	Pending int64 `json:"pending"` // 已投递未确认
	Delayed int64 `json:"delayed"` // 等待重试
}

// Inspector 只读的队列状态查询，供 API 进程使用（不创建消费组）。
type Inspector struct {
	rdb        *redis.Client
	stream     string
	group      string
	delayedKey string
}

// NewInspector 创建队列状态查询器。
func NewInspector(rdb *redis.Client, stream, group, delayedKey string) *Inspector {
	if stream == "" {
		stream = DefaultStream
	}
	if delayedKey == "" {
		delayedKey = DefaultDelayedKey
	}
	return &Inspector{rdb: rdb, stream: stream, group: group, delayedKey: delayedKey}
}

// Stats 查询积压。Stream 或消费组尚未创建时对应计数为 0。
func (i *Inspector) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	length, err := i.rdb.XLen(ctx, i.stream).Result()
	if err != nil {
		return s, fmt.Errorf("xlen failed: %w", err)
	}
	s.Length = length

	if i.group != "" {
		info, err := i.rdb.XPending(ctx, i.stream, i.group).Result()
		switch {
		case err == nil:
			s.Pending = info.Count
		case strings.Contains(err.Error(), "NOGROUP"):
		default:
			return s, fmt.Errorf("xpending failed: %w", err)
		}
	}

	delayed, err := i.rdb.ZCard(ctx, i.delayedKey).Result()
	if err != nil {
		return s, fmt.Errorf("zcard failed: %w", err)
	}
	s.Delayed = delayed
	return s, nil
}
