package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultStream 默认任务 Stream 名称。
const DefaultStream = "mapleads:jobs"

// streamMaxLen Stream 近似最大长度。
const streamMaxLen = 100000

// TaskQueue 封装 Redis Streams 的任务队列操作。
//
// 提供任务的发布、消费组创建与长度查询。
type TaskQueue struct {
	rdb        *redis.Client
	logger     *slog.Logger
	streamName string
}

// NewTaskQueue 创建一个新的任务队列实例。
//
// 参数:
//   - rdb: Redis 客户端
//   - logger: 日志记录器
//   - streamName: Stream 名称，为空时使用 DefaultStream
//
// 返回值:
//   - *TaskQueue: 任务队列实例
func NewTaskQueue(rdb *redis.Client, logger *slog.Logger, streamName string) *TaskQueue {
	if streamName == "" {
		streamName = DefaultStream
	}
	return &TaskQueue{
		rdb:        rdb,
		logger:     logger,
		streamName: streamName,
	}
}

// Stream 返回 Stream 名称。
func (q *TaskQueue) Stream() string { return q.streamName }

// Publish 发布一条任务消息到队列。
//
// 使用 XADD 命令将消息追加到 Stream。
func (q *TaskQueue) Publish(ctx context.Context, msg *TaskMessage) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return q.publishRaw(ctx, q.streamName, map[string]interface{}{
		"data": string(data),
	})
}

func (q *TaskQueue) publishRaw(ctx context.Context, stream string, values map[string]interface{}) error {
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: values,
	}

	msgID, err := q.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("xadd failed: %w", err)
	}

	q.logger.Debug("task message published",
		slog.String("stream", stream),
		slog.String("msg_id", msgID))

	return nil
}

// CreateConsumerGroup 创建消费者组。
//
// 使用 XGROUP CREATE MKSTREAM 创建消费者组，已存在时忽略。
func (q *TaskQueue) CreateConsumerGroup(ctx context.Context, groupName string) error {
	// 从 Stream 起始位置开始消费
	err := q.rdb.XGroupCreateMkStream(ctx, q.streamName, groupName, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}

	q.logger.Info("consumer group ready",
		slog.String("stream", q.streamName),
		slog.String("group", groupName))

	return nil
}

// StreamInfo 获取 Stream 中的消息数量。
func (q *TaskQueue) StreamInfo(ctx context.Context) (int64, error) {
	length, err := q.rdb.XLen(ctx, q.streamName).Result()
	if err != nil {
		return 0, fmt.Errorf("xlen failed: %w", err)
	}
	return length, nil
}

// parseMessage 解析 Redis Stream 消息。
func parseMessage(data string) (*TaskMessage, error) {
	var msg TaskMessage
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	if msg.JobID == "" {
		return nil, fmt.Errorf("message without job id")
	}
	if msg.Attempt <= 0 {
		msg.Attempt = 1
	}
	return &msg, nil
}
