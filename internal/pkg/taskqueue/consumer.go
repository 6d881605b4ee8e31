package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mapleads/internal/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

// Consumer 任务消费者，负责从队列中读取任务并处理失败。
//
// 由 worker 使用，从 Redis Streams 消费组中读取任务消息。
type Consumer struct {
	queue            *TaskQueue
	logger           *slog.Logger
	groupName        string // 消费者组名称
	consumerID       string // 消费者唯一标识
	blockTime        time.Duration
	batchSize        int64
	pendingIdle      time.Duration
	pendingStart     string
	deadLetterStream string
	maxAttempts      int
	backoffBase      time.Duration
	delayed          *Delayed
}

// FailureAction 失败消息的处理方式。
type FailureAction string

const (
	FailureActionNone  FailureAction = "none"
	FailureActionRetry FailureAction = "retry"
	FailureActionDLQ   FailureAction = "dlq"
)

// GroupName 返回消费者组名称。
func (c *Consumer) GroupName() string {
	return c.groupName
}

// ConsumerID 返回消费者标识。
func (c *Consumer) ConsumerID() string {
	return c.consumerID
}

// ConsumerOption 消费者配置选项。
type ConsumerOption func(*Consumer)

// WithBlockTime 设置阻塞等待时间。
func WithBlockTime(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.blockTime = d
	}
}

// WithBatchSize 设置每次读取的消息数量。
func WithBatchSize(size int64) ConsumerOption {
	return func(c *Consumer) {
		c.batchSize = size
	}
}

// WithPendingIdle 设置 Pending 消息的最小空闲时间。
func WithPendingIdle(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.pendingIdle = d
	}
}

// WithDeadLetterStream 设置死信 Stream 名称。
func WithDeadLetterStream(stream string) ConsumerOption {
	return func(c *Consumer) {
		c.deadLetterStream = stream
	}
}

// WithMaxAttempts 设置最大尝试次数（含首次）。
func WithMaxAttempts(n int) ConsumerOption {
	return func(c *Consumer) {
		c.maxAttempts = n
	}
}

// WithBackoffBase 设置延迟重试的退避基数。
func WithBackoffBase(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.backoffBase = d
	}
}

// WithDelayed 设置延迟重试集合；未设置时失败消息立即重新入队。
func WithDelayed(d *Delayed) ConsumerOption {
	return func(c *Consumer) {
		c.delayed = d
	}
}

// NewConsumer 创建一个新的任务消费者。
//
// 会自动创建消费者组（如果不存在）。
//
// 参数:
//   - rdb: Redis 客户端
//   - logger: 日志记录器
//   - streamName: Stream 名称
//   - groupName: 消费者组名称
//   - consumerID: 消费者唯一标识（为空时自动生成）
//   - opts: 可选配置
//
// 返回值:
//   - *Consumer: 消费者实例
//   - error: 创建失败时返回错误
func NewConsumer(rdb *redis.Client, logger *slog.Logger, streamName string, groupName string, consumerID string, opts ...ConsumerOption) (*Consumer, error) {
	if groupName == "" {
		return nil, fmt.Errorf("group name is required")
	}

	if consumerID == "" {
		consumerID = fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}

	if streamName == "" {
		streamName = DefaultStream
	}

	c := &Consumer{
		queue:            NewTaskQueue(rdb, logger, streamName),
		logger:           logger,
		groupName:        groupName,
		consumerID:       consumerID,
		blockTime:        1 * time.Second,
		batchSize:        1, // 一次只取一个任务，执行时间长
		pendingIdle:      10 * time.Minute,
		pendingStart:     "0-0",
		deadLetterStream: streamName + ":dlq",
		maxAttempts:      2,
		backoffBase:      10 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	if err := c.queue.CreateConsumerGroup(context.Background(), groupName); err != nil {
		return nil, err
	}

	c.logger.Info("consumer created",
		slog.String("group", groupName),
		slog.String("consumer_id", consumerID))

	return c, nil
}

// MessageWithID 包含消息 ID 的任务消息。
type MessageWithID struct {
	ID      string       // Redis Stream 消息 ID
	Message *TaskMessage // 任务消息内容
}

// Read 从队列中读取任务消息。
//
// 优先通过 XAUTOCLAIM 认领其他消费者超时未确认的消息，
// 没有时再用 XREADGROUP 读取新消息。
func (c *Consumer) Read(ctx context.Context) ([]*MessageWithID, error) {
	pending, err := c.readPending(ctx)
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		return pending, nil
	}

	return c.readNew(ctx)
}

func (c *Consumer) readPending(ctx context.Context) ([]*MessageWithID, error) {
	messages, nextStart, err := c.queue.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.queue.streamName,
		Group:    c.groupName,
		Consumer: c.consumerID,
		MinIdle:  c.pendingIdle,
		Start:    c.pendingStart,
		Count:    c.batchSize,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xautoclaim failed: %w", err)
	}
	if nextStart != "" {
		c.pendingStart = nextStart
	}

	if len(messages) > 0 {
		metrics.TaskAutoClaimTotal.Add(float64(len(messages)))
		c.logger.Warn("reclaimed idle messages", slog.Int("count", len(messages)))
	}

	return c.parseMessages(ctx, messages)
}

func (c *Consumer) readNew(ctx context.Context) ([]*MessageWithID, error) {
	streams, err := c.queue.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.groupName,
		Consumer: c.consumerID,
		Streams:  []string{c.queue.streamName, ">"},
		Count:    c.batchSize,
		Block:    c.blockTime,
	}).Result()

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup failed: %w", err)
	}

	var messages []redis.XMessage
	for _, stream := range streams {
		messages = append(messages, stream.Messages...)
	}

	return c.parseMessages(ctx, messages)
}

func (c *Consumer) parseMessages(ctx context.Context, messages []redis.XMessage) ([]*MessageWithID, error) {
	if len(messages) == 0 {
		return nil, nil
	}

	parsed := make([]*MessageWithID, 0, len(messages))
	for _, msg := range messages {
		data, ok := msg.Values["data"].(string)
		if !ok || data == "" {
			c.logger.Warn("invalid message format",
				slog.String("msg_id", msg.ID))
			c.handlePoisonMessage(ctx, msg.ID, fmt.Sprintf("%v", msg.Values["data"]), "invalid message format")
			continue
		}

		taskMsg, err := parseMessage(data)
		if err != nil {
			c.logger.Error("parse message failed",
				slog.String("msg_id", msg.ID),
				slog.String("error", err.Error()))
			c.handlePoisonMessage(ctx, msg.ID, data, err.Error())
			continue
		}

		parsed = append(parsed, &MessageWithID{
			ID:      msg.ID,
			Message: taskMsg,
		})
	}

	return parsed, nil
}

// Ack 确认消息已处理。
func (c *Consumer) Ack(ctx context.Context, msgID string) error {
	acked, err := c.queue.rdb.XAck(ctx, c.queue.streamName, c.groupName, msgID).Result()
	if err != nil {
		return fmt.Errorf("xack failed: %w", err)
	}

	if acked == 0 {
		c.logger.Warn("message not acked (may already be acked)",
			slog.String("msg_id", msgID))
	}

	return nil
}

// Backoff 返回第 attempt 次尝试失败后的重试延迟：base·2^(attempt−1)。
func (c *Consumer) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 20 {
		attempt = 20
	}
	return c.backoffBase * time.Duration(1<<(attempt-1))
}

// HandleFailure 根据尝试次数安排延迟重试或放入死信队列，并确认原消息。
//
// 返回值:
//   - FailureAction: 实际采取的处理方式
//   - time.Duration: 重试延迟（仅 FailureActionRetry 有效）
//   - error: 处理失败时返回错误，此时原消息未确认，会被 XAUTOCLAIM 重新认领
func (c *Consumer) HandleFailure(ctx context.Context, msg *MessageWithID, cause error) (FailureAction, time.Duration, error) {
	if msg == nil || msg.Message == nil {
		return FailureActionNone, 0, fmt.Errorf("message is nil")
	}

	if msg.Message.Attempt >= c.maxAttempts {
		if err := c.publishDeadLetter(ctx, msg.ID, msg.Message, cause); err != nil {
			return FailureActionDLQ, 0, err
		}
		metrics.TaskDLQTotal.Inc()
		return FailureActionDLQ, 0, c.Ack(ctx, msg.ID)
	}

	next := msg.Message.NextAttempt()
	delay := c.Backoff(msg.Message.Attempt)
	if c.delayed != nil {
		if err := c.delayed.Schedule(ctx, next, delay); err != nil {
			return FailureActionRetry, delay, err
		}
	} else if err := c.queue.Publish(ctx, next); err != nil {
		return FailureActionRetry, 0, err
	}

	return FailureActionRetry, delay, c.Ack(ctx, msg.ID)
}

func (c *Consumer) handlePoisonMessage(ctx context.Context, msgID string, payload string, reason string) {
	if err := c.publishDeadLetter(ctx, msgID, payload, errors.New(reason)); err != nil {
		c.logger.Error("publish dead letter failed", slog.String("msg_id", msgID), slog.String("error", err.Error()))
	}
	metrics.TaskDLQTotal.Inc()
	if err := c.Ack(ctx, msgID); err != nil {
		c.logger.Error("ack poison message failed", slog.String("msg_id", msgID), slog.String("error", err.Error()))
	}
}

func (c *Consumer) publishDeadLetter(ctx context.Context, msgID string, payload interface{}, cause error) error {
	raw := payload
	if msg, ok := payload.(*TaskMessage); ok {
		if data, err := json.Marshal(msg); err == nil {
			raw = string(data)
		}
	}

	return c.queue.publishRaw(ctx, c.deadLetterStream, map[string]interface{}{
		"original_id": msgID,
		"payload":     raw,
		"reason":      cause.Error(),
		"failed_at":   time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Pending 获取已投递但未确认的消息数量。
func (c *Consumer) Pending(ctx context.Context) (int64, error) {
	info, err := c.queue.rdb.XPending(ctx, c.queue.streamName, c.groupName).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending failed: %w", err)
	}
	return info.Count, nil
}
