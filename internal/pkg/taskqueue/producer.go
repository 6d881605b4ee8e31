package taskqueue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Producer 任务生产者，负责发布任务到队列。
//
// 由 API 服务使用，将新提交的抽取任务发布到 Redis Streams。
type Producer struct {
	queue  *TaskQueue
	logger *slog.Logger
}

// NewProducer 创建一个新的任务生产者。
//
// 参数:
//   - rdb: Redis 客户端
//   - logger: 日志记录器
//   - streamName: Stream 名称（可选，默认为 DefaultStream）
func NewProducer(rdb *redis.Client, logger *slog.Logger, streamName ...string) *Producer {
	stream := DefaultStream
	if len(streamName) > 0 && streamName[0] != "" {
		stream = streamName[0]
	}

	return &Producer{
		queue:  NewTaskQueue(rdb, logger, stream),
		logger: logger,
	}
}

// SubmitJob 提交一个抽取任务到队列等待执行。
//
// 参数:
//   - ctx: 上下文
//   - jobID: 任务 ID
//   - tenantID: 租户 ID
//   - source: 任务来源
//
// 返回值:
//   - error: 提交失败时返回错误
func (p *Producer) SubmitJob(ctx context.Context, jobID, tenantID, source string) error {
	if jobID == "" {
		return fmt.Errorf("invalid job id: empty")
	}
	if source == "" {
		source = "unknown"
	}

	msg := NewExtractMessage(jobID, tenantID, source)
	if err := p.queue.Publish(ctx, msg); err != nil {
		p.logger.Error("submit job failed",
			slog.String("job_id", jobID),
			slog.String("source", source),
			slog.String("error", err.Error()))
		return err
	}

	p.logger.Info("job submitted",
		slog.String("job_id", jobID),
		slog.String("tenant_id", tenantID),
		slog.String("source", source))

	return nil
}

// QueueLength 获取当前队列长度。
func (p *Producer) QueueLength(ctx context.Context) (int64, error) {
	return p.queue.StreamInfo(ctx)
}
