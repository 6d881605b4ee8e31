package jobs

import (
	"context"
	"time"

	"mapleads/internal/crawler"
	"mapleads/internal/model"
	"mapleads/internal/pkg/taskqueue"
	"mapleads/internal/webhook"
)

// JobStore 任务记录的持久化端口（生产实现为 store.JobStore）。
type JobStore interface {
	Create(ctx context.Context, job *model.Job) error
	Get(ctx context.Context, id string) (*model.Job, error)
	MarkRunning(ctx context.Context, id string, attempt int) error
	UpdateProgress(ctx context.Context, id string, percent int, message string) error
	MarkSucceeded(ctx context.Context, id string, leads int, tier string) error
	MarkRetrying(ctx context.Context, id string, errMsg string) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
}

// LeadRepository 线索持久化端口（生产实现为 store.LeadRepository）。
type LeadRepository interface {
	BulkInsert(ctx context.Context, leads []model.Lead) (int64, error)
	IncrementCampaignLeads(ctx context.Context, tenantID, campaignID string, n int) error
}

// Publisher 将新任务写入队列。
type Publisher interface {
	SubmitJob(ctx context.Context, jobID, tenantID, source string) error
}

// Deduper 提交去重。
type Deduper interface {
	IsDuplicate(ctx context.Context, fingerprint string) (bool, error)
	Release(ctx context.Context, fingerprint string) error
}

// QueueInspector 队列积压查询。
type QueueInspector interface {
	Stats(ctx context.Context) (taskqueue.Stats, error)
}

// Queue worker 侧的队列操作（生产实现为 taskqueue.Consumer）。
type Queue interface {
	Read(ctx context.Context) ([]*taskqueue.MessageWithID, error)
	Ack(ctx context.Context, msgID string) error
	HandleFailure(ctx context.Context, msg *taskqueue.MessageWithID, cause error) (taskqueue.FailureAction, time.Duration, error)
}

// Extractor 线索抽取（生产实现为 crawler.Engine）。
type Extractor interface {
	Extract(ctx context.Context, req crawler.Request, onProgress crawler.ProgressFunc) (*crawler.Result, error)
}

// Hooks 异步 webhook 投递（生产实现为 webhook.Dispatcher）。
type Hooks interface {
	Notify(url string, ev webhook.Event)
}
