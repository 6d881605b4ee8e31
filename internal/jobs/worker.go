package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mapleads/internal/config"
	"mapleads/internal/crawler"
	"mapleads/internal/model"
	"mapleads/internal/pkg/metrics"
	"mapleads/internal/pkg/notify"
	"mapleads/internal/pkg/taskqueue"
	"mapleads/internal/store"
	"mapleads/internal/webhook"
)

// Worker 从队列消费抽取任务。
//
// 每个进程按 Concurrency 开启若干槽位，先占槽位再读队列，
// 处理不过来时不会继续拉取消息。
type Worker struct {
	cfg    config.JobsConfig
	origin string
	queue  Queue
	jobs   JobStore
	leads  LeadRepository
	engine Extractor
	hooks  Hooks
	alerts notify.Notifier
	logger *slog.Logger
	now    func() time.Time
}

// NewWorker 创建任务 worker。
//
// 参数:
//   - cfg: 队列与重试配置
//   - origin: 线索来源标签
//   - queue: 队列消费者
//   - jobs: 任务存储
//   - leads: 线索仓库
//   - engine: 抽取引擎
//   - hooks: webhook 投递
//   - alerts: 最终失败告警
//   - logger: 日志记录器
func NewWorker(cfg config.JobsConfig, origin string, queue Queue, jobs JobStore, leads LeadRepository, engine Extractor, hooks Hooks, alerts notify.Notifier, logger *slog.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.JobTimeout.Duration <= 0 {
		cfg.JobTimeout = config.D(6 * time.Minute)
	}
	if origin == "" {
		origin = "gmaps_scraper"
	}
	if alerts == nil {
		alerts = notify.Nop{}
	}
	return &Worker{
		cfg:    cfg,
		origin: origin,
		queue:  queue,
		jobs:   jobs,
		leads:  leads,
		engine: engine,
		hooks:  hooks,
		alerts: alerts,
		logger: logger,
		now:    time.Now,
	}
}

// Run 消费循环，ctx 取消后停止拉取并等待进行中的任务结束。
//
// 进行中的任务不随 ctx 取消；进程退出时未确认的消息由其他 worker 通过 XAUTOCLAIM 接管。
func (w *Worker) Run(ctx context.Context) error {
	sem := make(chan struct{}, w.cfg.Concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	w.logger.Info("job worker started", slog.Int("slots", w.cfg.Concurrency))

	for {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			w.logger.Info("job worker stopping")
			return ctx.Err()
		}

		msgs, err := w.queue.Read(ctx)
		if err != nil {
			<-sem
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			w.logger.Error("read job queue failed", slog.String("error", err.Error()))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		if len(msgs) == 0 {
			<-sem
			continue
		}

		wg.Add(1)
		go func(batch []*taskqueue.MessageWithID) {
			defer func() {
				<-sem
				wg.Done()
			}()
			for _, m := range batch {
				w.Process(context.WithoutCancel(ctx), m)
			}
		}(msgs)
	}
}

// Process 处理一条队列消息：执行任务并确认、重试或转入死信。
func (w *Worker) Process(ctx context.Context, m *taskqueue.MessageWithID) {
	logger := w.logger.With(
		slog.String("job_id", m.Message.JobID),
		slog.Int("attempt", m.Message.Attempt))

	job, err := w.jobs.Get(ctx, m.Message.JobID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn("job record missing, dropping message")
		w.ack(ctx, logger, m)
		return
	}
	if err != nil {
		// 不确认，等待重新认领
		logger.Error("load job failed", slog.String("error", err.Error()))
		return
	}
	if job.Terminal() {
		logger.Info("job already finished, skipping redelivery", slog.String("status", job.Status))
		w.ack(ctx, logger, m)
		return
	}

	start := w.now()
	metrics.JobsActive.Inc()
	err = w.execute(ctx, logger, job, m.Message.Attempt)
	metrics.JobsActive.Dec()
	metrics.JobDuration.Observe(w.now().Sub(start).Seconds())

	if err == nil {
		metrics.JobsProcessedTotal.WithLabelValues("succeeded").Inc()
		w.ack(ctx, logger, m)
		return
	}
	w.fail(ctx, logger, job, m, err)
}

// execute 执行一次尝试。只有返回 error 时任务才会重试。
func (w *Worker) execute(ctx context.Context, logger *slog.Logger, job *model.Job, attempt int) error {
	if err := w.jobs.MarkRunning(ctx, job.ID, attempt); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	logger.Info("job started",
		slog.String("phrase", job.Phrase),
		slog.String("city", job.City),
		slog.Int("limit", job.Limit))

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout.Duration)
	defer cancel()

	res, err := w.extract(jobCtx, job, func(p crawler.Progress) {
		percent := -1
		if p.Percent > 0 {
			percent = p.Percent
		}
		if err := w.jobs.UpdateProgress(ctx, job.ID, percent, p.Message); err != nil {
			logger.Debug("update progress failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return err
	}

	if err := w.persist(ctx, logger, job, res.Leads); err != nil {
		return err
	}
	if err := w.jobs.MarkSucceeded(ctx, job.ID, len(res.Leads), res.Tier); err != nil {
		return fmt.Errorf("mark succeeded: %w", err)
	}

	logger.Info("job succeeded",
		slog.Int("leads", len(res.Leads)),
		slog.String("tier", res.Tier),
		slog.Int("extraction_attempts", res.Attempts),
		slog.Duration("duration", res.Duration))

	// 通知失败不影响任务状态
	w.hooks.Notify(job.WebhookURL, webhook.Completed(job.Phrase, job.City, len(res.Leads), job.CampaignID, w.now()))
	return nil
}

func (w *Worker) extract(ctx context.Context, job *model.Job, onProgress crawler.ProgressFunc) (res *crawler.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extraction panic: %v", r)
		}
	}()
	res, err = w.engine.Extract(ctx, crawler.Request{
		Phrase:   job.Phrase,
		City:     job.City,
		Limit:    job.Limit,
		TenantID: job.TenantID,
		JobID:    job.ID,
	}, onProgress)
	if err == nil && res == nil {
		res = &crawler.Result{}
	}
	return res, err
}

// persist 批量写入线索并累加活动计数。
func (w *Worker) persist(ctx context.Context, logger *slog.Logger, job *model.Job, leads []crawler.Lead) error {
	if len(leads) == 0 {
		return nil
	}
	rows := toModelLeads(job, leads, w.origin)
	inserted, err := w.leads.BulkInsert(ctx, rows)
	if err != nil {
		return fmt.Errorf("persist leads: %w", err)
	}
	if skipped := int64(len(rows)) - inserted; skipped > 0 {
		logger.Info("leads already known, skipped", slog.Int64("skipped", skipped))
	}
	if job.CampaignID != "" && inserted > 0 {
		if err := w.leads.IncrementCampaignLeads(ctx, job.TenantID, job.CampaignID, int(inserted)); err != nil {
			return fmt.Errorf("increment campaign: %w", err)
		}
	}
	return nil
}

// fail 尝试失败：安排重试，或在重试耗尽后标记失败并通知。
func (w *Worker) fail(ctx context.Context, logger *slog.Logger, job *model.Job, m *taskqueue.MessageWithID, cause error) {
	action, delay, err := w.queue.HandleFailure(ctx, m, cause)
	if err != nil {
		logger.Error("handle job failure failed", slog.String("cause", cause.Error()), slog.String("error", err.Error()))
		return
	}

	switch action {
	case taskqueue.FailureActionRetry:
		metrics.JobsProcessedTotal.WithLabelValues("retry").Inc()
		logger.Warn("job attempt failed, retry scheduled",
			slog.String("error", cause.Error()),
			slog.Duration("delay", delay))
		if err := w.jobs.MarkRetrying(ctx, job.ID, cause.Error()); err != nil {
			logger.Error("mark retrying failed", slog.String("error", err.Error()))
		}

	case taskqueue.FailureActionDLQ:
		metrics.JobsProcessedTotal.WithLabelValues("failed").Inc()
		logger.Error("job failed permanently", slog.String("error", cause.Error()))
		if err := w.jobs.MarkFailed(ctx, job.ID, cause.Error()); err != nil {
			logger.Error("mark failed failed", slog.String("error", err.Error()))
		}
		w.hooks.Notify(job.WebhookURL, webhook.Failed(job.Phrase, job.City, cause.Error()))
		if err := w.alerts.JobFailed(ctx, notify.JobAlert{
			JobID:    job.ID,
			TenantID: job.TenantID,
			Phrase:   job.Phrase,
			City:     job.City,
			Attempts: m.Message.Attempt,
			Error:    cause.Error(),
			FailedAt: w.now(),
		}); err != nil {
			logger.Warn("failure alert not sent", slog.String("error", err.Error()))
		}
	}
}

func (w *Worker) ack(ctx context.Context, logger *slog.Logger, m *taskqueue.MessageWithID) {
	if err := w.queue.Ack(ctx, m.ID); err != nil {
		logger.Error("ack job message failed", slog.String("msg_id", m.ID), slog.String("error", err.Error()))
	}
}

type leadMetadata struct {
	Origin  string `json:"origin"`
	Niche   string `json:"niche"`
	City    string `json:"city"`
	JobID   string `json:"job_id"`
	Website string `json:"website,omitempty"`
}

// toModelLeads 转换为持久化结构。
func toModelLeads(job *model.Job, leads []crawler.Lead, origin string) []model.Lead {
	out := make([]model.Lead, 0, len(leads))
	for _, l := range leads {
		o := l.Origin
		if o == "" {
			o = origin
		}
		meta, _ := json.Marshal(leadMetadata{
			Origin:  o,
			Niche:   job.Phrase,
			City:    job.City,
			JobID:   job.ID,
			Website: l.Website,
		})
		out = append(out, model.Lead{
			TenantID:   job.TenantID,
			CampaignID: job.CampaignID,
			Name:       l.Name,
			Phone:      l.Phone,
			Origin:     o,
			Metadata:   string(meta),
		})
	}
	return out
}
