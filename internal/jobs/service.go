package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"mapleads/internal/model"
	"mapleads/internal/pkg/dedup"
	"mapleads/internal/pkg/metrics"
	"mapleads/internal/pkg/taskqueue"
	"mapleads/internal/store"
)

var (
	// ErrInvalidRequest 提交参数不合法。
	ErrInvalidRequest = errors.New("invalid job request")
	// ErrDuplicateJob 判重窗口内的重复提交。
	ErrDuplicateJob = errors.New("duplicate job submission")
	// ErrJobNotFound 任务不存在或不属于该租户。
	ErrJobNotFound = errors.New("job not found")
)

// SubmitRequest 任务提交参数。
type SubmitRequest struct {
	TenantID   string `json:"tenantId"`
	Phrase     string `json:"searchPhrase"`
	City       string `json:"city"`
	Limit      int    `json:"limit"`
	CampaignID string `json:"campaignId,omitempty"`
	WebhookURL string `json:"webhookUrl,omitempty"`
}

// Service 任务提交与查询。
type Service struct {
	jobs      JobStore
	publisher Publisher
	deduper   Deduper
	inspector QueueInspector
	maxLimit  int
	logger    *slog.Logger
	newID     func() string
}

// ServiceOption Service 的可选配置。
type ServiceOption func(*Service)

// WithDeduper 开启重复提交检测。
func WithDeduper(d Deduper) ServiceOption {
	return func(s *Service) {
		s.deduper = d
	}
}

// WithInspector 设置队列积压查询。
func WithInspector(i QueueInspector) ServiceOption {
	return func(s *Service) {
		s.inspector = i
	}
}

// NewService 创建任务服务。
//
// 参数:
//   - jobs: 任务存储
//   - publisher: 队列生产者
//   - maxLimit: 单任务最大条数，<=0 时取 500
//   - logger: 日志记录器
func NewService(jobs JobStore, publisher Publisher, maxLimit int, logger *slog.Logger, opts ...ServiceOption) *Service {
	if maxLimit <= 0 {
		maxLimit = 500
	}
	s := &Service{
		jobs:      jobs,
		publisher: publisher,
		maxLimit:  maxLimit,
		logger:    logger,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate 校验并规整提交参数。
func (s *Service) Validate(req *SubmitRequest) error {
	req.TenantID = strings.TrimSpace(req.TenantID)
	req.Phrase = strings.TrimSpace(req.Phrase)
	req.City = strings.TrimSpace(req.City)
	req.CampaignID = strings.TrimSpace(req.CampaignID)
	req.WebhookURL = strings.TrimSpace(req.WebhookURL)

	switch {
	case req.TenantID == "":
		return fmt.Errorf("%w: tenant id is required", ErrInvalidRequest)
	case req.Phrase == "":
		return fmt.Errorf("%w: search phrase is required", ErrInvalidRequest)
	case req.City == "":
		return fmt.Errorf("%w: city is required", ErrInvalidRequest)
	case req.Limit < 1 || req.Limit > s.maxLimit:
		return fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidRequest, s.maxLimit)
	}
	if req.WebhookURL != "" {
		u, err := url.Parse(req.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: webhook url must be an absolute http(s) url", ErrInvalidRequest)
		}
	}
	return nil
}

// Submit 创建任务记录并入队。
//
// 返回值:
//   - string: 任务 ID
//   - error: ErrInvalidRequest / ErrDuplicateJob / 存储或队列错误
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if err := s.Validate(&req); err != nil {
		return "", err
	}

	fp := dedup.Fingerprint(req.TenantID, req.Phrase, req.City, strconv.Itoa(req.Limit), req.CampaignID)
	if s.deduper != nil {
		dup, err := s.deduper.IsDuplicate(ctx, fp)
		if err != nil {
			// 判重不可用时放行
			s.logger.Warn("dedup check failed", slog.String("error", err.Error()))
		} else if dup {
			metrics.JobDuplicatePreventedTotal.Inc()
			return "", ErrDuplicateJob
		}
	}

	job := &model.Job{
		ID:         s.newID(),
		TenantID:   req.TenantID,
		Phrase:     req.Phrase,
		City:       req.City,
		Limit:      req.Limit,
		CampaignID: req.CampaignID,
		WebhookURL: req.WebhookURL,
		Status:     model.JobPending,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		s.release(ctx, fp)
		return "", fmt.Errorf("create job: %w", err)
	}
	if err := s.publisher.SubmitJob(ctx, job.ID, job.TenantID, "api"); err != nil {
		s.release(ctx, fp)
		if markErr := s.jobs.MarkFailed(ctx, job.ID, "enqueue failed: "+err.Error()); markErr != nil {
			s.logger.Error("mark unqueued job failed", slog.String("job_id", job.ID), slog.String("error", markErr.Error()))
		}
		return "", fmt.Errorf("enqueue job: %w", err)
	}

	s.logger.Info("job accepted",
		slog.String("job_id", job.ID),
		slog.String("tenant_id", job.TenantID),
		slog.String("phrase", job.Phrase),
		slog.String("city", job.City),
		slog.Int("limit", job.Limit))
	return job.ID, nil
}

func (s *Service) release(ctx context.Context, fp string) {
	if s.deduper == nil {
		return
	}
	if err := s.deduper.Release(ctx, fp); err != nil {
		s.logger.Warn("dedup release failed", slog.String("error", err.Error()))
	}
}

// Status 查询任务，tenantID 非空时只返回该租户的任务。
func (s *Service) Status(ctx context.Context, tenantID, jobID string) (*model.Job, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	if tenantID != "" && job.TenantID != tenantID {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// QueueStats 返回队列积压，未配置查询器时返回零值。
func (s *Service) QueueStats(ctx context.Context) (taskqueue.Stats, error) {
	if s.inspector == nil {
		return taskqueue.Stats{}, nil
	}
	return s.inspector.Stats(ctx)
}
