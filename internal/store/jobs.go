package store

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"mapleads/internal/model"
)

// maxMessageBytes 进度消息列的长度上限。
const maxMessageBytes = 512

// truncateUTF8 把 s 截断到不超过 max 字节，且不切开多字节字符。
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// JobStore 基于 gorm 的任务记录存储。
type JobStore struct {
	db *gorm.DB
}

// NewJobStore 创建任务存储。
func NewJobStore(db *gorm.DB) *JobStore {
	return &JobStore{db: db}
}

func (s *JobStore) Create(ctx context.Context, job *model.Job) error {
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*model.Job, error) {
	var job model.Job
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// MarkRunning 进入 running 并记录尝试序号。
func (s *JobStore) MarkRunning(ctx context.Context, id string, attempt int) error {
	now := time.Now()
	return s.update(ctx, id, map[string]any{
		"status":     model.JobRunning,
		"attempts":   attempt,
		"progress":   0,
		"message":    "",
		"started_at": &now,
	})
}

// UpdateProgress 更新进度，percent<0 时只更新消息。
func (s *JobStore) UpdateProgress(ctx context.Context, id string, percent int, message string) error {
	fields := map[string]any{}
	if percent >= 0 {
		fields["progress"] = percent
	}
	if message != "" {
		fields["message"] = truncateUTF8(message, maxMessageBytes)
	}
	if len(fields) == 0 {
		return nil
	}
	return s.update(ctx, id, fields)
}

func (s *JobStore) MarkSucceeded(ctx context.Context, id string, leads int, tier string) error {
	now := time.Now()
	return s.update(ctx, id, map[string]any{
		"status":          model.JobSucceeded,
		"progress":        100,
		"leads_collected": leads,
		"egress_tier":     tier,
		"last_error":      "",
		"finished_at":     &now,
	})
}

// MarkRetrying 本次尝试失败，等待延迟重试。
func (s *JobStore) MarkRetrying(ctx context.Context, id string, errMsg string) error {
	return s.update(ctx, id, map[string]any{
		"status":     model.JobPending,
		"last_error": errMsg,
	})
}

func (s *JobStore) MarkFailed(ctx context.Context, id string, errMsg string) error {
	now := time.Now()
	return s.update(ctx, id, map[string]any{
		"status":      model.JobFailed,
		"progress":    0,
		"last_error":  errMsg,
		"finished_at": &now,
	})
}

func (s *JobStore) update(ctx context.Context, id string, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&model.Job{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update job %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		// 值未变化时 MySQL 也返回 0，这里只区分不存在的任务
		var n int64
		if err := s.db.WithContext(ctx).Model(&model.Job{}).Where("id = ?", id).Count(&n).Error; err == nil && n == 0 {
			return ErrNotFound
		}
	}
	return nil
}
