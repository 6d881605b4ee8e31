package notify

import (
	"context"
	"time"
)

// JobAlert 任务最终失败的告警内容。
type JobAlert struct {
	JobID    string
	TenantID string
	Phrase   string
	City     string
	Attempts int
	Error    string
	FailedAt time.Time
}

// Notifier 运维告警接口。
type Notifier interface {
	// JobFailed 任务重试耗尽后通知运维。
	JobFailed(ctx context.Context, alert JobAlert) error
}

// Nop 不发送任何通知。
type Nop struct{}

func (Nop) JobFailed(context.Context, JobAlert) error { return nil }
