package model

import (
	"time"
)

// 任务状态
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

// Job 表示一次线索抽取任务。
//
// 由提交方创建，worker 执行过程中更新进度与状态；
// 成功或重试耗尽后进入终态。
type Job struct {
	ID        string    `gorm:"type:char(36);primaryKey" json:"id"` // UUID
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	TenantID   string `gorm:"type:varchar(64);index;not null" json:"tenant_id"` // 所属租户
	Phrase     string `gorm:"type:varchar(255);not null" json:"search_phrase"`  // 搜索词（行业）
	City       string `gorm:"type:varchar(128);not null" json:"city"`           // 目标城市
	Limit      int    `gorm:"column:result_limit;not null" json:"limit"`        // 结果上限
	CampaignID string `gorm:"type:varchar(64)" json:"campaign_id,omitempty"`    // 可选的营销活动 ID
	WebhookURL string `gorm:"type:varchar(1024)" json:"webhook_url,omitempty"`  // 可选的回调地址

	Status         string     `gorm:"type:varchar(16);index;default:pending" json:"status"` // pending / running / succeeded / failed
	Attempts       int        `gorm:"default:0" json:"attempts"`                            // 已执行次数
	Progress       int        `gorm:"default:0" json:"progress"`                            // 0-100
	Message        string     `gorm:"type:varchar(512)" json:"message,omitempty"`           // 最近一条进度消息
	LeadsCollected int        `gorm:"default:0" json:"leads_collected"`
	LastError      string     `gorm:"type:text" json:"last_error,omitempty"`
	EgressTier     string     `gorm:"type:varchar(32)" json:"egress_tier,omitempty"` // 最终使用的出口层级
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// Terminal 任务是否已结束。
func (j *Job) Terminal() bool {
	return j.Status == JobSucceeded || j.Status == JobFailed
}

// Lead 持久化的联系人线索。
//
// 同一租户、同一活动下号码唯一（uniqueIndex idx_lead_unique）。
type Lead struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time

	TenantID   string `gorm:"type:varchar(64);not null;uniqueIndex:idx_lead_unique,priority:1"`
	CampaignID string `gorm:"type:varchar(64);not null;default:'';uniqueIndex:idx_lead_unique,priority:3"`
	Name       string `gorm:"type:varchar(255);not null"`
	Phone      string `gorm:"type:varchar(20);not null;uniqueIndex:idx_lead_unique,priority:2"`
	Origin     string `gorm:"type:varchar(32);default:gmaps_scraper"`
	Metadata   string `gorm:"type:json"` // {"niche","city","job_id","website"}
}

// Campaign 营销活动的线索计数。
type Campaign struct {
	ID         string `gorm:"type:varchar(64);primaryKey"`
	TenantID   string `gorm:"type:varchar(64);index"`
	TotalLeads int    `gorm:"default:0"`
	UpdatedAt  time.Time
}
