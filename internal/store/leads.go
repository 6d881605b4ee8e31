package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mapleads/internal/model"
)

// LeadRepository 线索批量写入与活动计数。
type LeadRepository struct {
	db        *gorm.DB
	batchSize int
}

// NewLeadRepository 创建线索仓库。
func NewLeadRepository(db *gorm.DB) *LeadRepository {
	return &LeadRepository{db: db, batchSize: 200}
}

// BulkInsert 批量写入，(tenant, phone, campaign) 已存在的记录跳过。
//
// 返回值:
//   - int64: 实际写入的条数
func (r *LeadRepository) BulkInsert(ctx context.Context, leads []model.Lead) (int64, error) {
	if len(leads) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&leads, r.batchSize)
	if res.Error != nil {
		return 0, fmt.Errorf("bulk insert leads: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// IncrementCampaignLeads 原子增加活动的线索计数，活动不存在时创建。
func (r *LeadRepository) IncrementCampaignLeads(ctx context.Context, tenantID, campaignID string, n int) error {
	if campaignID == "" || n <= 0 {
		return nil
	}
	campaign := model.Campaign{ID: campaignID, TenantID: tenantID, TotalLeads: n}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"total_leads": gorm.Expr("total_leads + ?", n),
		}),
	}).Create(&campaign).Error
	if err != nil {
		return fmt.Errorf("increment campaign %s: %w", campaignID, err)
	}
	return nil
}
