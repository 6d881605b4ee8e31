package store

import (
	"errors"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"mapleads/internal/model"
)

// ErrNotFound 记录不存在。
var ErrNotFound = errors.New("record not found")

// Open 连接 MySQL 并执行自动迁移。
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent), // 关闭 GORM 调试日志
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate 创建或更新表结构。
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.Job{}, &model.Lead{}, &model.Campaign{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
