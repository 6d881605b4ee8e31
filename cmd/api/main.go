package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mapleads/internal/api"
	"mapleads/internal/config"
	"mapleads/internal/jobs"
	"mapleads/internal/pkg/dedup"
	"mapleads/internal/pkg/logger"
	"mapleads/internal/pkg/taskqueue"
	"mapleads/internal/store"

	"github.com/redis/go-redis/v9"
)

// main 是 API 服务的入口函数。
//
// 它负责：
// 1. 加载配置
// 2. 初始化日志、MySQL 与 Redis
// 3. 启动任务提交 API
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.MySQL.DSN)
	if err != nil {
		appLogger.Error("mysql unavailable", slog.String("error", err.Error()))
		os.Exit(1)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		appLogger.Error("redis unavailable", slog.String("error", err.Error()))
		os.Exit(1)
	}

	svc := jobs.NewService(
		store.NewJobStore(db),
		taskqueue.NewProducer(rdb, appLogger, cfg.Jobs.Stream),
		cfg.Extraction.MaxLimit,
		appLogger,
		jobs.WithDeduper(dedup.NewDeduplicator(rdb, cfg.App.DedupWindow.Duration)),
		jobs.WithInspector(taskqueue.NewInspector(rdb, cfg.Jobs.Stream, cfg.Jobs.Group, cfg.Jobs.DelayedKey)),
	)

	srv := api.NewServer(cfg, appLogger, svc, map[string]api.HealthCheck{
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		"mysql": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	})

	httpServer := &http.Server{
		Addr:    cfg.App.HTTPAddr,
		Handler: srv.Router(),
	}

	go func() {
		appLogger.Info("api server listening", slog.String("addr", cfg.App.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("server run failed", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	appLogger.Info("shutting down api server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("http shutdown failed", slog.String("error", err.Error()))
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if err := rdb.Close(); err != nil {
		appLogger.Error("close redis failed", slog.String("error", err.Error()))
	}
}
