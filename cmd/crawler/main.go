package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"mapleads/internal/config"
	"mapleads/internal/crawler"
	"mapleads/internal/egress"
	"mapleads/internal/geo"
	"mapleads/internal/humanize"
	"mapleads/internal/identity"
	"mapleads/internal/jobs"
	"mapleads/internal/pkg/logger"
	"mapleads/internal/pkg/metrics"
	"mapleads/internal/pkg/notify"
	"mapleads/internal/pkg/ratelimit"
	"mapleads/internal/pkg/taskqueue"
	"mapleads/internal/store"
	"mapleads/internal/webhook"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// main 是抽取 worker 的入口函数。
//
// 它负责：
// 1. 加载配置并初始化日志、Redis、MySQL
// 2. 组装出口控制器、浏览器启动器与抽取引擎
// 3. 启动任务 worker、延迟重试回灌与 webhook 投递池
// 4. 提供 metrics / healthz / 出口诊断端点
// 5. 优雅关闭
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	metrics.InitMetrics(cfg.Jobs.Concurrency)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		appLogger.Error("redis unavailable", slog.String("error", err.Error()))
		os.Exit(1)
	}

	db, err := store.Open(cfg.MySQL.DSN)
	if err != nil {
		appLogger.Error("mysql unavailable", slog.String("error", err.Error()))
		os.Exit(1)
	}

	engine := buildEngine(cfg, rdb, appLogger)
	controller := engine.controller

	// webhook 在独立的池中投递
	hookClient := webhook.NewClient(cfg.Webhook, appLogger)
	dispatcher := webhook.NewDispatcher(cfg.Webhook, hookClient, appLogger)
	dispatcher.Start(context.Background())

	delayed := taskqueue.NewDelayed(rdb, appLogger, cfg.Jobs.DelayedKey, cfg.Jobs.Stream)
	consumer, err := taskqueue.NewConsumer(rdb, appLogger, cfg.Jobs.Stream, cfg.Jobs.Group, consumerID(),
		taskqueue.WithBlockTime(cfg.Jobs.BlockTime.Duration),
		taskqueue.WithPendingIdle(cfg.Jobs.PendingIdle.Duration),
		taskqueue.WithDeadLetterStream(cfg.Jobs.DeadLetterStream),
		taskqueue.WithMaxAttempts(cfg.Jobs.MaxAttempts),
		taskqueue.WithBackoffBase(cfg.Jobs.BackoffBase.Duration),
		taskqueue.WithDelayed(delayed),
	)
	if err != nil {
		appLogger.Error("create consumer failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	worker := jobs.NewWorker(cfg.Jobs, cfg.Extraction.Origin, consumer,
		store.NewJobStore(db), store.NewLeadRepository(db),
		engine.engine, dispatcher, notify.NewEmailNotifier(cfg.Email, appLogger), appLogger)
	promoter := jobs.NewPromoter(delayed, cfg.Jobs.PromoteInterval.Duration, appLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		promoter.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				// 让容器重启，保持状态干净
				appLogger.Error("PANIC in job worker loop", slog.Any("panic", r))
				os.Exit(1)
			}
		}()
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			appLogger.Error("job worker stopped", slog.String("error", err.Error()))
		}
	}()

	metricsServer := &http.Server{
		Addr:    cfg.App.MetricsAddr,
		Handler: diagnosticsMux(db, rdb, controller, appLogger),
	}
	go func() {
		appLogger.Info("worker metrics server started", slog.String("addr", cfg.App.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("metrics server stopped with error", slog.String("error", err.Error()))
		}
	}()

	<-ctx.Done()
	appLogger.Info("shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 1. 等待进行中的任务；超时后未确认的消息由其他 worker 接管
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		appLogger.Info("in-flight jobs finished")
	case <-shutdownCtx.Done():
		appLogger.Warn("shutdown budget exceeded, unacked jobs will be reclaimed")
	}

	// 2. 投递剩余 webhook
	remaining := time.Until(deadlineOf(shutdownCtx))
	if err := dispatcher.Shutdown(remaining); err != nil {
		appLogger.Error("webhook dispatcher shutdown error", slog.String("error", err.Error()))
	}

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("metrics shutdown error", slog.String("error", err.Error()))
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = rdb.Close()

	appLogger.Info("worker stopped gracefully")
}

type engineParts struct {
	engine     *crawler.Engine
	controller *egress.Controller
}

// buildEngine 组装出口、身份、地理、交互与限流，返回抽取引擎。
func buildEngine(cfg *config.Config, rdb *redis.Client, appLogger *slog.Logger) engineParts {
	registry := egress.NewRegistry(cfg.Egress.MaxFailures, cfg.Egress.Cooldown.Duration, appLogger)
	prober := egress.NewHTTPProber(cfg.Egress.ProbeURL, cfg.Egress.ProbeTimeout.Duration)
	controller := egress.NewController(cfg.Egress, registry, prober, appLogger)

	var gen identity.Generator
	if !cfg.Identity.DisableGenerator {
		gen = identity.NewStatisticalGenerator(time.Now().UnixNano())
	}
	injector := identity.NewInjectorFromNames(appLogger, cfg.Identity.Strategies)
	sim := humanize.NewSimulator(cfg.Humanize, humanize.RealSleeper, time.Now().UnixNano(), appLogger)
	launcher := crawler.NewRodLauncher(cfg, gen, injector, geo.NewSynchronizer(appLogger), sim, appLogger)

	limiter := ratelimit.NewRedisRateLimiter(rdb, appLogger, "", cfg.App.RateLimit, cfg.App.RateBurst)

	return engineParts{
		engine:     crawler.NewEngine(cfg.Extraction, controller, launcher, appLogger, crawler.WithLimiter(limiter)),
		controller: controller,
	}
}

// diagnosticsMux worker 的 metrics、探活、出口健康快照与手动冷却重置。
func diagnosticsMux(db *gorm.DB, rdb *redis.Client, controller *egress.Controller, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			http.Error(w, `{"status":"error","dependency":"redis"}`, http.StatusServiceUnavailable)
			return
		}
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			http.Error(w, `{"status":"error","dependency":"mysql"}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/debug/egress", egress.SnapshotHandler(controller))
	mux.Handle("/debug/egress/reset", egress.ResetHandler(controller, logger))
	return mux
}

func consumerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func deadlineOf(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(5 * time.Second)
}
