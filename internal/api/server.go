package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"mapleads/internal/api/middleware"
	"mapleads/internal/config"
	"mapleads/internal/jobs"
	"mapleads/internal/model"
	"mapleads/internal/pkg/taskqueue"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// JobService 任务提交与查询（生产实现为 jobs.Service）。
type JobService interface {
	Submit(ctx context.Context, req jobs.SubmitRequest) (string, error)
	Status(ctx context.Context, tenantID, jobID string) (*model.Job, error)
	QueueStats(ctx context.Context) (taskqueue.Stats, error)
}

// HealthCheck 依赖探活，返回 error 表示不可用。
type HealthCheck func(ctx context.Context) error

// Server 封装 API 路由与依赖。
//
// 只负责任务提交与状态查询，抽取由 worker 进程完成。
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	router *gin.Engine
	jobs   JobService
	checks map[string]HealthCheck
}

// NewServer 初始化 API 服务器。
//
// 参数:
//
//	cfg: 配置对象
//	logger: 日志记录器
//	svc: 任务服务
//	checks: /healthz 使用的依赖探活，键为依赖名
//
// 返回值:
//
//	*Server: 注册好路由的服务器实例
func NewServer(cfg *config.Config, logger *slog.Logger, svc JobService, checks map[string]HealthCheck) *Server {
	if cfg.App.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:    cfg,
		logger: logger,
		router: r,
		jobs:   svc,
		checks: checks,
	}
	s.registerRoutes()
	return s
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	authed := s.router.Group("/api")
	authed.Use(middleware.TenantAuth(s.cfg.Security.JWTSecret))
	authed.POST("/jobs", s.handleSubmitJob)
	authed.GET("/jobs/:id", s.handleGetJob)
	authed.GET("/queue", s.handleQueueStats)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			s.logger.Warn("health check failed", slog.String("dependency", name), slog.String("error", err.Error()))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "dependency": name})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// submitJobResponse 提交任务的响应。
type submitJobResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// POST /api/jobs
func (s *Server) handleSubmitJob(c *gin.Context) {
	var req jobs.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	tenant := middleware.TenantID(c)
	if req.TenantID != "" && req.TenantID != tenant {
		c.JSON(http.StatusForbidden, gin.H{"error": "tenant mismatch"})
		return
	}
	req.TenantID = tenant

	id, err := s.jobs.Submit(c.Request.Context(), req)
	switch {
	case errors.Is(err, jobs.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, jobs.ErrDuplicateJob):
		c.JSON(http.StatusConflict, gin.H{"error": "duplicate job, an identical request was submitted recently"})
		return
	case err != nil:
		s.logger.Error("submit job failed", slog.String("tenant_id", tenant), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit job"})
		return
	}

	c.JSON(http.StatusAccepted, submitJobResponse{JobID: id, Status: model.JobPending})
}

// GET /api/jobs/:id
func (s *Server) handleGetJob(c *gin.Context) {
	job, err := s.jobs.Status(c.Request.Context(), middleware.TenantID(c), c.Param("id"))
	if errors.Is(err, jobs.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		s.logger.Error("load job failed", slog.String("job_id", c.Param("id")), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load job"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// GET /api/queue
func (s *Server) handleQueueStats(c *gin.Context) {
	stats, err := s.jobs.QueueStats(c.Request.Context())
	if err != nil {
		s.logger.Error("queue stats failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read queue"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
