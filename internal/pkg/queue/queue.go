package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"mapleads/internal/pkg/metrics"
)

// Task 进程内异步执行的一项工作（例如一次 webhook 投递）。
type Task func(ctx context.Context) error

// ErrorHandler 任务返回错误时的回调。
type ErrorHandler func(name string, err error)

var (
	// ErrClosed 池已关闭。
	ErrClosed = errors.New("pool is closed")
	// ErrFull 池已满（非阻塞提交）。
	ErrFull = errors.New("pool is full")
)

// Pool 固定 worker 数的有界内存任务池。
//
// 提交方不会被慢任务阻塞：Submit 在池满时立即返回 ErrFull。
// 设置 limiter 后每个任务执行前先等待令牌，用于对外部端点限速。
type Pool struct {
	name         string
	logger       *slog.Logger
	workers      int
	tasks        chan Task
	limiter      *rate.Limiter
	errorHandler ErrorHandler

	wg     sync.WaitGroup
	closed atomic.Bool
	mu     sync.RWMutex // 保护 close(tasks) 与发送之间的竞争

	stats poolStats
}

type poolStats struct {
	submitted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	panics    atomic.Int64
}

// Stats 池统计快照。
type Stats struct {
	Submitted int64
	Succeeded int64
	Failed    int64
	Dropped   int64 // 池满或已关闭时被拒绝
	Panics    int64
	Pending   int
}

// Option Pool 的可选配置。
type Option func(*Pool)

// WithRate 限制任务的启动速率（每秒 r 个，突发 burst 个）。
func WithRate(r float64, burst int) Option {
	return func(p *Pool) {
		if r > 0 {
			if burst <= 0 {
				burst = 1
			}
			p.limiter = rate.NewLimiter(rate.Limit(r), burst)
		}
	}
}

// WithErrorHandler 设置错误回调。
func WithErrorHandler(h ErrorHandler) Option {
	return func(p *Pool) {
		p.errorHandler = h
	}
}

// NewPool 创建任务池。
//
// 参数:
//   - name: 池名称，用于日志与指标标签
//   - logger: 日志记录器
//   - workers: worker 数量（至少为 1）
//   - capacity: 缓冲容量（至少为 1）
func NewPool(name string, logger *slog.Logger, workers, capacity int, opts ...Option) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	p := &Pool{
		name:    name,
		logger:  logger.With(slog.String("pool", name)),
		workers: workers,
		tasks:   make(chan Task, capacity),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start 启动 worker，直到 ctx 取消或 Shutdown。
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			metrics.PoolQueueDepth.WithLabelValues(p.name).Set(float64(len(p.tasks)))
			if p.limiter != nil {
				if err := p.limiter.Wait(ctx); err != nil {
					p.stats.dropped.Add(1)
					p.logger.Warn("task dropped while waiting for rate limit", slog.String("error", err.Error()))
					continue
				}
			}
			p.run(ctx, task, id)
		}
	}
}

// run 执行单个任务，带 panic 恢复。
func (p *Pool) run(ctx context.Context, task Task, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			p.stats.panics.Add(1)
			p.logger.Error("task panic recovered",
				slog.Int("worker_id", workerID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	if err := task(ctx); err != nil {
		p.stats.failed.Add(1)
		p.logger.Warn("task failed",
			slog.Int("worker_id", workerID),
			slog.String("error", err.Error()))
		if p.errorHandler != nil {
			p.errorHandler(p.name, err)
		}
		return
	}
	p.stats.succeeded.Add(1)
}

// Submit 非阻塞提交。
func (p *Pool) Submit(task Task) error {
	if task == nil {
		return fmt.Errorf("task is nil")
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed.Load() {
		p.stats.dropped.Add(1)
		return ErrClosed
	}
	select {
	case p.tasks <- task:
		p.stats.submitted.Add(1)
		metrics.PoolQueueDepth.WithLabelValues(p.name).Set(float64(len(p.tasks)))
		return nil
	default:
		p.stats.dropped.Add(1)
		p.logger.Warn("pool full, drop task",
			slog.Int("capacity", cap(p.tasks)),
			slog.Int("pending", len(p.tasks)))
		return ErrFull
	}
}

// SubmitWait 阻塞提交，直到成功或 ctx 结束。
func (p *Pool) SubmitWait(ctx context.Context, task Task) error {
	if task == nil {
		return fmt.Errorf("task is nil")
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed.Load() {
		return ErrClosed
	}
	select {
	case p.tasks <- task:
		p.stats.submitted.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown 停止接收新任务，等待已提交任务执行完毕或超时。
func (p *Pool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	if !p.closed.CompareAndSwap(false, true) {
		p.mu.Unlock()
		return ErrClosed
	}
	close(p.tasks)
	p.mu.Unlock()

	p.logger.Info("pool draining", slog.Int("pending", len(p.tasks)), slog.Duration("timeout", timeout))

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("pool stopped")
		return nil
	case <-time.After(timeout):
		p.logger.Error("pool shutdown timeout", slog.Int("pending", len(p.tasks)))
		return fmt.Errorf("shutdown timeout after %s", timeout)
	}
}

// Stats 返回统计快照。
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.stats.submitted.Load(),
		Succeeded: p.stats.succeeded.Load(),
		Failed:    p.stats.failed.Load(),
		Dropped:   p.stats.dropped.Load(),
		Panics:    p.stats.panics.Load(),
		Pending:   len(p.tasks),
	}
}
