package webhook

import (
	"context"
	"log/slog"
	"time"

	"mapleads/internal/config"
	"mapleads/internal/pkg/queue"
)

// Sender 投递单个事件。
type Sender interface {
	Send(ctx context.Context, url string, ev Event) Delivery
}

// Dispatcher 在独立的 worker 池中异步投递 webhook，
// 慢端点不会阻塞任务 worker。
type Dispatcher struct {
	sender Sender
	pool   *queue.Pool
	logger *slog.Logger
}

// NewDispatcher 创建异步投递器，调用方负责 Start 与 Shutdown。
func NewDispatcher(cfg config.WebhookConfig, sender Sender, logger *slog.Logger) *Dispatcher {
	burst := int(cfg.SendRate)
	if burst < 1 {
		burst = 1
	}
	return &Dispatcher{
		sender: sender,
		pool:   queue.NewPool("webhook", logger, cfg.Workers, cfg.QueueCapacity, queue.WithRate(cfg.SendRate, burst)),
		logger: logger,
	}
}

// Start 启动投递 worker。
func (d *Dispatcher) Start(ctx context.Context) {
	d.pool.Start(ctx)
}

// Shutdown 等待已排队的投递完成。
func (d *Dispatcher) Shutdown(timeout time.Duration) error {
	return d.pool.Shutdown(timeout)
}

// Notify 排队一次投递；url 为空时忽略。池满时丢弃并记录日志。
func (d *Dispatcher) Notify(url string, ev Event) {
	if url == "" {
		return
	}
	err := d.pool.Submit(func(ctx context.Context) error {
		d.sender.Send(ctx, url, ev)
		return nil
	})
	if err != nil {
		d.logger.Error("webhook dropped", slog.String("event", ev.Event), slog.String("url", url), slog.String("error", err.Error()))
	}
}
