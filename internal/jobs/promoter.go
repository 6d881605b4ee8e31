package jobs

import (
	"context"
	"log/slog"
	"time"
)

// DuePromoter 将到期的延迟重试写回队列（生产实现为 taskqueue.Delayed）。
type DuePromoter interface {
	PromoteDue(ctx context.Context, now time.Time, limit int64) (int, error)
}

// Promoter 定期回灌延迟重试。多个 worker 进程可同时运行。
type Promoter struct {
	delayed  DuePromoter
	interval time.Duration
	logger   *slog.Logger
}

// NewPromoter 创建回灌循环，interval<=0 时取 1 秒。
func NewPromoter(delayed DuePromoter, interval time.Duration, logger *slog.Logger) *Promoter {
	if interval <= 0 {
		interval = time.Second
	}
	return &Promoter{delayed: delayed, interval: interval, logger: logger}
}

// Run 阻塞直到 ctx 取消。
func (p *Promoter) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := p.delayed.PromoteDue(ctx, now, 100)
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Error("promote delayed jobs failed", slog.String("error", err.Error()))
				}
				continue
			}
			if n > 0 {
				p.logger.Info("delayed jobs promoted", slog.Int("count", n))
			}
		}
	}
}
