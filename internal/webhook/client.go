package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"mapleads/internal/config"
	"mapleads/internal/pkg/metrics"
)

// Delivery 一次投递（含全部重试）的结果。
type Delivery struct {
	Delivered  bool
	Attempts   int
	StatusCode int    // 最后一次响应的状态码，网络错误时为 0
	LastError  string // 最后一次失败原因
}

// Client webhook 投递客户端。
//
// 失败后按 min(base·mult^(n−1) + jitter, maxDelay) 等待并重试，
// 重试耗尽后不返回错误，结果记录在 Delivery 中。
type Client struct {
	http   *http.Client
	cfg    config.WebhookConfig
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	mu  sync.Mutex
	rng *rand.Rand
}

// ClientOption Client 的可选配置。
type ClientOption func(*Client)

// WithHTTPClient 替换底层 HTTP 客户端。
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithSleep 替换重试等待函数（测试用）。
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ClientOption {
	return func(c *Client) {
		c.sleep = fn
	}
}

// WithRand 固定抖动随机源（测试用）。
func WithRand(r *rand.Rand) ClientOption {
	return func(c *Client) {
		c.rng = r
	}
}

// NewClient 创建 webhook 客户端。
func NewClient(cfg config.WebhookConfig, logger *slog.Logger, opts ...ClientOption) *Client {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay.Duration <= 0 {
		cfg.BaseDelay = config.D(5 * time.Second)
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2
	}
	if cfg.MaxDelay.Duration <= 0 {
		cfg.MaxDelay = config.D(60 * time.Second)
	}
	if cfg.Timeout.Duration <= 0 {
		cfg.Timeout = config.D(30 * time.Second)
	}
	if cfg.BodyLogLimit <= 0 {
		cfg.BodyLogLimit = 500
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "mapleads-webhook/1.0"
	}

	c := &Client{
		http:   &http.Client{Timeout: cfg.Timeout.Duration},
		cfg:    cfg,
		logger: logger,
		sleep:  sleepCtx,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Backoff 返回第 n 次重试前的等待时间（n 从 1 开始）。
func (c *Client) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	delay := float64(c.cfg.BaseDelay.Duration) * math.Pow(c.cfg.Multiplier, float64(n-1))
	if c.cfg.MaxJitter.Duration > 0 {
		c.mu.Lock()
		delay += float64(c.rng.Int63n(int64(c.cfg.MaxJitter.Duration) + 1))
		c.mu.Unlock()
	}
	if delay > float64(c.cfg.MaxDelay.Duration) {
		return c.cfg.MaxDelay.Duration
	}
	return time.Duration(delay)
}

// Send 投递事件，首次之外最多重试 MaxRetries 次。
//
// 参数:
//   - ctx: 上下文，取消后停止重试
//   - url: 目标地址
//   - ev: 事件
//
// 返回值:
//   - Delivery: 投递结果，失败不会以 error 形式返回
func (c *Client) Send(ctx context.Context, url string, ev Event) Delivery {
	var d Delivery
	body, err := json.Marshal(ev)
	if err != nil {
		d.LastError = fmt.Sprintf("marshal event: %v", err)
		c.logger.Error("webhook payload invalid", slog.String("event", ev.Event), slog.String("error", d.LastError))
		return d
	}

	total := c.cfg.MaxRetries + 1
	for attempt := 1; attempt <= total; attempt++ {
		d.Attempts = attempt
		code, respBody, dur, err := c.post(ctx, url, body)
		d.StatusCode = code

		attrs := []any{
			slog.String("event", ev.Event),
			slog.String("url", url),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", total),
			slog.Int("status", code),
			slog.Duration("duration", dur),
			slog.String("response", truncate(respBody, c.cfg.BodyLogLimit)),
		}
		metrics.WebhookAttemptDuration.Observe(dur.Seconds())

		if err == nil && code >= 200 && code < 300 {
			metrics.WebhookAttemptsTotal.WithLabelValues(ev.Event, "success").Inc()
			c.logger.Info("webhook delivered", attrs...)
			d.Delivered = true
			d.LastError = ""
			return d
		}

		metrics.WebhookAttemptsTotal.WithLabelValues(ev.Event, "failure").Inc()
		if err != nil {
			d.LastError = err.Error()
		} else {
			d.LastError = fmt.Sprintf("unexpected status %d", code)
		}
		c.logger.Warn("webhook attempt failed", append(attrs, slog.String("error", d.LastError))...)

		if attempt == total {
			break
		}
		wait := c.Backoff(attempt)
		if err := c.sleep(ctx, wait); err != nil {
			d.LastError = fmt.Sprintf("retry aborted: %v", err)
			break
		}
	}

	c.logger.Error("webhook delivery exhausted",
		slog.String("event", ev.Event),
		slog.String("url", url),
		slog.Int("attempts", d.Attempts),
		slog.String("error", d.LastError))
	return d
}

func (c *Client) post(ctx context.Context, url string, body []byte) (int, []byte, time.Duration, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, time.Since(start), err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, int64(c.cfg.BodyLogLimit)+1))
	return resp.StatusCode, respBody, time.Since(start), nil
}

func truncate(b []byte, limit int) string {
	if len(b) <= limit {
		return string(b)
	}
	for limit > 0 && !utf8.RuneStart(b[limit]) {
		limit--
	}
	return string(b[:limit]) + "..."
}
