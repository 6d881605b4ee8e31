package egress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mapleads/internal/config"
	"mapleads/internal/pkg/metrics"
)

// Controller 按配置顺序选择可用出口。
//
// 健康状态保存在注入的 Registry 中，同一进程内的多个 Controller
// 共享同一份熔断状态。
type Controller struct {
	cfg        config.EgressConfig
	order      []Tier
	registry   *Registry
	prober     Prober
	logger     *slog.Logger
	newSession func() string
	now        func() time.Time
}

// NewController 创建出口控制器。
//
// 参数:
//   - cfg: 出口配置（层级顺序、凭据、阈值）
//   - registry: 共享的层级健康表
//   - prober: 连通性探测器
//   - logger: 日志记录器
func NewController(cfg config.EgressConfig, registry *Registry, prober Prober, logger *slog.Logger) *Controller {
	order := make([]Tier, 0, len(cfg.Strategy))
	seen := make(map[Tier]bool)
	for _, name := range cfg.Strategy {
		t, err := ParseTier(name)
		if err != nil {
			logger.Warn("ignoring unknown egress tier", slog.String("tier", name))
			continue
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		order = append(order, t)
	}
	if len(cfg.Strategy) == 0 {
		order = append(order, AllTiers...)
	}
	return &Controller{
		cfg:        cfg,
		order:      order,
		registry:   registry,
		prober:     prober,
		logger:     logger,
		newSession: newSessionID,
		now:        time.Now,
	}
}

// Registry 返回共享的健康表。
func (c *Controller) Registry() *Registry { return c.registry }

// Order 返回生效的层级顺序。
func (c *Controller) Order() []Tier {
	return append([]Tier(nil), c.order...)
}

func (c *Controller) tierConfig(t Tier) config.TierConfig {
	switch t {
	case TierMobile:
		return c.cfg.Mobile
	case TierResidential:
		return c.cfg.Residential
	default:
		return c.cfg.Direct
	}
}

func (c *Controller) tierName(t Tier) string {
	if name := c.tierConfig(t).Name; name != "" {
		return name
	}
	return string(t)
}

// build 为层级生成带新会话 ID 的描述符（尚未探测）。
func (c *Controller) build(t Tier) (*Descriptor, error) {
	d := &Descriptor{Tier: t, Name: c.tierName(t)}
	if t == TierDirect {
		return d, nil
	}
	tc := c.tierConfig(t)
	if tc.User == "" || tc.Pass == "" || c.cfg.Host == "" {
		return nil, ErrNotConfigured
	}
	sid := c.newSession()
	d.SessionID = sid
	d.Username = buildUsername(t, tc.User, tc.Prefix, c.cfg.Country, sid)
	d.Password = tc.Pass
	d.Endpoint = joinHostPort(c.cfg.Host, c.cfg.Port)
	return d, nil
}

// Acquire 依次尝试各层级，返回第一个探测成功的出口。
//
// 所有层级都失败时返回 *NoEgressError（可用 errors.Is(err, ErrNoEgress) 判断），
// 内部不重试，由调用方决定放弃或稍后重试。
func (c *Controller) Acquire(ctx context.Context) (*Descriptor, error) {
	c.logger.Info("acquiring egress", slog.Any("strategy", c.order))
	return c.tryTiers(ctx, c.order)
}

// Switch 将当前层级记为失败并尝试其后的层级。
func (c *Controller) Switch(ctx context.Context, current Tier) (*Descriptor, error) {
	c.registry.RecordFailure(current, "forced switch")

	idx := -1
	for i, t := range c.order {
		if t == current {
			idx = i
			break
		}
	}
	var rest []Tier
	if idx >= 0 {
		rest = c.order[idx+1:]
	} else {
		for _, t := range c.order {
			if t != current {
				rest = append(rest, t)
			}
		}
	}
	c.logger.Info("switching egress tier", slog.String("from", string(current)), slog.Any("candidates", rest))
	return c.tryTiers(ctx, rest)
}

// Rotate 为同一层级换一个粘性会话（即换出口 IP），直连返回 nil。
func (c *Controller) Rotate(t Tier) (*Descriptor, error) {
	if t == TierDirect {
		return nil, nil
	}
	d, err := c.build(t)
	if err != nil {
		return nil, fmt.Errorf("rotate %s: %w", t, err)
	}
	d.Acquired = c.now()
	c.logger.Info("egress session rotated", slog.String("tier", string(t)), slog.String("session_id", d.SessionID))
	return d, nil
}

// MarkSuccess 抽取结果反馈：层级可用。
func (c *Controller) MarkSuccess(t Tier) {
	c.registry.RecordSuccess(t)
}

// MarkFailure 抽取结果反馈：层级被封锁或无结果。
func (c *Controller) MarkFailure(t Tier, reason string) {
	c.registry.RecordFailure(t, reason)
}

func (c *Controller) tryTiers(ctx context.Context, tiers []Tier) (*Descriptor, error) {
	attempts := make([]Attempt, 0, len(tiers))
	for _, t := range tiers {
		if err := ctx.Err(); err != nil {
			attempts = append(attempts, Attempt{Tier: t, Reason: "cancelled"})
			continue
		}
		tc := c.tierConfig(t)
		if tc.Disabled {
			c.logger.Debug("egress tier disabled, skipping", slog.String("tier", string(t)))
			attempts = append(attempts, Attempt{Tier: t, Reason: "disabled"})
			continue
		}
		if c.registry.Blocked(t) {
			attempts = append(attempts, Attempt{Tier: t, Reason: "cooldown"})
			continue
		}

		d, err := c.build(t)
		if err != nil {
			if errors.Is(err, ErrNotConfigured) {
				c.logger.Debug("egress tier not configured, skipping", slog.String("tier", string(t)))
				attempts = append(attempts, Attempt{Tier: t, Reason: "not configured"})
				continue
			}
			attempts = append(attempts, Attempt{Tier: t, Reason: err.Error()})
			continue
		}

		c.logger.Info("probing egress tier", slog.String("tier", string(t)), slog.String("name", d.Name))
		res, err := c.prober.Probe(ctx, d.ProxyURL())
		if err != nil {
			metrics.EgressProbeTotal.WithLabelValues(string(t), "failure").Inc()
			c.registry.RecordFailure(t, err.Error())
			attempts = append(attempts, Attempt{Tier: t, Reason: err.Error()})
			continue
		}
		metrics.EgressProbeTotal.WithLabelValues(string(t), "success").Inc()
		metrics.EgressProbeDuration.WithLabelValues(string(t)).Observe(res.Latency.Seconds())

		// 探测期间其他任务可能已将该层级封锁
		if !c.registry.RecordSuccess(t) {
			attempts = append(attempts, Attempt{Tier: t, Reason: "cooldown"})
			continue
		}

		d.Latency = res.Latency
		d.PublicIP = res.IP
		d.Acquired = c.now()

		status := "healthy"
		if c.cfg.SlowThreshold.Duration > 0 && res.Latency > c.cfg.SlowThreshold.Duration {
			status = "slow"
		}
		c.logger.Info("egress acquired",
			slog.String("tier", string(t)),
			slog.String("ip", res.IP),
			slog.Duration("latency", res.Latency),
			slog.String("status", status))
		metrics.EgressAcquireTotal.WithLabelValues(string(t)).Inc()
		return d, nil
	}

	metrics.EgressAcquireTotal.WithLabelValues("none").Inc()
	err := &NoEgressError{Attempts: attempts}
	c.logger.Error("all egress tiers failed", slog.String("error", err.Error()))
	return nil, err
}
