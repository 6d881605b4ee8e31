package egress

import (
	"log/slog"
	"sync"
	"time"

	"mapleads/internal/pkg/metrics"
)

// TierHealth 单个层级的健康记录。
type TierHealth struct {
	Tier        Tier      `json:"tier"`
	Failures    int       `json:"failures"`
	Blocked     bool      `json:"blocked"`
	LastFailure time.Time `json:"last_failure,omitempty"`
	LastSuccess time.Time `json:"last_success,omitempty"`
}

// Registry 进程内共享的层级健康表（熔断器）。
//
// 所有 worker 共享同一个实例，读写都在锁内完成；
// 连续失败达到阈值后层级被封锁，冷却期满后自动解封并清零计数。
type Registry struct {
	mu          sync.Mutex
	tiers       map[Tier]*TierHealth
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// RegistryOption Registry 的可选配置。
type RegistryOption func(*Registry)

// WithClock 注入时钟（测试用）。
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry 创建健康表。
//
// 参数:
//   - maxFailures: 连续失败阈值，<=0 时取 3
//   - cooldown: 冷却时长，<=0 时取 30 分钟
func NewRegistry(maxFailures int, cooldown time.Duration, logger *slog.Logger, opts ...RegistryOption) *Registry {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Minute
	}
	r := &Registry{
		tiers:       make(map[Tier]*TierHealth, len(AllTiers)),
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, t := range AllTiers {
		r.tiers[t] = &TierHealth{Tier: t}
	}
	return r
}

// MaxFailures 返回封锁阈值。
func (r *Registry) MaxFailures() int { return r.maxFailures }

// Cooldown 返回冷却时长。
func (r *Registry) Cooldown() time.Duration { return r.cooldown }

func (r *Registry) get(t Tier) *TierHealth {
	h, ok := r.tiers[t]
	if !ok {
		h = &TierHealth{Tier: t}
		r.tiers[t] = h
	}
	return h
}

// blockedLocked 判断是否仍在冷却，冷却到期时解封并清零。调用方需持锁。
func (r *Registry) blockedLocked(h *TierHealth) bool {
	if !h.Blocked || h.LastFailure.IsZero() {
		return false
	}
	elapsed := r.now().Sub(h.LastFailure)
	if elapsed >= r.cooldown {
		h.Blocked = false
		h.Failures = 0
		metrics.EgressTierBlocked.WithLabelValues(string(h.Tier)).Set(0)
		r.logger.Info("egress tier cooldown expired", slog.String("tier", string(h.Tier)))
		return false
	}
	return true
}

// Blocked 判断层级是否处于冷却中。
func (r *Registry) Blocked(t Tier) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.get(t)
	blocked := r.blockedLocked(h)
	if blocked {
		remaining := r.cooldown - r.now().Sub(h.LastFailure)
		r.logger.Debug("egress tier in cooldown",
			slog.String("tier", string(t)),
			slog.Duration("remaining", remaining))
	}
	return blocked
}

// RecordFailure 记录一次失败，达到阈值时封锁层级。
//
// 返回值:
//   - bool: 本次调用后层级是否处于封锁状态
func (r *Registry) RecordFailure(t Tier, reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := r.get(t)
	h.Failures++
	h.LastFailure = r.now()

	if h.Failures >= r.maxFailures {
		if !h.Blocked {
			r.logger.Warn("egress tier blocked",
				slog.String("tier", string(t)),
				slog.Int("failures", h.Failures),
				slog.Duration("cooldown", r.cooldown),
				slog.String("reason", reason))
		}
		h.Blocked = true
		metrics.EgressTierBlocked.WithLabelValues(string(t)).Set(1)
		return true
	}
	r.logger.Warn("egress tier failure",
		slog.String("tier", string(t)),
		slog.Int("failures", h.Failures),
		slog.Int("max_failures", r.maxFailures),
		slog.String("reason", reason))
	return false
}

// RecordSuccess 记录一次成功并清零失败计数。
//
// 层级仍处于冷却时拒绝记录并返回 false，调用方不得使用该层级。
func (r *Registry) RecordSuccess(t Tier) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := r.get(t)
	if r.blockedLocked(h) {
		return false
	}
	h.Failures = 0
	h.Blocked = false
	h.LastSuccess = r.now()
	metrics.EgressTierBlocked.WithLabelValues(string(t)).Set(0)
	return true
}

// Reset 手动清除层级状态。
func (r *Registry) Reset(t Tier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.get(t)
	h.Failures = 0
	h.Blocked = false
	h.LastFailure = time.Time{}
	metrics.EgressTierBlocked.WithLabelValues(string(t)).Set(0)
	r.logger.Info("egress tier reset", slog.String("tier", string(t)))
}

// ResetAll 清除所有层级的冷却。
func (r *Registry) ResetAll() {
	for _, t := range r.known() {
		r.Reset(t)
	}
}

func (r *Registry) known() []Tier {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Tier, 0, len(r.tiers))
	for _, t := range AllTiers {
		if _, ok := r.tiers[t]; ok {
			out = append(out, t)
		}
	}
	for t := range r.tiers {
		if !t.builtin() {
			out = append(out, t)
		}
	}
	return out
}

// Snapshot 返回所有层级健康记录的副本，按内置层级顺序排列。
func (r *Registry) Snapshot() []TierHealth {
	tiers := r.known()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TierHealth, 0, len(tiers))
	for _, t := range tiers {
		h := r.tiers[t]
		r.blockedLocked(h)
		out = append(out, *h)
	}
	return out
}
