package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 出口（代理层级）相关指标
var (
	EgressProbeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mapleads_egress_probe_duration_seconds",
		Help:    "Latency of egress connectivity probes by tier.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
	}, []string{"tier"})

	EgressProbeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapleads_egress_probe_total",
		Help: "Egress probes by tier and result.",
	}, []string{"tier", "result"})

	EgressTierBlocked = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mapleads_egress_tier_blocked",
		Help: "1 when the tier is in cooldown, 0 otherwise.",
	}, []string{"tier"})

	EgressAcquireTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapleads_egress_acquire_total",
		Help: "Egress acquisitions by selected tier (none when all tiers failed).",
	}, []string{"tier"})
)

// 浏览器与抽取相关指标
var (
	BrowserActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mapleads_browser_active",
		Help: "Number of live browser contexts.",
	})

	IdentityInjectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapleads_identity_inject_total",
		Help: "Identity injection attempts by strategy and result.",
	}, []string{"strategy", "result"})

	ExtractionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mapleads_extraction_duration_seconds",
		Help:    "Wall time of a full extraction call.",
		Buckets: []float64{5, 10, 20, 30, 60, 120, 240, 360},
	})

	ExtractionLeadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mapleads_extraction_leads_total",
		Help: "Leads accepted by the extraction engine.",
	})

	ExtractionWindowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapleads_extraction_windows_total",
		Help: "Result-window fetches by result.",
	}, []string{"result"})

	ExtractionErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapleads_extraction_errors_total",
		Help: "Extraction errors by classified type.",
	}, []string{"type"})
)

// 任务编排相关指标
var (
	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapleads_jobs_processed_total",
		Help: "Jobs handled by the worker by outcome (succeeded, retry, failed).",
	}, []string{"outcome"})

	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mapleads_job_duration_seconds",
		Help:    "Duration of a single job attempt.",
		Buckets: []float64{5, 10, 30, 60, 120, 240, 360, 600},
	})

	JobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mapleads_jobs_active",
		Help: "Jobs currently executing in this process.",
	})

	WorkerSlots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mapleads_worker_slots",
		Help: "Configured concurrent job slots.",
	})

	JobDuplicatePreventedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mapleads_job_duplicate_prevented_total",
		Help: "Submissions rejected as duplicates.",
	})

	TaskAutoClaimTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mapleads_task_autoclaim_total",
		Help: "Stream messages reclaimed from idle consumers.",
	})

	TaskDLQTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mapleads_task_dlq_total",
		Help: "Messages moved to the dead letter stream.",
	})

	TaskDelayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mapleads_task_delayed_total",
		Help: "Messages scheduled for delayed retry.",
	})

	TaskPromotedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mapleads_task_promoted_total",
		Help: "Delayed messages promoted back into the stream.",
	})
)

// Webhook、限流与内存队列指标
var (
	WebhookAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapleads_webhook_attempts_total",
		Help: "Webhook delivery attempts by event and result.",
	}, []string{"event", "result"})

	WebhookAttemptDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mapleads_webhook_attempt_duration_seconds",
		Help:    "Duration of a single webhook POST.",
		Buckets: prometheus.DefBuckets,
	})

	RateLimitWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mapleads_ratelimit_wait_seconds",
		Help:    "Time spent waiting for the distributed rate limiter.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	RateLimitTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mapleads_ratelimit_timeout_total",
		Help: "Rate limiter waits that ended by context expiry.",
	})

	PoolQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mapleads_pool_queue_depth",
		Help: "Pending jobs in in-process worker pools.",
	}, []string{"pool"})
)

// InitMetrics 初始化带标签指标的零值，使面板在首次事件前即可显示。
//
// 参数:
//   - workers: 本进程的并发任务槽位数
func InitMetrics(workers int) {
	WorkerSlots.Set(float64(workers))

	for _, tier := range []string{"direct", "mobile", "residential"} {
		EgressTierBlocked.WithLabelValues(tier).Set(0)
		EgressProbeTotal.WithLabelValues(tier, "success")
		EgressProbeTotal.WithLabelValues(tier, "failure")
		EgressAcquireTotal.WithLabelValues(tier)
	}
	EgressAcquireTotal.WithLabelValues("none")

	for _, outcome := range []string{"succeeded", "retry", "failed"} {
		JobsProcessedTotal.WithLabelValues(outcome)
	}
	for _, result := range []string{"ok", "error"} {
		ExtractionWindowsTotal.WithLabelValues(result)
	}
}
