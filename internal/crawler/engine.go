package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"mapleads/internal/config"
	"mapleads/internal/egress"
	"mapleads/internal/geo"
	"mapleads/internal/pkg/metrics"
)

// FetchFunc 在页面上下文中请求一个地址并返回响应体。
type FetchFunc func(ctx context.Context, url string) (string, error)

// Session 一个隔离的浏览器会话（独立进程与出口）。
type Session interface {
	// Open 导航到搜索页并返回页面快照。
	Open(ctx context.Context, url string) (PageState, error)
	// Warmup 关闭同意弹窗并留下人类交互痕迹。
	Warmup(ctx context.Context, state PageState)
	// Fetch 在页面内发起请求，Cookie 与上下文随之生效。
	Fetch(ctx context.Context, url string) (string, error)
	// Capture 保存调试截图与 HTML。
	Capture(label string)
	Close() error
}

// Launcher 按出口描述启动浏览器会话。
type Launcher interface {
	Launch(ctx context.Context, desc *egress.Descriptor, req Request) (Session, error)
}

// EgressSource 出口选择与健康反馈。
type EgressSource interface {
	Acquire(ctx context.Context) (*egress.Descriptor, error)
	Switch(ctx context.Context, current egress.Tier) (*egress.Descriptor, error)
	Rotate(t egress.Tier) (*egress.Descriptor, error)
	MarkSuccess(t egress.Tier)
	MarkFailure(t egress.Tier, reason string)
}

// Limiter 导航限流。
type Limiter interface {
	Acquire(ctx context.Context) error
}

// ErrLaunch 浏览器启动失败（会话建立之前的基础设施错误）。
var ErrLaunch = errors.New("browser launch failed")

// Engine 抽取引擎。
type Engine struct {
	cfg      config.ExtractionConfig
	egress   EgressSource
	launcher Launcher
	parser   Parser
	limiter  Limiter
	logger   *slog.Logger
}

// EngineOption Engine 的可选配置。
type EngineOption func(*Engine)

// WithParser 替换默认解析策略。
func WithParser(p Parser) EngineOption {
	return func(e *Engine) {
		if p != nil {
			e.parser = p
		}
	}
}

// WithLimiter 设置导航限流器。
func WithLimiter(l Limiter) EngineOption {
	return func(e *Engine) {
		e.limiter = l
	}
}

// NewEngine 创建抽取引擎。
//
// 参数:
//   - cfg: 抽取配置
//   - src: 出口来源（通常为 *egress.Controller）
//   - launcher: 浏览器会话启动器
//   - logger: 日志记录器
func NewEngine(cfg config.ExtractionConfig, src EgressSource, launcher Launcher, logger *slog.Logger, opts ...EngineOption) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.WindowTimeout.Duration <= 0 {
		cfg.WindowTimeout = config.D(30 * time.Second)
	}
	if cfg.Origin == "" {
		cfg.Origin = "gmaps_scraper"
	}
	e := &Engine{
		cfg:      cfg,
		egress:   src,
		launcher: launcher,
		parser:   RegexParser{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract 抽取线索。
//
// 只有会话建立之前的错误（没有可用出口、浏览器启动失败）会返回 error，
// 之后的任何错误都通过 onProgress 与日志上报，并返回已收集的部分结果。
// 一次尝试零结果时切换出口层级重试，最多 MaxAttempts 次。
func (e *Engine) Extract(ctx context.Context, req Request, onProgress ProgressFunc) (*Result, error) {
	start := time.Now()
	defer func() {
		metrics.ExtractionDuration.Observe(time.Since(start).Seconds())
	}()

	res := &Result{}
	if req.Limit <= 0 {
		return res, nil
	}

	codes := geo.AreaCodes(req.City)
	logger := e.logger.With(slog.String("job_id", req.JobID))
	logger.Info("extraction started",
		slog.String("phrase", req.Phrase),
		slog.String("city", req.City),
		slog.Int("limit", req.Limit),
		slog.Any("area_codes", codes))

	desc, err := e.egress.Acquire(ctx)
	if err != nil {
		metrics.ExtractionErrorsTotal.WithLabelValues("no_egress").Inc()
		return nil, fmt.Errorf("acquire egress: %w", err)
	}

	rotated := make(map[egress.Tier]bool)
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		res.Attempts = attempt
		res.Tier = string(desc.Tier)

		collector := NewCollector(req.Limit, codes, e.cfg.Origin, e.cfg.ProgressEvery, onProgress)
		out, err := e.attempt(ctx, logger, desc, req, collector)
		if err != nil {
			if errors.Is(err, ErrLaunch) && attempt == 1 {
				return nil, err
			}
			// 后续尝试的启动失败按部分结果处理
			logger.Warn("attempt aborted", slog.Int("attempt", attempt), slog.String("error", err.Error()))
			onProgress.emit(Progress{Message: "extraction error: " + err.Error(), Percent: 0})
			break
		}
		res.Leads = out.leads
		res.Windows = out.windows
		res.Blocked = out.blocked

		if len(out.leads) > 0 && out.blocked == "" {
			e.egress.MarkSuccess(desc.Tier)
			break
		}

		reason := "zero leads"
		if out.blocked != "" {
			reason = "blocked: " + out.blocked
		}
		if len(out.leads) > 0 {
			// 拦截前已拿到部分结果，不再重试
			e.egress.MarkFailure(desc.Tier, reason)
			break
		}
		if attempt == e.cfg.MaxAttempts || ctx.Err() != nil {
			e.egress.MarkFailure(desc.Tier, reason)
			break
		}

		// 同一层级先换一次粘性会话（换 IP），再切换层级
		if !rotated[desc.Tier] {
			rotated[desc.Tier] = true
			fresh, err := e.egress.Rotate(desc.Tier)
			if err != nil {
				logger.Warn("rotate egress session failed", slog.String("tier", string(desc.Tier)), slog.String("error", err.Error()))
			}
			if fresh != nil {
				e.egress.MarkFailure(desc.Tier, reason)
				logger.Warn("attempt collected nothing, rotating egress session",
					slog.Int("attempt", attempt),
					slog.String("tier", string(desc.Tier)),
					slog.String("session_id", fresh.SessionID),
					slog.String("reason", reason))
				onProgress.emit(Progress{Message: fmt.Sprintf("attempt %d failed (%s), rotating %s session", attempt, reason, desc.Tier)})
				desc = fresh
				continue
			}
		}

		logger.Warn("attempt collected nothing, switching egress",
			slog.Int("attempt", attempt),
			slog.String("tier", string(desc.Tier)),
			slog.String("reason", reason))
		onProgress.emit(Progress{Message: fmt.Sprintf("attempt %d failed (%s), switching egress", attempt, reason)})

		// Switch 会为当前层级记一次失败
		next, err := e.egress.Switch(ctx, desc.Tier)
		if err != nil {
			logger.Warn("no egress left for retry", slog.String("error", err.Error()))
			onProgress.emit(Progress{Message: "no egress left for retry: " + err.Error()})
			break
		}
		desc = next
	}

	res.Duration = time.Since(start)
	metrics.ExtractionLeadsTotal.Add(float64(len(res.Leads)))
	logger.Info("extraction finished",
		slog.Int("leads", len(res.Leads)),
		slog.Int("attempts", res.Attempts),
		slog.String("tier", res.Tier),
		slog.Duration("duration", res.Duration))
	return res, nil
}

type attemptOutcome struct {
	leads   []Lead
	windows int
	blocked string
}

// attempt 执行一次完整的会话：启动、导航、检测、并发窗口请求与解析。
func (e *Engine) attempt(ctx context.Context, logger *slog.Logger, desc *egress.Descriptor, req Request, collector *Collector) (out attemptOutcome, err error) {
	if e.limiter != nil {
		if err := e.limiter.Acquire(ctx); err != nil {
			return out, fmt.Errorf("wait navigation slot: %w", err)
		}
	}

	sess, err := e.launcher.Launch(ctx, desc, req)
	if err != nil {
		metrics.ExtractionErrorsTotal.WithLabelValues("launch").Inc()
		return out, fmt.Errorf("%w: %v", ErrLaunch, err)
	}
	defer func() {
		if closeErr := sess.Close(); closeErr != nil {
			logger.Debug("close session failed", slog.String("error", closeErr.Error()))
		}
	}()

	// 会话建立之后的错误一律降级为部分结果
	report := func(stage string, err error) {
		metrics.ExtractionErrorsTotal.WithLabelValues(classifyCrawlerError(err)).Inc()
		logger.Warn("extraction stage failed", slog.String("stage", stage), slog.String("error", err.Error()))
		collector.onProgress.emit(Progress{
			Message: fmt.Sprintf("%s failed: %v", stage, err),
			Percent: collector.percent(),
			Count:   collector.Count(),
		})
	}
	defer func() {
		if r := recover(); r != nil {
			report("extraction", fmt.Errorf("panic: %v", r))
			out.leads = collector.Leads()
			err = nil
		}
	}()

	state, navErr := sess.Open(ctx, SearchURL(e.cfg.BaseURL, req.Query()))
	if navErr != nil {
		report("navigate", navErr)
		sess.Capture("navigate")
		if classifyError(navErr) == errTypeBlocked {
			out.blocked = "navigate"
		}
		out.leads = collector.Finish()
		return out, nil
	}

	if block := DetectBlock(state); block != "" {
		report("detect", &errBlocked{kind: block})
		sess.Capture("blocked_" + block)
		out.blocked = block
		out.leads = collector.Finish()
		return out, nil
	}
	if !OnMapsPage(state.URL) {
		report("detect", fmt.Errorf("redirected to %s", state.URL))
		sess.Capture(BlockRedirected)
		out.blocked = BlockRedirected
		out.leads = collector.Finish()
		return out, nil
	}

	sess.Warmup(ctx, state)

	bodies := e.fetchWindows(ctx, logger, sess.Fetch, req)
	for _, body := range bodies {
		if body == "" {
			continue
		}
		out.windows++
		collector.AddAll(e.parser.Parse(body))
		if collector.Full() {
			break
		}
	}

	if collector.Count() == 0 {
		sess.Capture("no_leads")
	}
	logger.Debug("windows processed",
		slog.Int("windows_ok", out.windows),
		slog.Int("dup_names", collector.DroppedDuplicateName),
		slog.Int("invalid_phones", collector.DroppedInvalidPhone),
		slog.Int("area_code_mismatch", collector.DroppedAreaCode),
		slog.Int("dup_phones", collector.DroppedDuplicatePhone))

	out.leads = collector.Finish()
	return out, nil
}

// fetchWindows 并发请求全部结果窗口，按偏移顺序返回响应体，失败的窗口为空串。
func (e *Engine) fetchWindows(ctx context.Context, logger *slog.Logger, fetch FetchFunc, req Request) []string {
	n := WindowCount(req.Limit, e.cfg.BatchSize)
	city, _ := geo.Resolve(req.City)
	bodies := make([]string, n)

	// 单个窗口失败不影响其他窗口，goroutine 始终返回 nil
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		offset := i * e.cfg.BatchSize
		url := WindowURL(e.cfg.BaseURL, req.Query(), city, offset, e.cfg.BatchSize)
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					metrics.ExtractionWindowsTotal.WithLabelValues("panic").Inc()
					logger.Error("window fetch panic recovered", slog.Int("offset", offset), slog.Any("panic", r))
					err = nil
				}
			}()
			wctx, cancel := context.WithTimeout(ctx, e.cfg.WindowTimeout.Duration)
			defer cancel()

			body, err := fetch(wctx, url)
			if err != nil {
				metrics.ExtractionWindowsTotal.WithLabelValues("error").Inc()
				logger.Debug("window fetch failed", slog.Int("offset", offset), slog.String("error", err.Error()))
				return nil
			}
			metrics.ExtractionWindowsTotal.WithLabelValues("ok").Inc()
			bodies[i] = body
			return nil
		})
	}
	_ = g.Wait()
	return bodies
}
