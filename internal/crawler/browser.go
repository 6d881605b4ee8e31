package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"mapleads/internal/config"
	"mapleads/internal/egress"
	"mapleads/internal/geo"
	"mapleads/internal/humanize"
	"mapleads/internal/identity"
	"mapleads/internal/pkg/metrics"
)

const (
	pageCreateTimeout  = 15 * time.Second
	injectTimeout      = 10 * time.Second
	loadWaitTimeout    = 30 * time.Second
	idleWaitTimeout    = 15 * time.Second
	consentWaitTimeout = 2 * time.Second
	feedSelector       = `div[role="feed"]`
	cardSelector       = `div[role="feed"] a[href*="/maps/place/"]`
)

// 屏蔽高带宽资源与追踪脚本
var blockedURLs = []string{
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg", "*.ico",
	"*.woff", "*.woff2", "*.ttf", "*.eot", "*.otf",
	"*.mp4", "*.webm", "*.mp3", "*.ogg", "*.wav",
	"*google-analytics*",
	"*googletagmanager*",
	"*doubleclick*",
	"*googlesyndication*",
	"*facebook*",
}

// fetchJS 在页面上下文中执行 fetch，携带 Cookie
const fetchJS = `async (u) => {
	const r = await fetch(u, { credentials: 'include' });
	if (!r.ok) {
		throw new Error('unexpected response status ' + r.status);
	}
	return await r.text();
}`

// RodLauncher 使用 go-rod 启动隔离的浏览器会话。
//
// 每次启动都是独立的浏览器进程，按出口层级设置代理，
// 并在导航前注入身份与地理环境。
type RodLauncher struct {
	cfg      *config.Config
	gen      identity.Generator
	injector *identity.Injector
	geo      *geo.Synchronizer
	sim      *humanize.Simulator
	sleeper  humanize.Sleeper
	debug    *debugCapture
	logger   *slog.Logger
}

// NewRodLauncher 创建浏览器启动器。
//
// 参数:
//   - cfg: 全局配置（使用 Browser 与 Identity 部分）
//   - gen: 指纹生成器，为 nil 时使用参考指纹
//   - injector: 身份注入器
//   - sync: 地理同步器
//   - sim: 交互模拟器
//   - logger: 日志记录器
func NewRodLauncher(cfg *config.Config, gen identity.Generator, injector *identity.Injector, sync *geo.Synchronizer, sim *humanize.Simulator, logger *slog.Logger) *RodLauncher {
	return &RodLauncher{
		cfg:      cfg,
		gen:      gen,
		injector: injector,
		geo:      sync,
		sim:      sim,
		sleeper:  humanize.RealSleeper,
		debug:    newDebugCapture(cfg.Browser.DebugCapture, cfg.Browser.DebugDir, logger),
		logger:   logger,
	}
}

// Launch 启动浏览器并完成导航前的准备。
func (l *RodLauncher) Launch(ctx context.Context, desc *egress.Descriptor, req Request) (Session, error) {
	// 每个会话使用独立的身份缓存，会话关闭时清除
	ids := identity.NewManager(l.gen, l.logger)
	id, err := ids.Acquire(ctx, l.cfg.Identity.Locale)
	if err != nil {
		return nil, fmt.Errorf("acquire identity: %w", err)
	}

	browser, err := l.startWithTimeout(ctx, desc)
	if err != nil {
		return nil, err
	}

	page, err := createPage(ctx, browser)
	if err != nil {
		_ = browser.Close()
		return nil, err
	}

	sess := &rodSession{
		browser:    browser,
		page:       page,
		identities: ids,
		sim:        l.sim,
		sleeper:    l.sleeper,
		surface:    humanize.NewPageSurface(page),
		debug:      l.debug,
		jobID:      req.JobID,
		navTimeout: l.cfg.Browser.NavigationTimeout.Duration,
		logger:     l.logger.With(slog.String("job_id", req.JobID), slog.String("tier", string(desc.Tier))),
	}
	metrics.BrowserActive.Inc()

	// 身份注入：策略按排名依次尝试，全部失败只记录日志
	if strategy, injErr := l.injectWithTimeout(page, id); injErr != nil {
		sess.logger.Warn("identity injection failed, continuing", slog.String("error", injErr.Error()))
	} else {
		sess.logger.Debug("identity injected", slog.String("strategy", strategy), slog.String("os", string(id.OS)))
	}

	if l.cfg.Browser.BlockResources {
		if err := (proto.NetworkSetBlockedURLs{Urls: blockedURLs}).Call(page); err != nil {
			sess.logger.Warn("set blocked urls failed", slog.String("error", err.Error()))
		}
	}

	// 地理环境与身份请求头合并下发
	city := l.geo.Apply(&geo.PageEmulator{Page: page, Headers: id.Headers}, req.City)
	sess.logger.Debug("session prepared",
		slog.String("city", city.Key),
		slog.String("user_agent", id.UserAgent),
		slog.Int("viewport_w", id.Viewport.Width),
		slog.Int("viewport_h", id.Viewport.Height))
	return sess, nil
}

func (l *RodLauncher) startWithTimeout(ctx context.Context, desc *egress.Descriptor) (*rod.Browser, error) {
	type startResult struct {
		browser *rod.Browser
		err     error
	}
	done := make(chan startResult, 1)
	go func() {
		b, err := startBrowser(ctx, l.cfg.Browser, desc, l.logger)
		select {
		case done <- startResult{browser: b, err: err}:
		default:
			// 调用方已超时离开，回收迟到的浏览器
			if b != nil {
				_ = b.Close()
			}
		}
	}()

	timeout := l.cfg.Browser.LaunchTimeout.Duration
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.browser, r.err
	case <-timer.C:
		return nil, fmt.Errorf("launch browser timeout after %v", timeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled during browser launch: %w", ctx.Err())
	}
}

func (l *RodLauncher) injectWithTimeout(page *rod.Page, id *identity.Identity) (string, error) {
	type injectResult struct {
		strategy string
		err      error
	}
	done := make(chan injectResult, 1)
	go func() {
		name, err := l.injector.Inject(page, id)
		done <- injectResult{strategy: name, err: err}
	}()

	timer := time.NewTimer(injectTimeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.strategy, r.err
	case <-timer.C:
		return "", fmt.Errorf("identity injection timeout after %v", injectTimeout)
	}
}

// startBrowser 启动浏览器进程，非直连层级设置代理与认证。
func startBrowser(ctx context.Context, cfg config.BrowserConfig, desc *egress.Descriptor, logger *slog.Logger) (*rod.Browser, error) {
	bin := cfg.BinPath
	if bin == "" {
		logger.Info("no browser binary specified, downloading default...")
		path, err := launcher.NewBrowser().Get()
		if err != nil {
			return nil, fmt.Errorf("download browser: %w", err)
		}
		bin = path
	}

	// 针对 Docker 环境的 Flag 优化
	l := launcher.New().
		Headless(cfg.Headless).
		Bin(bin).
		NoSandbox(true).
		// 禁用 /dev/shm，防止容器内内存崩溃
		Set("disable-dev-shm-usage", "true").
		Set("disable-gpu", "true").
		Set("disable-software-rasterizer", "true").
		Set("remote-allow-origins", "*").
		Set("disable-blink-features", "AutomationControlled").
		Set("disk-cache-size", "1").
		Set("media-cache-size", "1").
		Set("js-flags", "--max_old_space_size=512")

	if !desc.Direct() {
		l = l.Proxy(desc.ProxyServer())
		logger.Info("using egress proxy",
			slog.String("tier", string(desc.Tier)),
			slog.String("server", desc.ProxyServer()),
			slog.String("session_id", desc.SessionID))
	}

	wsURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().Context(ctx).ControlURL(wsURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	if !desc.Direct() && desc.Username != "" {
		go browser.MustHandleAuth(desc.Username, desc.Password)()
		logger.Debug("proxy authentication handler registered")
	}

	logger.Info("browser started", slog.String("bin", bin), slog.String("tier", string(desc.Tier)))
	return browser, nil
}

// createPage 打开空白页，用 select 做超时保护，页面对象不绑定短超时 context
func createPage(ctx context.Context, browser *rod.Browser) (*rod.Page, error) {
	type pageResult struct {
		page *rod.Page
		err  error
	}
	pageResultCh := make(chan pageResult, 1)
	go func() {
		page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: ""})
		select {
		case pageResultCh <- pageResult{page: page, err: err}:
		default:
			if page != nil {
				_ = page.Close()
			}
		}
	}()

	timer := time.NewTimer(pageCreateTimeout)
	defer timer.Stop()
	select {
	case r := <-pageResultCh:
		if r.err != nil {
			return nil, fmt.Errorf("create page failed: %w", r.err)
		}
		return r.page, nil
	case <-timer.C:
		return nil, fmt.Errorf("create page timeout after %v", pageCreateTimeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled during page creation: %w", ctx.Err())
	}
}

// rodSession Session 的 go-rod 实现。
type rodSession struct {
	browser    *rod.Browser
	page       *rod.Page
	identities *identity.Manager
	sim        *humanize.Simulator
	sleeper    humanize.Sleeper
	surface    *humanize.PageSurface
	debug      *debugCapture
	jobID      string
	navTimeout time.Duration
	logger     *slog.Logger
}

func (s *rodSession) Open(ctx context.Context, url string) (PageState, error) {
	s.logger.Info("loading page", slog.String("url", url))

	navigateCtx, navigateCancel := context.WithTimeout(ctx, s.navTimeout)
	defer navigateCancel()

	navigateErrCh := make(chan error, 1)
	go func() {
		navigateErrCh <- s.page.Context(navigateCtx).Navigate(url)
	}()
	select {
	case navErr := <-navigateErrCh:
		if navErr != nil {
			return PageState{}, fmt.Errorf("navigate: %w", navErr)
		}
	case <-navigateCtx.Done():
		return PageState{}, fmt.Errorf("navigate timeout: %w", navigateCtx.Err())
	}

	// 等待 DOM 与资源加载
	loadCtx, loadCancel := context.WithTimeout(ctx, loadWaitTimeout)
	defer loadCancel()
	if err := s.page.Context(loadCtx).WaitLoad(); err != nil {
		s.logger.Warn("WaitLoad failed, continuing anyway", slog.String("error", err.Error()))
	}

	// 等待网络空闲（结果列表异步加载）
	waitIdle := s.page.WaitRequestIdle(time.Second, nil, nil, nil)
	idleCtx, idleCancel := context.WithTimeout(ctx, idleWaitTimeout)
	defer idleCancel()
	idleDone := make(chan struct{})
	go func() {
		waitIdle()
		close(idleDone)
	}()
	select {
	case <-idleDone:
	case <-idleCtx.Done():
		s.logger.Debug("WaitRequestIdle timeout, continuing")
	}

	var state PageState
	if info, err := s.page.Info(); err == nil {
		state.Title = info.Title
		state.URL = info.URL
	}
	html, err := s.page.Timeout(5 * time.Second).HTML()
	if err != nil {
		s.logger.Debug("read page html failed", slog.String("error", err.Error()))
	}
	state.HTML = html

	s.logger.Info("page loaded", slog.String("title", state.Title), slog.String("actual_url", state.URL))
	return state, nil
}

func (s *rodSession) Warmup(ctx context.Context, state PageState) {
	if HasConsentDialog(state.HTML) {
		s.dismissConsent()
	}
	if ctx.Err() != nil {
		return
	}

	s.sim.InitialMovement(s.surface)
	s.sim.HoverRandom(s.surface, cardSelector, 0)
	s.sim.OrganicScroll(s.surface, s.sim.ScrollDistance(), humanize.ScrollOptions{Selector: feedSelector})
	s.sim.MaybeIdleMove(s.surface)
}

func (s *rodSession) dismissConsent() bool {
	p := s.page.Timeout(consentWaitTimeout)
	for _, sel := range ConsentSelectors {
		has, el, err := p.Has(sel)
		if err != nil || !has {
			continue
		}
		if visible, _ := el.Visible(); !visible {
			continue
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			continue
		}
		s.logger.Info("consent dialog dismissed", slog.String("selector", sel))
		s.sleeper.Sleep(time.Second)
		return true
	}
	return false
}

func (s *rodSession) Fetch(ctx context.Context, url string) (string, error) {
	res, err := s.page.Context(ctx).Eval(fetchJS, url)
	if err != nil {
		return "", fmt.Errorf("window fetch: %w", err)
	}
	return res.Value.Str(), nil
}

func (s *rodSession) Capture(label string) {
	s.debug.save(s.jobID, label, s.page)
}

func (s *rodSession) Close() error {
	metrics.BrowserActive.Dec()
	s.identities.Reset()
	_ = s.page.Close()
	if err := s.browser.Close(); err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}
