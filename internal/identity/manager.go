package identity

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Manager 生成并缓存会话身份。
//
// 一个 Manager 对应一个抓取会话的生命周期，任务之间调用 Reset，
// 保证两个任务不会共享同一指纹。
type Manager struct {
	mu     sync.Mutex
	gen    Generator
	rng    *rand.Rand
	logger *slog.Logger
	cached *Identity
}

// ManagerOption Manager 的可选配置。
type ManagerOption func(*Manager)

// WithSeed 固定随机种子（测试用）。
func WithSeed(seed int64) ManagerOption {
	return func(m *Manager) {
		m.rng = rand.New(rand.NewSource(seed))
	}
}

// NewManager 创建身份管理器。
//
// 参数:
//   - gen: 指纹生成器，为 nil 时始终使用参考配置
//   - logger: 日志记录器
func NewManager(gen Generator, logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		gen:    gen,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire 返回当前会话的身份，无缓存时新建。
//
// 参数:
//   - ctx: 上下文
//   - locale: 语言区域，如 pt-BR
//
// 返回值:
//   - *Identity: 身份的副本
//   - error: 仅在 ctx 已取消时返回
func (m *Manager) Acquire(ctx context.Context, locale string) (*Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(locale) == "" {
		locale = "pt-BR"
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil {
		m.logger.Debug("using cached identity", slog.String("os", string(m.cached.OS)))
		return m.cached.Clone(), nil
	}

	os := OSWindows
	if m.rng.Intn(2) == 1 {
		os = OSMacOS
	}
	profile := pickProfile(m.rng, os)

	id := &Identity{
		UserAgent:     profile.UA,
		Headers:       buildHeaders(profile, locale),
		Platform:      profile.Platform,
		Brand:         profile.Brand,
		ChromeVersion: profile.Version,
		OS:            os,
		Locale:        locale,
	}
	m.fillFingerprint(ctx, id)

	// 平台字段必须与系统族一致
	id.Navigator.Platform = platformFor(os)
	id.Viewport = Viewport{Width: id.Screen.Width, Height: id.Screen.Height}
	if id.Viewport.Width == 0 || id.Viewport.Height == 0 {
		id.Viewport = Viewport{Width: 1920, Height: 1080}
	}

	if checks := Inspect(id); !checks.OK() {
		m.logger.Warn("identity validation failed, continuing",
			slog.Bool("has_screen", checks.HasScreen),
			slog.Bool("has_navigator", checks.HasNavigator),
			slog.Bool("has_webgl", checks.HasWebGL),
			slog.Bool("consistent", checks.IsConsistent))
	}

	m.cached = id
	m.logger.Info("identity created",
		slog.String("os", string(os)),
		slog.String("brand", profile.Brand),
		slog.String("chrome_version", profile.Version),
		slog.String("source", string(id.Source)))
	return id.Clone(), nil
}

func (m *Manager) fillFingerprint(ctx context.Context, id *Identity) {
	if m.gen != nil {
		fp, err := m.gen.Generate(ctx, Constraints{Browser: "chrome", OS: id.OS, Locale: id.Locale})
		if err == nil && fp != nil {
			id.Screen = fp.Screen
			id.Navigator = fp.Navigator
			id.WebGL = fp.WebGL
			id.Fonts = fp.Fonts
			id.Source = SourceGenerated
			return
		}
		if err == nil {
			m.logger.Warn("fingerprint generator returned nothing, using fallback")
		} else {
			m.logger.Warn("fingerprint generator failed, using fallback", slog.String("error", err.Error()))
		}
	}

	fb, ok := FallbackProfiles[id.OS]
	if !ok {
		fb = FallbackProfiles[OSWindows]
	}
	id.Screen = fb.Screen
	id.Navigator = fb.Navigator
	id.Navigator.Languages = languagesFor(id.Locale)
	id.WebGL = fb.WebGL
	id.Fonts = append([]string(nil), fb.Fonts...)
	id.Source = SourceFallback
}

// Reset 清除缓存的身份。
func (m *Manager) Reset() {
	m.mu.Lock()
	m.cached = nil
	m.mu.Unlock()
	m.logger.Debug("identity cache cleared")
}
