package identity

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"mapleads/internal/pkg/metrics"
)

const (
	StrategyProtocol = "protocol"
	StrategyManual   = "manual"
)

// Strategy 一种身份注入方式。
type Strategy interface {
	Name() string
	Inject(page *rod.Page, id *Identity) error
}

// ScriptPage 能在文档创建前注入脚本的页面。
type ScriptPage interface {
	EvalOnNewDocument(js string) (func() error, error)
}

// ManualPage 手动策略需要的页面能力：网络层 UA 覆盖与导航前脚本。
type ManualPage interface {
	ScriptPage
	SetUserAgent(req *proto.NetworkSetUserAgentOverride) error
}

// ManualStrategy 覆盖网络层 UA 后再用导航前脚本覆盖浏览器表面，始终可用。
// 不设置 Client Hints 元数据，这部分由 protocol 策略负责。
type ManualStrategy struct{}

func (ManualStrategy) Name() string { return StrategyManual }

func (ManualStrategy) Inject(page *rod.Page, id *Identity) error {
	return injectManual(page, id)
}

func injectManual(page ManualPage, id *Identity) error {
	if id.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      id.UserAgent,
			AcceptLanguage: id.Headers["Accept-Language"],
			Platform:       id.Navigator.Platform,
		}); err != nil {
			return fmt.Errorf("set user agent override: %w", err)
		}
	}
	return injectSurface(page, id)
}

func injectSurface(page ScriptPage, id *Identity) error {
	js, err := SurfaceScript(id)
	if err != nil {
		return err
	}
	if _, err := page.EvalOnNewDocument(js); err != nil {
		return fmt.Errorf("eval surface script: %w", err)
	}
	return nil
}

// ProtocolStrategy 通过 DevTools 协议覆盖 UA、Client Hints 与设备参数，
// 再叠加 go-rod/stealth 与表面脚本。
type ProtocolStrategy struct{}

func (ProtocolStrategy) Name() string { return StrategyProtocol }

func (ProtocolStrategy) Inject(page *rod.Page, id *Identity) error {
	platformVersion := "15.0.0"
	if id.OS == OSMacOS {
		platformVersion = "14.4.1"
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      id.UserAgent,
		AcceptLanguage: id.Headers["Accept-Language"],
		Platform:       id.Navigator.Platform,
		UserAgentMetadata: &proto.EmulationUserAgentMetadata{
			Brands: []*proto.EmulationUserAgentBrandVersion{
				{Brand: "Not-A.Brand", Version: "99"},
				{Brand: "Chromium", Version: id.ChromeVersion},
				{Brand: id.Brand, Version: id.ChromeVersion},
			},
			FullVersion:     id.ChromeVersion + ".0.0.0",
			Platform:        id.Platform,
			PlatformVersion: platformVersion,
			Architecture:    "x86",
			Mobile:          false,
		},
	}); err != nil {
		return fmt.Errorf("set user agent override: %w", err)
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             id.Viewport.Width,
		Height:            id.Viewport.Height,
		DeviceScaleFactor: id.Screen.PixelRatio,
		Mobile:            false,
	}); err != nil {
		return fmt.Errorf("set device metrics: %w", err)
	}

	if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
		return fmt.Errorf("eval stealth script: %w", err)
	}
	return injectSurface(page, id)
}

// StrategyByName 按名称返回内置策略。
func StrategyByName(name string) (Strategy, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case StrategyProtocol:
		return ProtocolStrategy{}, true
	case StrategyManual:
		return ManualStrategy{}, true
	}
	return nil, false
}

// Injector 按排名依次尝试注入策略，直到有一个成功。
type Injector struct {
	strategies []Strategy
	logger     *slog.Logger
}

// NewInjector 创建注入器。
//
// manual 策略始终排在最后：列表中已有时移到末尾，没有时自动追加。
func NewInjector(logger *slog.Logger, ranked ...Strategy) *Injector {
	ordered := make([]Strategy, 0, len(ranked)+1)
	var manual Strategy
	for _, s := range ranked {
		if s == nil {
			continue
		}
		if s.Name() == StrategyManual {
			manual = s
			continue
		}
		ordered = append(ordered, s)
	}
	if manual == nil {
		manual = ManualStrategy{}
	}
	ordered = append(ordered, manual)
	return &Injector{strategies: ordered, logger: logger}
}

// NewInjectorFromNames 根据配置中的策略名称创建注入器，未知名称记录后忽略。
func NewInjectorFromNames(logger *slog.Logger, names []string) *Injector {
	ranked := make([]Strategy, 0, len(names))
	for _, n := range names {
		s, ok := StrategyByName(n)
		if !ok {
			logger.Warn("unknown injection strategy ignored", slog.String("strategy", n))
			continue
		}
		ranked = append(ranked, s)
	}
	return NewInjector(logger, ranked...)
}

// Strategies 返回生效的策略名称顺序。
func (inj *Injector) Strategies() []string {
	names := make([]string, 0, len(inj.strategies))
	for _, s := range inj.strategies {
		names = append(names, s.Name())
	}
	return names
}

// Inject 将身份注入页面。
//
// 返回值:
//   - string: 成功的策略名称
//   - error: 所有策略都失败时返回合并后的错误
func (inj *Injector) Inject(page *rod.Page, id *Identity) (string, error) {
	var errs []error
	for _, s := range inj.strategies {
		if err := inj.try(s, page, id); err != nil {
			metrics.IdentityInjectTotal.WithLabelValues(s.Name(), "failure").Inc()
			inj.logger.Warn("identity injection strategy failed",
				slog.String("strategy", s.Name()),
				slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		metrics.IdentityInjectTotal.WithLabelValues(s.Name(), "success").Inc()
		inj.logger.Debug("identity injected", slog.String("strategy", s.Name()))
		return s.Name(), nil
	}
	return "", errors.Join(errs...)
}

// try 执行单个策略，策略内部 panic 视为失败。
func (inj *Injector) try(s Strategy, page *rod.Page, id *Identity) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Inject(page, id)
}
