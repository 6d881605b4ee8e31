package humanize

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"mapleads/internal/config"
)

// Surface 模拟器操作的浏览器页面能力。
type Surface interface {
	MoveMouse(x, y float64) error
	ScrollBy(selector string, dy int) error
	Centers(selector string) ([]Point, error)
	ViewportSize() (width, height int, err error)
}

// Sleeper 同步等待。
type Sleeper interface {
	Sleep(d time.Duration)
}

// SleeperFunc 函数适配器。
type SleeperFunc func(d time.Duration)

func (f SleeperFunc) Sleep(d time.Duration) { f(d) }

// RealSleeper 使用 time.Sleep。
var RealSleeper Sleeper = SleeperFunc(time.Sleep)

// ScrollOptions 单次滚动的可选参数。
type ScrollOptions struct {
	Selector    string // 为空时滚动 window
	Steps       int    // 为 0 时按配置随机
	NoOvershoot bool
	SkipReading bool
}

// Simulator 生成拟人的鼠标与滚动轨迹。
//
// 所有操作都是顺序同步执行的，只留下交互痕迹，不解析页面响应；
// 出错时记录日志后直接返回。
type Simulator struct {
	cfg     config.HumanizeConfig
	sleeper Sleeper
	logger  *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator 创建模拟器。
//
// 参数:
//   - cfg: 步数、延迟、概率等范围配置
//   - sleeper: 等待实现，为 nil 时使用 time.Sleep
//   - seed: 随机种子，为 0 时按当前时间生成
func NewSimulator(cfg config.HumanizeConfig, sleeper Sleeper, seed int64, logger *slog.Logger) *Simulator {
	if sleeper == nil {
		sleeper = RealSleeper
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{
		cfg:     cfg,
		sleeper: sleeper,
		logger:  logger,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

func (s *Simulator) float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *Simulator) intn(n int) int {
	if n <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

// between 在闭区间 [r.Min, r.Max] 内取随机整数。
func (s *Simulator) between(r config.IntRange) int {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + s.intn(r.Max-r.Min+1)
}

func (s *Simulator) sleepMs(ms int) {
	if ms > 0 {
		s.sleeper.Sleep(time.Duration(ms) * time.Millisecond)
	}
}

func (s *Simulator) path(start, end Point, steps int) []Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return BezierPath(start, end, steps, s.rng)
}

// MoveTo 沿贝塞尔曲线将指针移动到 (x, y)。
func (s *Simulator) MoveTo(surface Surface, x, y float64) {
	s.moveTo(surface, x, y, s.between(s.cfg.MoveSteps))
}

func (s *Simulator) moveTo(surface Surface, x, y float64, steps int) {
	start := Point{X: float64(s.intn(100)), Y: float64(s.intn(100))}
	for _, p := range s.path(start, Point{X: x, Y: y}, steps) {
		if err := surface.MoveMouse(p.X, p.Y); err != nil {
			s.logger.Debug("mouse move failed", slog.String("error", err.Error()))
			return
		}
		// 偶尔停顿，模拟犹豫
		if s.float() < s.cfg.HesitationChance {
			s.sleepMs(s.between(s.cfg.HesitationMs))
		}
		s.sleepMs(s.between(s.cfg.StepDelayMs))
	}
}

// HoverRandom 随机挑选若干匹配元素，依次悬停。
//
// count <= 0 时按配置范围随机决定数量，最多不超过匹配元素数。
func (s *Simulator) HoverRandom(surface Surface, selector string, count int) int {
	centers, err := surface.Centers(selector)
	if err != nil {
		s.logger.Debug("hover lookup failed", slog.String("selector", selector), slog.String("error", err.Error()))
		return 0
	}
	if len(centers) == 0 {
		return 0
	}
	if count <= 0 {
		count = s.between(s.cfg.HoverCount)
	}
	if count > len(centers) {
		count = len(centers)
	}

	s.mu.Lock()
	s.rng.Shuffle(len(centers), func(i, j int) { centers[i], centers[j] = centers[j], centers[i] })
	s.mu.Unlock()

	for _, c := range centers[:count] {
		s.MoveTo(surface, c.X, c.Y)
		s.sleepMs(s.between(s.cfg.HoverDwellMs))
	}
	return count
}

// OrganicScroll 按缓出曲线滚动 distance 像素。
//
// 按配置概率先越过目标再用 8 帧回滚，最后插入一段"阅读"停顿。
func (s *Simulator) OrganicScroll(surface Surface, distance int, opts ScrollOptions) {
	steps := opts.Steps
	if steps <= 0 {
		steps = s.between(s.cfg.ScrollSteps)
	}

	overshoot := 0
	if !opts.NoOvershoot && s.float() < s.cfg.OvershootChance {
		overshoot = s.between(s.cfg.OvershootPx)
		if distance < 0 {
			overshoot = -overshoot
		}
	}

	s.logger.Debug("organic scroll",
		slog.Int("distance", distance),
		slog.Int("overshoot", overshoot),
		slog.Int("steps", steps))

	for _, d := range ScrollDeltas(distance+overshoot, steps) {
		if err := surface.ScrollBy(opts.Selector, d); err != nil {
			s.logger.Debug("scroll failed", slog.String("error", err.Error()))
			return
		}
		s.sleepMs(s.between(s.cfg.ScrollStepMs))
	}

	if overshoot != 0 {
		s.sleepMs(150 + s.intn(200))
		s.OrganicScroll(surface, -overshoot, ScrollOptions{
			Selector:    opts.Selector,
			Steps:       8,
			NoOvershoot: true,
			SkipReading: true,
		})
	}

	if !opts.SkipReading {
		s.sleepMs(s.between(s.cfg.ReadingMs))
	}
}

// ScrollDistance 按配置范围返回一次滚动的距离。
func (s *Simulator) ScrollDistance() int {
	return s.between(s.cfg.ScrollDistancePx)
}

// IdleMove 在视口内随机移动一次指针。
func (s *Simulator) IdleMove(surface Surface) {
	w, h, err := surface.ViewportSize()
	if err != nil || w <= 0 || h <= 0 {
		w, h = 1920, 1080
	}
	s.moveTo(surface, float64(s.intn(w)), float64(s.intn(h)), 30)
}

// MaybeIdleMove 按配置概率执行一次随机移动。
func (s *Simulator) MaybeIdleMove(surface Surface) bool {
	if s.float() >= s.cfg.IdleChance {
		return false
	}
	s.IdleMove(surface)
	return true
}

// InitialMovement 页面加载后的首次停顿与移动。
func (s *Simulator) InitialMovement(surface Surface) {
	s.sleepMs(s.between(s.cfg.InitialPauseMs))
	s.IdleMove(surface)
}
