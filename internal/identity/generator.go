package identity

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
)

// ErrUnsupported 生成器不支持请求的约束组合。
var ErrUnsupported = errors.New("fingerprint constraints not supported")

// Constraints 指纹生成约束。
type Constraints struct {
	Browser string // 目前只支持 chrome
	OS      OS
	Locale  string
}

// Fingerprint 生成器输出的硬件与渲染特征。
type Fingerprint struct {
	Screen    Screen
	Navigator Navigator
	WebGL     WebGL
	Fonts     []string
}

// Generator 指纹生成能力。
type Generator interface {
	Generate(ctx context.Context, c Constraints) (*Fingerprint, error)
}

type weighted[T any] struct {
	value  T
	weight int
}

func pickWeighted[T any](rng *rand.Rand, items []weighted[T]) T {
	total := 0
	for _, it := range items {
		total += it.weight
	}
	n := rng.Intn(total)
	for _, it := range items {
		if n < it.weight {
			return it.value
		}
		n -= it.weight
	}
	return items[len(items)-1].value
}

type screenSample struct {
	width, height int
	taskbar       int
	ratio         float64
}

var windowsScreens = []weighted[screenSample]{
	{screenSample{1920, 1080, 40, 1}, 45},
	{screenSample{1366, 768, 40, 1}, 15},
	{screenSample{1536, 864, 48, 1.25}, 15},
	{screenSample{2560, 1440, 40, 1}, 10},
	{screenSample{1440, 900, 40, 1}, 8},
	{screenSample{1600, 900, 40, 1}, 7},
}

var macScreens = []weighted[screenSample]{
	{screenSample{1440, 900, 25, 2}, 30},
	{screenSample{1512, 982, 37, 2}, 25},
	{screenSample{1728, 1117, 37, 2}, 15},
	{screenSample{1920, 1080, 25, 2}, 20},
	{screenSample{2560, 1440, 25, 2}, 10},
}

var windowsGPUs = []weighted[WebGL]{
	{WebGL{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) UHD Graphics 620 Direct3D11 vs_5_0 ps_5_0, D3D11)"}, 30},
	{WebGL{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) Iris(R) Xe Graphics Direct3D11 vs_5_0 ps_5_0, D3D11)"}, 20},
	{WebGL{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce GTX 1650 Direct3D11 vs_5_0 ps_5_0, D3D11)"}, 20},
	{WebGL{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce RTX 3060 Direct3D11 vs_5_0 ps_5_0, D3D11)"}, 15},
	{WebGL{"Google Inc. (AMD)", "ANGLE (AMD, AMD Radeon(TM) Graphics Direct3D11 vs_5_0 ps_5_0, D3D11)"}, 15},
}

var macGPUs = []weighted[WebGL]{
	{WebGL{"Google Inc. (Apple)", "ANGLE (Apple, Apple M1, OpenGL 4.1)"}, 30},
	{WebGL{"Google Inc. (Apple)", "ANGLE (Apple, Apple M1 Pro, OpenGL 4.1)"}, 20},
	{WebGL{"Google Inc. (Apple)", "ANGLE (Apple, ANGLE Metal Renderer: Apple M2, Unspecified Version)"}, 30},
	{WebGL{"Google Inc. (Apple)", "ANGLE (Apple, ANGLE Metal Renderer: Apple M3, Unspecified Version)"}, 20},
}

var windowsCores = []weighted[int]{{4, 20}, {8, 45}, {12, 20}, {16, 15}}
var macCores = []weighted[int]{{8, 45}, {10, 35}, {12, 20}}
var memorySizes = []weighted[int]{{4, 15}, {8, 70}, {16, 15}}

// StatisticalGenerator 按真实设备分布的加权池抽样生成指纹。
type StatisticalGenerator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewStatisticalGenerator 创建生成器，seed 为 0 时使用随机种子。
func NewStatisticalGenerator(seed int64) *StatisticalGenerator {
	if seed == 0 {
		seed = rand.Int63()
	}
	return &StatisticalGenerator{rng: rand.New(rand.NewSource(seed))}
}

// Generate 生成满足约束的指纹。
func (g *StatisticalGenerator) Generate(ctx context.Context, c Constraints) (*Fingerprint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.Browser != "" && c.Browser != "chrome" {
		return nil, fmt.Errorf("%w: browser %q", ErrUnsupported, c.Browser)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	var (
		screens []weighted[screenSample]
		gpus    []weighted[WebGL]
		cores   []weighted[int]
		fonts   []string
		depth   int
	)
	switch c.OS {
	case OSWindows:
		screens, gpus, cores, fonts, depth = windowsScreens, windowsGPUs, windowsCores, windowsFonts, 24
	case OSMacOS:
		screens, gpus, cores, fonts, depth = macScreens, macGPUs, macCores, macFonts, 30
	default:
		return nil, fmt.Errorf("%w: os %q", ErrUnsupported, c.OS)
	}

	s := pickWeighted(g.rng, screens)
	return &Fingerprint{
		Screen: Screen{
			Width:       s.width,
			Height:      s.height,
			AvailWidth:  s.width,
			AvailHeight: s.height - s.taskbar,
			ColorDepth:  depth,
			PixelRatio:  s.ratio,
		},
		Navigator: Navigator{
			HardwareConcurrency: pickWeighted(g.rng, cores),
			DeviceMemory:        pickWeighted(g.rng, memorySizes),
			Platform:            platformFor(c.OS),
			Languages:           languagesFor(c.Locale),
		},
		WebGL: pickWeighted(g.rng, gpus),
		Fonts: append([]string(nil), fonts...),
	}, nil
}
