package identity

import (
	"fmt"
	"math/rand"
)

// uaProfile UA 池中的一项。
type uaProfile struct {
	UA       string
	Platform string // Windows / macOS
	Version  string
	Brand    string
}

func (p uaProfile) os() OS {
	if p.Platform == "macOS" {
		return OSMacOS
	}
	return OSWindows
}

var uaPool = []uaProfile{
	// Chrome Windows
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36", "Windows", "124", "Google Chrome"},
	{"Mozilla/5.0 (Windows NT 11.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36", "Windows", "123", "Google Chrome"},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36", "Windows", "122", "Google Chrome"},
	{"Mozilla/5.0 (Windows NT 11.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36", "Windows", "121", "Google Chrome"},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36", "Windows", "120", "Google Chrome"},

	// Chrome macOS
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36", "macOS", "124", "Google Chrome"},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4_1) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36", "macOS", "123", "Google Chrome"},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_6_3) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36", "macOS", "122", "Google Chrome"},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36", "macOS", "121", "Google Chrome"},

	// Edge Windows
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0", "Windows", "124", "Microsoft Edge"},
	{"Mozilla/5.0 (Windows NT 11.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36 Edg/123.0.0.0", "Windows", "123", "Microsoft Edge"},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36 Edg/122.0.0.0", "Windows", "122", "Microsoft Edge"},
	{"Mozilla/5.0 (Windows NT 11.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36 Edg/121.0.0.0", "Windows", "121", "Microsoft Edge"},
}

// pickProfile 从 UA 池中随机选择指定系统的一项。
func pickProfile(rng *rand.Rand, os OS) uaProfile {
	candidates := make([]uaProfile, 0, len(uaPool))
	for _, p := range uaPool {
		if p.os() == os {
			candidates = append(candidates, p)
		}
	}
	return candidates[rng.Intn(len(candidates))]
}

// clientHints 生成与 UA 一致的 Client Hints 头。
func clientHints(p uaProfile) map[string]string {
	brands := fmt.Sprintf(`"Not-A.Brand";v="99", "Chromium";v="%s", "Google Chrome";v="%s"`, p.Version, p.Version)
	if p.Brand == "Microsoft Edge" {
		brands = fmt.Sprintf(`"Not-A.Brand";v="99", "Chromium";v="%s", "Microsoft Edge";v="%s"`, p.Version, p.Version)
	}
	platformVersion := `"15.0.0"`
	if p.Platform != "Windows" {
		platformVersion = `"14.4.1"`
	}
	return map[string]string{
		"sec-ch-ua":                  brands,
		"sec-ch-ua-mobile":           "?0",
		"sec-ch-ua-platform":         fmt.Sprintf(`"%s"`, p.Platform),
		"sec-ch-ua-platform-version": platformVersion,
	}
}

// buildHeaders 组装一次导航使用的完整请求头。
func buildHeaders(p uaProfile, locale string) map[string]string {
	headers := map[string]string{
		"User-Agent":                p.UA,
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7",
		"Accept-Language":           AcceptLanguage(locale),
		"Accept-Encoding":           "gzip, deflate, br",
		"Upgrade-Insecure-Requests": "1",
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Site":            "none",
		"Sec-Fetch-User":            "?1",
		"DNT":                       "1",
		"Cache-Control":             "max-age=0",
	}
	for k, v := range clientHints(p) {
		headers[k] = v
	}
	return headers
}

var windowsFonts = []string{
	"Arial", "Arial Black", "Calibri", "Cambria", "Comic Sans MS", "Consolas", "Courier New",
	"Georgia", "Impact", "Lucida Console", "Segoe UI", "Tahoma", "Times New Roman", "Trebuchet MS", "Verdana",
}

var macFonts = []string{
	"Arial", "Arial Black", "Comic Sans MS", "Courier New", "Georgia", "Helvetica", "Helvetica Neue",
	"Impact", "Lucida Grande", "Monaco", "Palatino", "Tahoma", "Times New Roman", "Trebuchet MS", "Verdana",
}

// FallbackProfile 生成器不可用时使用的手工参考配置。
type FallbackProfile struct {
	Screen    Screen
	Navigator Navigator
	WebGL     WebGL
	Fonts     []string
}

// FallbackProfiles 每个系统族一份参考配置。
var FallbackProfiles = map[OS]FallbackProfile{
	OSWindows: {
		Screen: Screen{Width: 1920, Height: 1080, AvailWidth: 1920, AvailHeight: 1040, ColorDepth: 24, PixelRatio: 1},
		Navigator: Navigator{
			HardwareConcurrency: 8,
			DeviceMemory:        8,
			Platform:            "Win32",
			Languages:           []string{"pt-BR", "pt", "en-US", "en"},
		},
		WebGL: WebGL{
			Vendor:   "Google Inc. (Intel)",
			Renderer: "ANGLE (Intel, Intel(R) UHD Graphics 620 Direct3D11 vs_5_0 ps_5_0, D3D11)",
		},
		Fonts: windowsFonts,
	},
	OSMacOS: {
		Screen: Screen{Width: 1920, Height: 1080, AvailWidth: 1920, AvailHeight: 1055, ColorDepth: 30, PixelRatio: 2},
		Navigator: Navigator{
			HardwareConcurrency: 10,
			DeviceMemory:        8,
			Platform:            "MacIntel",
			Languages:           []string{"pt-BR", "pt", "en-US", "en"},
		},
		WebGL: WebGL{
			Vendor:   "Google Inc. (Apple)",
			Renderer: "ANGLE (Apple, Apple M1 Pro, OpenGL 4.1)",
		},
		Fonts: macFonts,
	},
}
