package identity

import "strings"

// OS 浏览器身份所属的操作系统族。
type OS string

const (
	OSWindows OS = "windows"
	OSMacOS   OS = "macos"
)

// Source 身份来源。
type Source string

const (
	SourceGenerated Source = "generated"
	SourceFallback  Source = "fallback"
)

// Screen 屏幕几何信息。
type Screen struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AvailWidth  int     `json:"availWidth"`
	AvailHeight int     `json:"availHeight"`
	ColorDepth  int     `json:"colorDepth"`
	PixelRatio  float64 `json:"pixelRatio"`
}

// Navigator navigator 对象上可被检测的字段。
type Navigator struct {
	HardwareConcurrency int      `json:"hardwareConcurrency"`
	DeviceMemory        int      `json:"deviceMemory"`
	Platform            string   `json:"platform"`
	Languages           []string `json:"languages"`
}

// WebGL 未屏蔽的显卡厂商与渲染器字符串。
type WebGL struct {
	Vendor   string `json:"vendor"`
	Renderer string `json:"renderer"`
}

// Viewport 页面视口尺寸。
type Viewport struct {
	Width  int
	Height int
}

// Identity 一次抓取会话使用的完整浏览器身份。
//
// UA、请求头、硬件与渲染特征必须互相一致，同一会话内缓存复用。
type Identity struct {
	UserAgent     string
	Headers       map[string]string
	Platform      string // UA 平台标签：Windows / macOS
	Brand         string // Google Chrome / Microsoft Edge
	ChromeVersion string
	OS            OS
	Locale        string

	Screen    Screen
	Navigator Navigator
	WebGL     WebGL
	Fonts     []string
	Viewport  Viewport

	Source Source
}

// platformFor 返回操作系统对应的 navigator.platform。
func platformFor(os OS) string {
	if os == OSMacOS {
		return "MacIntel"
	}
	return "Win32"
}

// languagesFor 根据语言区域生成 navigator.languages。
func languagesFor(locale string) []string {
	lang := strings.ToLower(locale)
	switch {
	case strings.HasPrefix(lang, "en"):
		return []string{"en-US", "en"}
	case strings.HasPrefix(lang, "es"):
		return []string{"es-ES", "es", "en"}
	default:
		return []string{"pt-BR", "pt", "en-US", "en"}
	}
}

// AcceptLanguage 根据语言区域生成 Accept-Language 头，未知语言按葡语处理。
func AcceptLanguage(locale string) string {
	lang := strings.ToLower(locale)
	switch {
	case strings.HasPrefix(lang, "pt"):
		return "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7"
	case strings.HasPrefix(lang, "en"):
		return "en-US,en;q=0.9"
	case strings.HasPrefix(lang, "es"):
		return "es-ES,es;q=0.9,en;q=0.8"
	default:
		return "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7"
	}
}

// Clone 返回深拷贝，调用方可安全修改。
func (id *Identity) Clone() *Identity {
	if id == nil {
		return nil
	}
	out := *id
	out.Headers = make(map[string]string, len(id.Headers))
	for k, v := range id.Headers {
		out.Headers[k] = v
	}
	out.Navigator.Languages = append([]string(nil), id.Navigator.Languages...)
	out.Fonts = append([]string(nil), id.Fonts...)
	return &out
}
