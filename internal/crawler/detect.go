package crawler

import (
	"context"
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PageState 导航完成后的页面快照。
type PageState struct {
	Title string
	URL   string
	HTML  string
}

// 封锁类型
const (
	BlockCaptcha         = "captcha"
	BlockSorryPage       = "sorry_page"
	BlockUnusualTraffic  = "unusual_traffic"
	BlockForbidden       = "403_forbidden"
	BlockRateLimited     = "429_rate_limited"
	BlockBlankPage       = "blank_page"
	BlockConnectionError = "connection_error"
	BlockRedirected      = "unexpected_redirect"
)

var (
	unusualTrafficHints = []string{
		"unusual traffic",
		"tráfego incomum",
		"trafego incomum",
		"our systems have detected",
		"nossos sistemas detectaram",
		"not a robot",
		"não sou um robô",
	}
	connectionHints = []string{
		"err_connection",
		"err_proxy",
		"err_tunnel",
		"proxy error",
		"err_timed_out",
	}
	captchaSelectors = []string{
		"form#captcha-form",
		"#recaptcha",
		".g-recaptcha",
		`iframe[src*="recaptcha"]`,
		`iframe[title*="reCAPTCHA"]`,
		"#captcha",
	}
)

// ConsentSelectors 同意弹窗中可点击的按钮，按优先级排列。
var ConsentSelectors = []string{
	`button[aria-label="Aceitar tudo"]`,
	`button[aria-label="Accept all"]`,
	`form[action*="consent"] button`,
	`[aria-label="Fechar"]`,
	`[aria-label="Close"]`,
}

// containsAny 检查文本是否包含任意一个关键词
func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// DetectBlock 判断页面是否为拦截页，返回拦截类型，正常页面返回空串。
func DetectBlock(state PageState) string {
	lowerURL := strings.ToLower(state.URL)
	if strings.Contains(lowerURL, "/sorry/") || strings.Contains(lowerURL, "google.com/sorry") {
		return BlockSorryPage
	}

	title := strings.TrimSpace(state.Title)
	if (title == "" || title == "about:blank") && len(strings.TrimSpace(state.HTML)) < 100 {
		return BlockBlankPage
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(state.HTML))
	if err != nil {
		return detectBlockType(state.Title, state.HTML)
	}
	for _, sel := range captchaSelectors {
		if doc.Find(sel).Length() > 0 {
			return BlockCaptcha
		}
	}

	// 脚本内容里常出现 captcha 等字样，只看可见文本
	doc.Find("script, style, noscript").Remove()
	text := strings.ToLower(doc.Find("body").Text())
	if containsAny(text, unusualTrafficHints) {
		return BlockUnusualTraffic
	}

	switch block := detectBlockType(state.Title, text); block {
	case BlockForbidden, BlockRateLimited, BlockConnectionError, BlockCaptcha:
		return block
	}
	return ""
}

// HasConsentDialog 页面中是否存在同意弹窗。
func HasConsentDialog(html string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	if doc.Find(`form[action*="consent"]`).Length() > 0 {
		return true
	}
	for _, sel := range ConsentSelectors[:2] {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}

// OnMapsPage 导航后的地址是否仍在地图路径下。
func OnMapsPage(rawURL string) bool {
	return strings.Contains(rawURL, "/maps")
}

// statusTitle 返回可作为状态依据的小写标题。
// Maps 页面标题由搜索词拼成（"<query> - Google Maps"），不参与判断。
func statusTitle(title string) string {
	lower := strings.ToLower(strings.TrimSpace(title))
	if strings.Contains(lower, "google maps") {
		return ""
	}
	return lower
}

// detectBlockType 根据状态页标题与页面文本粗略判断拦截类型
func detectBlockType(title, text string) string {
	lowerTitle := statusTitle(title)
	lowerText := strings.ToLower(text)

	if strings.Contains(lowerText, "recaptcha") ||
		strings.Contains(lowerText, "captcha") ||
		strings.Contains(lowerText, "verify you are human") {
		return BlockCaptcha
	}

	// 403 Forbidden（IP 被封），标题只认状态码开头的错误页
	if strings.HasPrefix(lowerTitle, "403") ||
		strings.HasPrefix(lowerTitle, "error 403") ||
		lowerTitle == "forbidden" ||
		strings.Contains(lowerText, "access denied") ||
		strings.Contains(lowerText, "403 error") {
		return BlockForbidden
	}

	// 429 Too Many Requests（速率限制）
	if strings.HasPrefix(lowerTitle, "429") ||
		strings.HasPrefix(lowerTitle, "error 429") ||
		strings.Contains(lowerText, "too many requests") {
		return BlockRateLimited
	}

	if containsAny(lowerText, connectionHints) {
		return BlockConnectionError
	}

	if title == "" || title == "about:blank" {
		return BlockBlankPage
	}
	return "unknown"
}

// ============================================================================
// 错误分类
// ============================================================================

// crawlErrorType 抽取错误类型
type crawlErrorType int

const (
	errTypeUnknown crawlErrorType = iota
	errTypeTimeout
	errTypeBlocked // 被封禁（验证码/异常流量/403/429）
	errTypeNetwork // 网络错误
	errTypeParseError
)

// errBlocked 包装拦截类型的错误
type errBlocked struct {
	kind string
}

func (e *errBlocked) Error() string { return "blocked_page: " + e.kind }

// classifyError 统一的错误分类函数
func classifyError(err error) crawlErrorType {
	if err == nil {
		return errTypeUnknown
	}

	var blocked *errBlocked
	if errors.As(err, &blocked) {
		return errTypeBlocked
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errTypeTimeout
	}

	msg := strings.ToLower(err.Error())

	for _, kw := range []string{"blocked_page", "captcha", "403", "429", "forbidden", "too many requests"} {
		if strings.Contains(msg, kw) {
			return errTypeBlocked
		}
	}

	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
		return errTypeTimeout
	}

	for _, kw := range []string{"net::", "connection", "navigate", "proxy"} {
		if strings.Contains(msg, kw) {
			return errTypeNetwork
		}
	}

	if strings.Contains(msg, "parse") || strings.Contains(msg, "unexpected response") {
		return errTypeParseError
	}
	return errTypeUnknown
}

// classifyCrawlerError 返回用于 metrics 的错误类型字符串
func classifyCrawlerError(err error) string {
	switch classifyError(err) {
	case errTypeTimeout:
		return "timeout"
	case errTypeNetwork:
		return "network_error"
	case errTypeParseError:
		return "parse_error"
	case errTypeBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}
