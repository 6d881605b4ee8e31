package geo

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MatchKind 描述城市名的匹配方式。
type MatchKind string

const (
	MatchExact     MatchKind = "exact"
	MatchSubstring MatchKind = "substring"
	MatchFallback  MatchKind = "fallback"
)

// Normalize 小写、去除重音并去掉首尾空白。
func Normalize(name string) string {
	if name == "" {
		return ""
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, name)
	if err != nil {
		out = name
	}
	return strings.TrimSpace(strings.ToLower(out))
}

// Resolve 将城市名映射到城市配置。
//
// 依次尝试精确匹配、双向子串匹配，都失败时回退到参考城市。
func Resolve(name string) (City, MatchKind) {
	key := Normalize(name)
	if key != "" {
		for _, c := range cities {
			if c.Key == key {
				return c, MatchExact
			}
		}
		for _, c := range cities {
			if strings.Contains(key, c.Key) || strings.Contains(c.Key, key) {
				return c, MatchSubstring
			}
		}
	}
	for _, c := range cities {
		if c.Key == DefaultCityKey {
			return c, MatchFallback
		}
	}
	return cities[0], MatchFallback
}

// AreaCodes 返回城市的有效区号，未知城市返回空（表示不过滤）。
func AreaCodes(name string) []string {
	key := Normalize(name)
	if key == "" {
		return nil
	}
	for _, e := range areaCodes {
		if Normalize(e.city) == key {
			return append([]string(nil), e.codes...)
		}
	}
	for _, e := range areaCodes {
		k := Normalize(e.city)
		if strings.Contains(key, k) || strings.Contains(k, key) {
			return append([]string(nil), e.codes...)
		}
	}
	return nil
}

// MatchesAreaCode 校验规范化号码（55 + 区号 + 号码）的区号。
//
// codes 为空时不做校验，否则区号必须在 codes 中。
func MatchesAreaCode(phone string, codes []string) bool {
	if len(codes) == 0 {
		return true
	}
	if len(phone) < 4 {
		return false
	}
	ddd := phone[2:4]
	for _, c := range codes {
		if c == ddd {
			return true
		}
	}
	return false
}

// AcceptLanguage 根据语言区域生成 Accept-Language 头。
func AcceptLanguage(locale string) string {
	lang := locale
	if i := strings.Index(locale, "-"); i > 0 {
		lang = locale[:i]
	}
	if lang == locale {
		return locale
	}
	return fmt.Sprintf("%s,%s;q=0.9", locale, lang)
}

// Emulator 浏览器侧的地理环境设置能力。
type Emulator interface {
	SetTimezone(tz string) error
	SetGeolocation(lat, lng, accuracy float64) error
	SetAcceptLanguage(value string) error
}

// Synchronizer 将目标城市的时区、定位与语言同步到浏览器。
type Synchronizer struct {
	logger *slog.Logger
}

// NewSynchronizer 创建地理同步器。
func NewSynchronizer(logger *slog.Logger) *Synchronizer {
	return &Synchronizer{logger: logger}
}

// Apply 依次设置时区、地理位置与 Accept-Language。
//
// 任一步骤失败只记录日志，不中断会话。返回实际使用的城市配置。
func (s *Synchronizer) Apply(target Emulator, cityName string) City {
	city, kind := Resolve(cityName)
	switch kind {
	case MatchFallback:
		s.logger.Warn("city not found, using fallback",
			slog.String("city", cityName),
			slog.String("fallback", city.Key))
	case MatchSubstring:
		s.logger.Info("city mapped by substring",
			slog.String("city", cityName),
			slog.String("key", city.Key))
	}

	if err := target.SetTimezone(city.Timezone); err != nil {
		s.logger.Warn("set timezone failed", slog.String("timezone", city.Timezone), slog.String("error", err.Error()))
	}
	if err := target.SetGeolocation(city.Lat, city.Lng, city.Accuracy); err != nil {
		s.logger.Warn("set geolocation failed", slog.String("city", city.Key), slog.String("error", err.Error()))
	}
	if err := target.SetAcceptLanguage(AcceptLanguage(city.Locale)); err != nil {
		s.logger.Warn("set accept-language failed", slog.String("locale", city.Locale), slog.String("error", err.Error()))
	}

	s.logger.Debug("geo context applied",
		slog.String("timezone", city.Timezone),
		slog.Float64("lat", city.Lat),
		slog.Float64("lng", city.Lng),
		slog.String("locale", city.Locale))
	return city
}

// PageEmulator 基于 rod 页面的 Emulator 实现。
type PageEmulator struct {
	Page *rod.Page
	// Headers 在设置 Accept-Language 时一并下发的其他请求头。
	Headers map[string]string
}

// SetTimezone 覆盖页面时区。
func (p *PageEmulator) SetTimezone(tz string) error {
	return proto.EmulationSetTimezoneOverride{TimezoneID: tz}.Call(p.Page)
}

// SetGeolocation 覆盖地理位置并授予定位权限。
func (p *PageEmulator) SetGeolocation(lat, lng, accuracy float64) error {
	// 授权失败不影响坐标覆盖
	_ = proto.BrowserGrantPermissions{
		Permissions: []proto.BrowserPermissionType{proto.BrowserPermissionTypeGeolocation},
	}.Call(p.Page.Browser())

	return proto.EmulationSetGeolocationOverride{
		Latitude:  &lat,
		Longitude: &lng,
		Accuracy:  &accuracy,
	}.Call(p.Page)
}

// SetAcceptLanguage 设置额外请求头，保留 Headers 中已有的值。
func (p *PageEmulator) SetAcceptLanguage(value string) error {
	dict := make([]string, 0, len(p.Headers)*2+2)
	for k, v := range p.Headers {
		if strings.EqualFold(k, "Accept-Language") {
			continue
		}
		dict = append(dict, k, v)
	}
	dict = append(dict, "Accept-Language", value)
	_, err := p.Page.SetExtraHeaders(dict)
	return err
}
