package crawler

import (
	"fmt"
	"net/url"
	"strings"

	"mapleads/internal/geo"
)

// SearchURL 构建地图搜索页地址。
func SearchURL(baseURL, query string) string {
	return strings.TrimRight(baseURL, "/") + "/maps/search/" + url.PathEscape(query)
}

// WindowURL 构建分页结果协议的请求地址。
//
// pb 参数中 !7i 为窗口大小，!8i 为偏移量，!2d/!3d 为视口中心经纬度。
func WindowURL(baseURL, query string, city geo.City, offset, batch int) string {
	pb := fmt.Sprintf(
		"!4m12!1m3!1d40000!2d%.7f!3d%.7f!2m3!1f0!2f0!3f0!3m2!1i1280!2i720!4f13.1!7i%d!8i%d!10b1!12m8!1m1!18b1!2m3!5m1!6e2!20e3!10b1!16b1",
		city.Lng, city.Lat, batch, offset,
	)
	q := url.Values{}
	q.Set("tbm", "map")
	q.Set("authuser", "0")
	q.Set("hl", languageOf(city.Locale))
	q.Set("gl", "br")
	q.Set("q", query)
	q.Set("pb", pb)
	return strings.TrimRight(baseURL, "/") + "/search?" + q.Encode()
}

// WindowCount 返回并发窗口数：ceil(limit/batch) + 2。
func WindowCount(limit, batch int) int {
	if limit <= 0 {
		return 0
	}
	if batch <= 0 {
		batch = 20
	}
	return (limit+batch-1)/batch + 2
}

func languageOf(locale string) string {
	if locale == "" {
		return "pt-BR"
	}
	return locale
}
