package crawler

import (
	"regexp"
	"strings"
)

// Candidate 从响应体中解析出的原始（名称, 电话）对。
type Candidate struct {
	Name     string
	RawPhone string
	Website  string
}

// Parser 从结果窗口的响应体中提取候选项。
//
// 响应格式由地图服务决定且随时可能变化，解析策略可替换；
// 每个实现都应通过 testdata 下的样例回归测试。
type Parser interface {
	Name() string
	Parse(body string) []Candidate
}

var (
	placeIDPattern = regexp.MustCompile(`0x[0-9a-f]+:0x[0-9a-f]+`)
	// 以字母或数字开头的引号字符串
	quotedNamePattern = regexp.MustCompile(`"([\p{L}\p{N}][^"\\]{1,199})"`)
	// 仅由电话字符组成的引号字符串
	quotedPhonePattern = regexp.MustCompile(`"(\+?[0-9()\s.\-]{10,22})"`)
	quotedURLPattern   = regexp.MustCompile(`"(https?://[^"\\\s]+)"`)
)

var bodyUnescaper = strings.NewReplacer(
	`\\"`, `"`,
	`\"`, `"`,
	`\u0026`, "&",
	`\u003d`, "=",
	`\u003c`, "<",
	`\u003e`, ">",
	`\/`, "/",
)

// RegexParser 默认解析策略。
//
// 以地点 ID（0x…:0x…）切分响应，每段中第一个名称样式的引号字符串为名称，
// 第一个电话样式的引号字符串为号码。
type RegexParser struct{}

func (RegexParser) Name() string { return "regex" }

func (RegexParser) Parse(body string) []Candidate {
	body = strings.TrimPrefix(body, ")]}'")
	body = bodyUnescaper.Replace(body)

	bounds := placeIDPattern.FindAllStringIndex(body, -1)
	if len(bounds) == 0 {
		return nil
	}

	out := make([]Candidate, 0, len(bounds))
	for i, b := range bounds {
		end := len(body)
		if i+1 < len(bounds) {
			end = bounds[i+1][0]
		}
		segment := body[b[1]:end]

		name := firstName(segment)
		phone := firstPhone(segment)
		if name == "" || phone == "" {
			continue
		}
		out = append(out, Candidate{
			Name:     name,
			RawPhone: phone,
			Website:  firstWebsite(segment),
		})
	}
	return out
}

func firstName(segment string) string {
	for _, m := range quotedNamePattern.FindAllStringSubmatch(segment, -1) {
		v := strings.TrimSpace(m[1])
		if strings.HasPrefix(v, "0x") || strings.HasPrefix(v, "http") {
			continue
		}
		if countDigits(v) == len(strings.ReplaceAll(v, " ", "")) {
			continue
		}
		return v
	}
	return ""
}

func firstPhone(segment string) string {
	for _, m := range quotedPhonePattern.FindAllStringSubmatch(segment, -1) {
		if n := countDigits(m[1]); n >= 10 && n <= 13 {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

func firstWebsite(segment string) string {
	for _, m := range quotedURLPattern.FindAllStringSubmatch(segment, -1) {
		if !strings.Contains(m[1], "google.") && !strings.Contains(m[1], "googleusercontent.") && !strings.Contains(m[1], "gstatic.") {
			return m[1]
		}
	}
	return ""
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
