package crawler

import "strings"

// NormalizePhone 将原始号码转换为消息格式（55 + 区号 + 号码）。
//
// 规则：只保留数字；去掉长途前缀 0；10/11 位号码补国家码 55；
// 12 位且用户号首位为 6-9 的手机号在区号后补 9。
// 结果不足 12 位时返回 false。
func NormalizePhone(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	digits = strings.TrimPrefix(digits, "0")

	if len(digits) == 10 || len(digits) == 11 {
		digits = "55" + digits
	}

	if len(digits) == 12 && strings.HasPrefix(digits, "55") {
		ddd, rest := digits[2:4], digits[4:]
		if strings.ContainsRune("6789", rune(rest[0])) {
			return "55" + ddd + "9" + rest, true
		}
	}

	if len(digits) < 12 {
		return "", false
	}
	return digits, true
}
