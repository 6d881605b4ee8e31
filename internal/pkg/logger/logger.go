package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewDefault 按日志级别创建默认的结构化日志记录器。
//
// APP_ENV=local 时使用文本格式，其余环境输出 JSON，便于日志采集。
func NewDefault(level string) *slog.Logger {
	format := "json"
	if strings.EqualFold(os.Getenv("APP_ENV"), "local") {
		format = "text"
	}
	return New(os.Stdout, level, format)
}

// New 创建写入指定输出的日志记录器。
//
// 参数:
//   - w: 输出目标
//   - level: debug / info / warn / error，未知值按 info 处理
//   - format: text / json
func New(w io.Writer, level string, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel 将字符串转换为 slog 日志级别。
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard 返回丢弃所有输出的日志记录器（测试用）。
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}
