package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod"
)

const debugCaptureTimeout = 10 * time.Second

// debugCapture 失败时保存截图与页面 HTML。
// 需要通过配置 browser.debug_capture=true 或环境变量 BROWSER_DEBUG_CAPTURE=true 开启
type debugCapture struct {
	enabled bool
	dir     string
	logger  *slog.Logger
}

func newDebugCapture(enabled bool, dir string, logger *slog.Logger) *debugCapture {
	return &debugCapture{enabled: enabled, dir: dir, logger: logger}
}

// paths 生成文件名：jobID_label_timestamp.{png,html}
func (d *debugCapture) paths(jobID, label string, now time.Time) (string, string) {
	if jobID == "" {
		jobID = "nojob"
	}
	base := fmt.Sprintf("%s_%s_%s", jobID, label, now.Format("20060102_150405"))
	return filepath.Join(d.dir, base+".png"), filepath.Join(d.dir, base+".html")
}

// save 在独立的超时内保存调试文件，不受任务 context 影响，返回截图路径
func (d *debugCapture) save(jobID, label string, page *rod.Page) string {
	if d == nil || !d.enabled || page == nil {
		return ""
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		d.logger.Warn("failed to create debug directory",
			slog.String("dir", d.dir),
			slog.String("error", err.Error()))
		return ""
	}
	shotPath, htmlPath := d.paths(jobID, label, time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), debugCaptureTimeout)
	defer cancel()
	diagPage := page.Context(ctx)

	done := make(chan error, 1)
	go func() {
		if html, err := diagPage.HTML(); err == nil {
			_ = os.WriteFile(htmlPath, []byte(html), 0o644)
		}
		data, err := diagPage.Screenshot(false, nil)
		if err != nil {
			done <- err
			return
		}
		done <- os.WriteFile(shotPath, data, 0o644)
	}()

	select {
	case err := <-done:
		if err != nil {
			d.logger.Warn("failed to save debug capture",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()))
			return ""
		}
		d.logger.Info("debug capture saved",
			slog.String("job_id", jobID),
			slog.String("screenshot", shotPath),
			slog.String("html", htmlPath))
		return shotPath
	case <-ctx.Done():
		d.logger.Warn("debug capture timeout", slog.String("job_id", jobID))
		return ""
	}
}
