package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"mapleads/internal/config"

	"gopkg.in/gomail.v2"
)

// Sender 发送一封已构造好的邮件。
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailNotifier 通过 SMTP 发送运维告警。
type EmailNotifier struct {
	cfg    config.EmailConfig
	sender Sender
	logger *slog.Logger
}

// NewEmailNotifier 创建邮件告警器。
//
// SMTP 未配置或收件人为空时返回的通知器只记录日志。
func NewEmailNotifier(cfg config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	n := &EmailNotifier{cfg: cfg, logger: logger}
	if n.configured() {
		n.sender = gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
	}
	return n
}

// WithSender 替换发送实现（测试用）。
func (n *EmailNotifier) WithSender(s Sender) *EmailNotifier {
	n.sender = s
	return n
}

func (n *EmailNotifier) configured() bool {
	return n.cfg.SMTPHost != "" && n.cfg.FromEmail != "" && strings.TrimSpace(n.cfg.AlertTo) != ""
}

// JobFailed 发送任务失败告警。
func (n *EmailNotifier) JobFailed(ctx context.Context, alert JobAlert) error {
	if !n.configured() || n.sender == nil {
		n.logger.Debug("email alert not configured, skip", slog.String("job_id", alert.JobID))
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", recipients(n.cfg.AlertTo)...)
	m.SetHeader("Subject", fmt.Sprintf("[mapleads] job %s failed after %d attempts", alert.JobID, alert.Attempts))
	m.SetBody("text/html", buildAlertBody(alert))

	done := make(chan error, 1)
	go func() { done <- n.sender.DialAndSend(m) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send email: %w", err)
		}
	case <-ctx.Done():
		return fmt.Errorf("send email: %w", ctx.Err())
	}

	n.logger.Info("failure alert sent", slog.String("job_id", alert.JobID), slog.String("to", n.cfg.AlertTo))
	return nil
}

func recipients(list string) []string {
	var out []string
	for _, r := range strings.Split(list, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

func buildAlertBody(a JobAlert) string {
	failedAt := a.FailedAt
	if failedAt.IsZero() {
		failedAt = time.Now()
	}

	const template = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8" /></head>
<body style="font-family: Arial, sans-serif; color: #1f2937;">
  <div style="max-width: 600px; margin: 24px auto; border: 1px solid #e5e7eb; border-radius: 8px;">
    <div style="background: #7f1d1d; color: #fff; padding: 12px 16px; font-weight: bold;">Lead extraction job failed</div>
    <table style="padding: 16px; font-size: 14px;">
      <tr><td><b>Job</b></td><td>%s</td></tr>
      <tr><td><b>Tenant</b></td><td>%s</td></tr>
      <tr><td><b>Search</b></td><td>%s / %s</td></tr>
      <tr><td><b>Attempts</b></td><td>%d</td></tr>
      <tr><td><b>Failed at</b></td><td>%s</td></tr>
      <tr><td><b>Error</b></td><td><pre>%s</pre></td></tr>
    </table>
  </div>
</body>
</html>`

	return fmt.Sprintf(template,
		html.EscapeString(a.JobID),
		html.EscapeString(a.TenantID),
		html.EscapeString(a.Phrase),
		html.EscapeString(a.City),
		a.Attempts,
		failedAt.UTC().Format(time.RFC3339),
		html.EscapeString(a.Error))
}
