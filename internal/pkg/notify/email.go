package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"

	"dealhunter/internal/config"
	"dealhunter/internal/model"

	"gopkg.in/gomail.v2"
)

// EmailNotifier 通过 SMTP 发送提醒邮件。
type EmailNotifier struct {
	cfg    config.EmailConfig
	logger *slog.Logger
}

// NewEmailNotifier 创建邮件投递器。
func NewEmailNotifier(cfg config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{cfg: cfg, logger: logger}
}

// configured SMTP 配置是否齐全。
func (n *EmailNotifier) configured() bool {
	return n.cfg.SMTPHost != "" && n.cfg.SMTPUser != "" && n.cfg.SMTPPass != ""
}

// Send 发送提醒邮件。SMTP 未配置或收件人为空时跳过并记录警告。
func (n *EmailNotifier) Send(ctx context.Context, alert *model.Alert, product *model.Product, toEmail string) error {
	if !n.configured() || toEmail == "" {
		n.logger.Warn("email not configured or recipient empty, skip notification",
			slog.Uint64("alert_id", uint64(alert.ID)),
			slog.String("kind", alert.Kind))
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	subject := fmt.Sprintf("[DealHunter] %s", subjectFor(alert.Kind))

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.SMTPUser)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", n.renderBody(alert, product))

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send alert email: %w", err)
	}

	n.logger.Info("alert email sent",
		slog.Uint64("alert_id", uint64(alert.ID)),
		slog.String("kind", alert.Kind),
		slog.String("to", toEmail))
	return nil
}

func subjectFor(kind string) string {
	switch kind {
	case model.AlertKindPrice:
		return "价格提醒"
	case model.AlertKindTiming:
		return "购买时机提醒"
	default:
		return "提醒"
	}
}

func (n *EmailNotifier) renderBody(alert *model.Alert, product *model.Product) string {
	return fmt.Sprintf(`
<html>
<body style="font-family: Arial, sans-serif;">
  <h2>%s</h2>
  <p>%s</p>
  <table style="border-collapse: collapse;">
    <tr><td style="padding: 4px 12px 4px 0;"><b>商品</b></td><td>%s</td></tr>
    <tr><td style="padding: 4px 12px 4px 0;"><b>目标价</b></td><td>$%.2f</td></tr>
    <tr><td style="padding: 4px 12px 4px 0;"><b>时间</b></td><td>%s</td></tr>
  </table>
  <p style="color: #888; font-size: 12px;">此邮件由 DealHunter 自动发送。</p>
</body>
</html>`,
		html.EscapeString(subjectFor(alert.Kind)),
		html.EscapeString(alert.Message),
		html.EscapeString(product.Name),
		product.TargetPrice,
		alert.CreatedAt.Format("2006-01-02 15:04:05"))
}
