package notify

import (
	"context"

	"dealhunter/internal/model"
)

// Notifier 提醒投递接口。调度器生成提醒后通过它通知用户。
type Notifier interface {
	// Send 投递一条提醒。toEmail 为空时实现方可以选择跳过。
	Send(ctx context.Context, alert *model.Alert, product *model.Product, toEmail string) error
}

// NopNotifier 什么都不做的投递器，邮件未配置时使用。
type NopNotifier struct{}

func (NopNotifier) Send(ctx context.Context, alert *model.Alert, product *model.Product, toEmail string) error {
	return nil
}
