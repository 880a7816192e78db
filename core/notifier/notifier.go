package notifier

import (
	"github.com/hellobchain/wswlog/wlogging"
)

var logger = wlogging.MustGetLoggerWithoutName()

// 通知接口, to 为审批角色或提交人
type Notifier interface {
	SendNotification(to, subject, message string) error
}

// LogNotifier 将通知写入日志, 用于没有接入消息通道的部署
type LogNotifier struct{}

func (LogNotifier) SendNotification(to, subject, message string) error {
	logger.Infof("发送通知给 %s: 主题=%s, 内容=%s", to, subject, message)
	return nil
}

// Nop 丢弃所有通知
type Nop struct{}

func (Nop) SendNotification(to, subject, message string) error { return nil }
