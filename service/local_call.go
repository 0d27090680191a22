package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"message_center/model"
	"message_center/utils"
)

// 内置本地调用方法
const (
	MethodSendMessage          = "send"
	MethodPurgeExpiredMessages = "purgeExpiredMessages"
)

// RegisterBuiltins 注册消息发送与内置本地调用
func RegisterBuiltins(d *Dispatcher, msgSvc *MessageService, logger *slog.Logger) {
	Handle(d, MethodSendMessage, msgSvc.ExecuteTask)

	Handle(d, MethodPurgeExpiredMessages, func(ctx context.Context, task *model.Schedule, _ *model.LocalCallTask) error {
		purged, err := msgSvc.PurgeExpired(ctx, time.Now())
		if err != nil {
			return err
		}
		if purged > 0 {
			logger.Info("expired messages purged", slog.Int64("count", purged))
		}
		return nil
	})
}

// NewPurgeTask 过期消息清理的周期任务，周期以秒为单位，不足一秒时拒绝
func NewPurgeTask(interval time.Duration) (*model.Schedule, error) {
	if interval < time.Second {
		return nil, fmt.Errorf("purge interval %s is shorter than one second: %w", interval, utils.ErrValidation)
	}
	task, err := model.NewSchedule(MethodPurgeExpiredMessages, time.Now(), model.LocalCallTask{})
	if err != nil {
		return nil, err
	}
	task.Interval = int(interval / time.Second)
	return task, nil
}
