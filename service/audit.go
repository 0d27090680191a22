package service

import (
	"context"
	"log/slog"
	"time"

	"message_center/model"
)

// AuditRecorder 审计日志记录器
type AuditRecorder interface {
	Record(ctx context.Context, event model.AuditEvent)
}

// LogAuditRecorder 将审计事件写入结构化日志
type LogAuditRecorder struct {
	logger *slog.Logger
}

func NewLogAuditRecorder(logger *slog.Logger) *LogAuditRecorder {
	return &LogAuditRecorder{logger: logger}
}

func (r *LogAuditRecorder) Record(ctx context.Context, event model.AuditEvent) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	r.logger.InfoContext(ctx, "audit",
		slog.String("business", event.Business),
		slog.String("action", event.Action),
		slog.String("target_id", event.TargetID),
		slog.String("user_id", event.UserID),
		slog.Any("detail", event.Detail),
		slog.Time("created_at", event.CreatedAt),
	)
}

type nopAuditRecorder struct{}

func (nopAuditRecorder) Record(context.Context, model.AuditEvent) {}
