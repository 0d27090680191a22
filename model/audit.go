package model

import "time"

// AuditEvent 审计事件
type AuditEvent struct {
	Business  string    `json:"business"` // 业务名称，如 "计划任务"
	Action    string    `json:"action"`   // INSERT | UPDATE | DELETE | EXECUTE | INVALIDATE
	TargetID  string    `json:"target_id"`
	UserID    string    `json:"user_id,omitempty"`
	Detail    any       `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
