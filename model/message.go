package model

import (
	"time"

	"gorm.io/datatypes"
)

// Message 消息表
type Message struct {
	ID          string                      `json:"id" gorm:"type:varchar(36);primaryKey"`
	TenantID    *string                     `json:"tenant_id,omitempty" gorm:"type:varchar(36);index"`
	AppID       string                      `json:"app_id" gorm:"type:varchar(36);not null"`
	Tag         string                      `json:"tag" gorm:"type:varchar(16);not null"`
	Type        int                         `json:"type" gorm:"not null"`
	Receivers   datatypes.JSONSlice[string] `json:"receivers"` // 接收人ID列表（有序），广播消息仅作记录
	Title       string                      `json:"title" gorm:"type:varchar(128)"`
	Content     string                      `json:"content" gorm:"type:text;not null"`
	ExpireDate  *time.Time                  `json:"expire_date,omitempty" gorm:"index"`
	IsBroadcast bool                        `json:"is_broadcast" gorm:"not null;default:false"`
	Creator     string                      `json:"creator" gorm:"type:varchar(64)"`
	CreatorID   string                      `json:"creator_id" gorm:"type:varchar(36)"`
	CreatedTime time.Time                   `json:"created_time" gorm:"not null;index"`
}

func (Message) TableName() string {
	return "imm_message"
}

// PushMessage 消息推送表，非广播消息每个接收人一条
type PushMessage struct {
	ID        string     `json:"id" gorm:"type:varchar(36);primaryKey"`
	MessageID string     `json:"message_id" gorm:"type:varchar(36);not null;uniqueIndex:idx_push_message_user"`
	UserID    string     `json:"user_id" gorm:"type:varchar(36);not null;uniqueIndex:idx_push_message_user;index"`
	IsRead    bool       `json:"is_read" gorm:"not null;default:false"`
	ReadTime  *time.Time `json:"read_time,omitempty"`
}

func (PushMessage) TableName() string {
	return "imm_message_push"
}

// MessageSubscribe 广播消息订阅表，同一用户对同一消息只记录一次
type MessageSubscribe struct {
	ID          string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	MessageID   string    `json:"message_id" gorm:"type:varchar(36);not null;uniqueIndex:idx_subscribe_message_user"`
	UserID      string    `json:"user_id" gorm:"type:varchar(36);not null;uniqueIndex:idx_subscribe_message_user;index"`
	CreatedTime time.Time `json:"created_time" gorm:"not null"`
}

func (MessageSubscribe) TableName() string {
	return "imm_message_subscribe"
}
