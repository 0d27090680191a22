package model

import "time"

// Scene 消息场景表
type Scene struct {
	ID          string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	Code        string    `json:"code" gorm:"type:varchar(32);not null;uniqueIndex"`
	Name        string    `json:"name" gorm:"type:varchar(64);not null"`
	Remark      *string   `json:"remark,omitempty" gorm:"type:varchar(256)"`
	Creator     string    `json:"creator" gorm:"type:varchar(64)"`
	CreatorID   string    `json:"creator_id" gorm:"type:varchar(36)"`
	CreatedTime time.Time `json:"created_time" gorm:"not null"`
}

func (Scene) TableName() string {
	return "ims_scene"
}

// Template 消息模板表，TenantID 为空表示全局默认模板
type Template struct {
	ID          string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	TenantID    *string   `json:"tenant_id,omitempty" gorm:"type:varchar(36);index"`
	Code        string    `json:"code" gorm:"type:varchar(32);not null"`
	Tag         string    `json:"tag" gorm:"type:varchar(16);not null"`
	Type        int       `json:"type" gorm:"not null"`              // 0:通知 1:公告 2:提醒
	Title       string    `json:"title" gorm:"type:varchar(128)"`    // 标题模板，支持变量：{{name}}
	Content     string    `json:"content" gorm:"type:text;not null"` // 内容模板
	Expire      int       `json:"expire" gorm:"not null;default:0"`  // 消息有效天数，0 表示不过期
	Remark      *string   `json:"remark,omitempty" gorm:"type:varchar(256)"`
	IsInvalid   bool      `json:"is_invalid" gorm:"not null;default:false"`
	Creator     string    `json:"creator" gorm:"type:varchar(64)"`
	CreatorID   string    `json:"creator_id" gorm:"type:varchar(36)"`
	CreatedTime time.Time `json:"created_time" gorm:"not null"`
}

func (Template) TableName() string {
	return "ims_template"
}

// SceneTemplate 场景模板配置表，ChannelCode 为空表示适用所有渠道
type SceneTemplate struct {
	ID          string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	SceneID     string    `json:"scene_id" gorm:"type:varchar(36);not null;uniqueIndex:idx_scene_template_binding"`
	AppID       string    `json:"app_id" gorm:"type:varchar(36);not null;uniqueIndex:idx_scene_template_binding"`
	ChannelCode *string   `json:"channel_code,omitempty" gorm:"type:varchar(16);uniqueIndex:idx_scene_template_binding"`
	TemplateID  string    `json:"template_id" gorm:"type:varchar(36);not null;uniqueIndex:idx_scene_template_binding"`
	Sign        *string   `json:"sign,omitempty" gorm:"type:varchar(16)"`
	Creator     string    `json:"creator" gorm:"type:varchar(64)"`
	CreatorID   string    `json:"creator_id" gorm:"type:varchar(36)"`
	CreatedTime time.Time `json:"created_time" gorm:"not null"`
}

func (SceneTemplate) TableName() string {
	return "ims_scene_template"
}

// TemplateDto 模板解析结果
type TemplateDto struct {
	Tag     string  `json:"tag"`
	Type    int     `json:"type"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Expire  int     `json:"expire"`
	Sign    *string `json:"sign,omitempty"`
}
