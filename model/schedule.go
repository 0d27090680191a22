package model

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// TaskType 计划任务类型
type TaskType int

const (
	TaskTypeMessage TaskType = 0 // 发送消息
	TaskTypeLocal   TaskType = 1 // 本地调用
	TaskTypeRemote  TaskType = 2 // 远程调用
)

func (t TaskType) String() string {
	switch t {
	case TaskTypeMessage:
		return "message"
	case TaskTypeLocal:
		return "local"
	case TaskTypeRemote:
		return "remote"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Valid 是否为已知任务类型
func (t TaskType) Valid() bool {
	return t == TaskTypeMessage || t == TaskTypeLocal || t == TaskTypeRemote
}

// Schedule 计划任务表
type Schedule struct {
	ID          string         `json:"id" gorm:"type:varchar(36);primaryKey"`
	Type        TaskType       `json:"type" gorm:"not null;index:idx_schedule_due,priority:1"`
	Method      string         `json:"method" gorm:"type:varchar(128);not null"`
	TaskTime    time.Time      `json:"task_time" gorm:"not null;index:idx_schedule_due,priority:2"`
	Content     datatypes.JSON `json:"content"`
	Count       int            `json:"count" gorm:"not null;default:0"`    // 累计执行次数
	Failures    int            `json:"failures" gorm:"not null;default:0"` // 连续失败次数，成功后清零
	Interval    int            `json:"interval" gorm:"not null;default:0"` // 重复间隔（秒），0 表示一次性任务
	IsInvalid   bool           `json:"is_invalid" gorm:"not null;default:false"`
	LeaseUntil  *time.Time     `json:"lease_until,omitempty"` // 执行租约到期时间，防止同一任务被并发执行
	CreatedTime time.Time      `json:"created_time" gorm:"not null"`
}

func (Schedule) TableName() string {
	return "imt_schedule"
}

// IsRecurring 是否为周期任务
func (s *Schedule) IsRecurring() bool {
	return s.Interval > 0
}

// NextTime 计算周期任务的下次执行时间，保证晚于 now
func (s *Schedule) NextTime(now time.Time) time.Time {
	step := time.Duration(s.Interval) * time.Second
	next := s.TaskTime.Add(step)
	if !next.After(now) {
		// 错过的周期不补执行，直接跳到 now 之后的第一个周期点
		missed := now.Sub(next)/step + 1
		next = next.Add(missed * step)
	}
	return next
}

// TaskContent 任务内容。只有本包定义的载荷类型实现该接口，任务类型由载荷决定
type TaskContent interface {
	TaskType() TaskType
	isTaskContent()
}

// MessageTask 消息任务载荷：按场景解析模板并发送
type MessageTask struct {
	TenantID    *string           `json:"tenant_id,omitempty"`
	SceneCode   string            `json:"scene_code"`
	AppID       string            `json:"app_id"`
	ChannelCode string            `json:"channel_code"`
	Receivers   []string          `json:"receivers"`
	Params      map[string]string `json:"params,omitempty"` // 模板变量
	IsBroadcast bool              `json:"is_broadcast"`
	Creator     string            `json:"creator"`
	CreatorID   string            `json:"creator_id"`
}

func (MessageTask) TaskType() TaskType { return TaskTypeMessage }
func (MessageTask) isTaskContent()     {}

// Validate 检查必填字段
func (t *MessageTask) Validate() error {
	if t.SceneCode == "" {
		return fmt.Errorf("scene_code is required")
	}
	if t.AppID == "" {
		return fmt.Errorf("app_id is required")
	}
	if !t.IsBroadcast && len(t.Receivers) == 0 {
		return fmt.Errorf("receivers are required for non-broadcast message")
	}
	return nil
}

// LocalCallTask 本地调用载荷，参数由注册的方法自行解析
type LocalCallTask struct {
	Args json.RawMessage `json:"args,omitempty"`
}

func (LocalCallTask) TaskType() TaskType { return TaskTypeLocal }
func (LocalCallTask) isTaskContent()     {}

// RemoteCallTask 远程调用载荷
type RemoteCallTask struct {
	Path      string          `json:"path,omitempty"` // 追加到注册端点之后的路径
	Payload   json.RawMessage `json:"payload,omitempty"`
	TimeoutMs int             `json:"timeout_ms,omitempty"` // 0 表示使用默认超时
}

func (RemoteCallTask) TaskType() TaskType { return TaskTypeRemote }
func (RemoteCallTask) isTaskContent()     {}

// NewSchedule 根据载荷构造计划任务，任务类型取自载荷
func NewSchedule(method string, taskTime time.Time, content TaskContent) (*Schedule, error) {
	data, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("invalid task content: %w", err)
	}
	return &Schedule{
		Type:     content.TaskType(),
		Method:   method,
		TaskTime: taskTime,
		Content:  datatypes.JSON(data),
	}, nil
}
