package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"message_center/model"
	"message_center/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PushNotifier 接口用于向在线用户实时推送（WebSocket）
type PushNotifier interface {
	// NotifyUsers 一次推送多个接收人，payloads 按用户ID给出各自的推送内容
	NotifyUsers(payloads map[string]interface{}) int
	NotifyAll(payload interface{}) int
}

// PushEvent 实时推送内容
type PushEvent struct {
	PushID    string `json:"push_id,omitempty"`
	MessageID string `json:"message_id"`
	Tag       string `json:"tag"`
	Title     string `json:"title"`
	Content   string `json:"content"`
}

type MessageService struct {
	db          *gorm.DB
	templateSvc *TemplateService
	notifier    PushNotifier
	logger      *slog.Logger
	now         func() time.Time
}

func NewMessageService(db *gorm.DB, templateSvc *TemplateService, logger *slog.Logger) *MessageService {
	return &MessageService{
		db:          db,
		templateSvc: templateSvc,
		logger:      logger,
		now:         time.Now,
	}
}

// SetPushNotifier 设置实时推送器（用于依赖注入）
func (s *MessageService) SetPushNotifier(notifier PushNotifier) {
	s.notifier = notifier
}

// AddMessage 保存消息到数据库。
// 非广播消息在同一事务中为每个接收人生成推送记录，任一步失败整体回滚
func (s *MessageService) AddMessage(ctx context.Context, msg *model.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedTime.IsZero() {
		msg.CreatedTime = s.now()
	}

	var pushList []model.PushMessage
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		if msg.IsBroadcast {
			return nil
		}

		// 构造推送列表，一条语句批量写入
		pushList = make([]model.PushMessage, 0, len(msg.Receivers))
		for _, userID := range msg.Receivers {
			pushList = append(pushList, model.PushMessage{
				ID:        uuid.NewString(),
				MessageID: msg.ID,
				UserID:    userID,
				IsRead:    false,
			})
		}
		if len(pushList) == 0 {
			return nil
		}
		return tx.Create(&pushList).Error
	})
	if err != nil {
		return utils.DBError("add message", err)
	}

	s.notify(msg, pushList)
	return nil
}

// SendFromTemplate 按场景解析模板、渲染并保存消息
func (s *MessageService) SendFromTemplate(ctx context.Context, task *model.MessageTask) (*model.Message, error) {
	if err := task.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrValidation, err)
	}

	var tenantID string
	if task.TenantID != nil {
		tenantID = *task.TenantID
	}
	tpl, err := s.templateSvc.Resolve(ctx, tenantID, task.SceneCode, task.AppID, task.ChannelCode)
	if err != nil {
		return nil, err
	}

	now := s.now()
	msg := &model.Message{
		ID:          uuid.NewString(),
		TenantID:    task.TenantID,
		AppID:       task.AppID,
		Tag:         tpl.Tag,
		Type:        tpl.Type,
		Receivers:   task.Receivers,
		Title:       Render(tpl.Title, task.Params),
		Content:     Render(tpl.Content, task.Params),
		IsBroadcast: task.IsBroadcast,
		Creator:     task.Creator,
		CreatorID:   task.CreatorID,
		CreatedTime: now,
	}
	if tpl.Expire > 0 {
		expireDate := now.AddDate(0, 0, tpl.Expire)
		msg.ExpireDate = &expireDate
	}

	if err := s.AddMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// ExecuteTask 计划任务的消息发送策略
func (s *MessageService) ExecuteTask(ctx context.Context, task *model.Schedule, payload *model.MessageTask) error {
	msg, err := s.SendFromTemplate(ctx, payload)
	if err != nil {
		return err
	}

	s.logger.Info("scheduled message sent",
		slog.String("task_id", task.ID), slog.String("message_id", msg.ID), slog.Int("receivers", len(msg.Receivers)))
	return nil
}

// GetMessage 获取消息详情
func (s *MessageService) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	var msg model.Message
	if err := s.db.WithContext(ctx).First(&msg, "id = ?", id).Error; err != nil {
		return nil, utils.DBError("get message", err)
	}
	return &msg, nil
}

// EditMessage 修改消息内容与接收人，消息ID和已生成的推送记录保持不变
func (s *MessageService) EditMessage(ctx context.Context, msg *model.Message) error {
	if msg.AppID == "" || msg.Tag == "" || msg.Content == "" {
		return fmt.Errorf("app_id, tag and content are required: %w", utils.ErrValidation)
	}

	result := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("id = ?", msg.ID).
		Select("app_id", "tag", "type", "receivers", "title", "content", "expire_date", "is_broadcast").
		Updates(msg)
	if result.Error != nil {
		return utils.DBError("edit message", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("message %s: %w", msg.ID, utils.ErrNotFound)
	}
	return nil
}

// ListMessages 分页查询消息，keyword 匹配标签或标题，按创建时间倒序
func (s *MessageService) ListMessages(ctx context.Context, keyword string, page, size int) ([]model.Message, int64, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}

	query := s.db.WithContext(ctx).Model(&model.Message{})
	if keyword != "" {
		query = query.Where("tag = ? OR title LIKE ?", keyword, "%"+keyword+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, utils.DBError("count messages", err)
	}

	var messages []model.Message
	if err := query.Order("created_time DESC").Offset((page - 1) * size).Limit(size).Find(&messages).Error; err != nil {
		return nil, 0, utils.DBError("list messages", err)
	}
	return messages, total, nil
}

// Subscribe 订阅广播消息，重复订阅不报错
func (s *MessageService) Subscribe(ctx context.Context, userID, messageID string) error {
	msg, err := s.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if !msg.IsBroadcast {
		return fmt.Errorf("message %s is not a broadcast: %w", messageID, utils.ErrValidation)
	}

	sub := model.MessageSubscribe{
		ID:          uuid.NewString(),
		MessageID:   messageID,
		UserID:      userID,
		CreatedTime: s.now(),
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).Create(&sub).Error
	return utils.DBError("subscribe message", err)
}

// GetSubscribers 获取广播消息的订阅用户
func (s *MessageService) GetSubscribers(ctx context.Context, messageID string) ([]model.MessageSubscribe, error) {
	var subs []model.MessageSubscribe
	if err := s.db.WithContext(ctx).Where("message_id = ?", messageID).Order("created_time ASC").Find(&subs).Error; err != nil {
		return nil, utils.DBError("get subscribers", err)
	}
	return subs, nil
}

// GetPushes 获取消息的推送列表
func (s *MessageService) GetPushes(ctx context.Context, messageID string) ([]model.PushMessage, error) {
	var pushes []model.PushMessage
	if err := s.db.WithContext(ctx).Where("message_id = ?", messageID).Find(&pushes).Error; err != nil {
		return nil, utils.DBError("get pushes", err)
	}
	return pushes, nil
}

// CancelPush 取消单个接收人的推送，不影响消息本身和其他接收人
func (s *MessageService) CancelPush(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&model.PushMessage{}, "id = ?", id)
	if result.Error != nil {
		return utils.DBError("cancel push", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("push %s: %w", id, utils.ErrNotFound)
	}
	return nil
}

// MarkRead 标记推送为已读，只能标记本人的推送
func (s *MessageService) MarkRead(ctx context.Context, userID, pushID string) error {
	now := s.now()
	result := s.db.WithContext(ctx).Model(&model.PushMessage{}).
		Where("id = ? AND user_id = ?", pushID, userID).
		Updates(map[string]interface{}{
			"is_read":   true,
			"read_time": now,
		})
	if result.Error != nil {
		return utils.DBError("mark push read", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("push %s: %w", pushID, utils.ErrNotFound)
	}
	return nil
}

// DeleteMessage 删除消息及其全部推送与订阅记录
func (s *MessageService) DeleteMessage(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&model.PushMessage{}, "message_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&model.MessageSubscribe{}, "message_id = ?", id).Error; err != nil {
			return err
		}
		result := tx.Delete(&model.Message{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	return utils.DBError("delete message", err)
}

// PurgeExpired 清理已过期的消息及其推送与订阅记录，返回删除的消息数
func (s *MessageService) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	var purged int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		expired := tx.Model(&model.Message{}).Select("id").Where("expire_date IS NOT NULL AND expire_date < ?", now)
		if err := tx.Where("message_id IN (?)", expired).Delete(&model.PushMessage{}).Error; err != nil {
			return err
		}
		if err := tx.Where("message_id IN (?)", expired).Delete(&model.MessageSubscribe{}).Error; err != nil {
			return err
		}
		result := tx.Where("expire_date IS NOT NULL AND expire_date < ?", now).Delete(&model.Message{})
		purged = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return 0, utils.DBError("purge expired messages", err)
	}
	return purged, nil
}

// notify 事务提交后推送给在线用户，推送失败不影响已保存的消息
func (s *MessageService) notify(msg *model.Message, pushList []model.PushMessage) {
	if s.notifier == nil {
		return
	}

	event := PushEvent{MessageID: msg.ID, Tag: msg.Tag, Title: msg.Title, Content: msg.Content}
	if msg.IsBroadcast {
		s.notifier.NotifyAll(event)
		return
	}
	if len(pushList) == 0 {
		return
	}
	payloads := make(map[string]interface{}, len(pushList))
	for _, push := range pushList {
		event.PushID = push.ID
		payloads[push.UserID] = event
	}
	s.notifier.NotifyUsers(payloads)
}
