package service

import (
	"context"
	"fmt"
	"time"

	"message_center/model"
	"message_center/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ScheduleService 计划任务存储
type ScheduleService struct {
	db *gorm.DB
}

func NewScheduleService(db *gorm.DB) *ScheduleService {
	return &ScheduleService{db: db}
}

// Due 获取指定类型当前需要执行的计划任务（执行时间已到且未失效）
func (s *ScheduleService) Due(ctx context.Context, taskType model.TaskType, now time.Time) ([]model.Schedule, error) {
	var tasks []model.Schedule
	err := s.db.WithContext(ctx).
		Where("type = ? AND task_time <= ? AND is_invalid = ?", taskType, now, false).
		Order("task_time ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, utils.DBError("get due schedules", err)
	}
	return tasks, nil
}

// Add 保存计划任务，未指定执行时间时立即执行
func (s *ScheduleService) Add(ctx context.Context, task *model.Schedule) error {
	if !task.Type.Valid() {
		return fmt.Errorf("unknown task type %d: %w", int(task.Type), utils.ErrValidation)
	}
	if task.Method == "" {
		return fmt.Errorf("task method is required: %w", utils.ErrValidation)
	}
	if len(task.Content) == 0 {
		return fmt.Errorf("task content is required: %w", utils.ErrValidation)
	}
	if task.Interval < 0 {
		return fmt.Errorf("task interval must not be negative: %w", utils.ErrValidation)
	}

	now := time.Now()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.TaskTime.IsZero() {
		task.TaskTime = now
	}
	task.CreatedTime = now

	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return utils.DBError("add schedule", err)
	}
	return nil
}

// EnsureTask 不存在同类型同方法的有效任务时才新增，用于启动时注册内置周期任务
func (s *ScheduleService) EnsureTask(ctx context.Context, task *model.Schedule) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Schedule{}).
		Where("type = ? AND method = ? AND is_invalid = ?", task.Type, task.Method, false).
		Count(&count).Error
	if err != nil {
		return false, utils.DBError("count schedules", err)
	}
	if count > 0 {
		return false, nil
	}
	return true, s.Add(ctx, task)
}

// Remove 删除计划任务，任务不存在时不报错
func (s *ScheduleService) Remove(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&model.Schedule{}, "id = ?", id).Error; err != nil {
		return utils.DBError("delete schedule", err)
	}
	return nil
}

// Claim 以条件更新的方式领取任务执行租约。
// 只有执行次数与读取时一致、仍然到期、未失效且没有未过期租约的任务才能领取成功，
// 因此同一任务被并发读取时只有一个执行者胜出
func (s *ScheduleService) Claim(ctx context.Context, task *model.Schedule, now time.Time, lease time.Duration) (bool, error) {
	leaseUntil := now.Add(lease)
	result := s.db.WithContext(ctx).Model(&model.Schedule{}).
		Where("id = ? AND count = ? AND is_invalid = ? AND task_time <= ?", task.ID, task.Count, false, now).
		Where("(lease_until IS NULL OR lease_until < ?)", now).
		Update("lease_until", leaseUntil)
	if result.Error != nil {
		return false, utils.DBError("claim schedule", result.Error)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	task.LeaseUntil = &leaseUntil
	return true, nil
}

// Release 释放执行租约，执行次数不变。任务已被删除或已被重新结算时不做处理
func (s *ScheduleService) Release(ctx context.Context, task *model.Schedule) error {
	err := s.db.WithContext(ctx).Model(&model.Schedule{}).
		Where("id = ? AND count = ?", task.ID, task.Count).
		Update("lease_until", nil).Error
	if err != nil {
		return utils.DBError("release schedule", err)
	}
	task.LeaseUntil = nil
	return nil
}

// Save 按ID整行改写任务状态。任务已被删除时不会重新插入，返回 ErrNotFound
func (s *ScheduleService) Save(ctx context.Context, task *model.Schedule) error {
	result := s.db.WithContext(ctx).Model(&model.Schedule{}).
		Where("id = ?", task.ID).
		Select("*").Omit("id", "created_time").
		Updates(task)
	if result.Error != nil {
		return utils.DBError("save schedule", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("schedule %s: %w", task.ID, utils.ErrNotFound)
	}
	return nil
}

// Get 获取计划任务
func (s *ScheduleService) Get(ctx context.Context, id string) (*model.Schedule, error) {
	var task model.Schedule
	if err := s.db.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		return nil, utils.DBError("get schedule", err)
	}
	return &task, nil
}

// List 分页获取计划任务，taskType 为 nil 时不过滤类型
func (s *ScheduleService) List(ctx context.Context, taskType *model.TaskType, page, size int) ([]model.Schedule, int64, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}

	query := s.db.WithContext(ctx).Model(&model.Schedule{})
	if taskType != nil {
		query = query.Where("type = ?", *taskType)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, utils.DBError("count schedules", err)
	}

	var tasks []model.Schedule
	if err := query.Order("task_time ASC").Offset((page - 1) * size).Limit(size).Find(&tasks).Error; err != nil {
		return nil, 0, utils.DBError("list schedules", err)
	}
	return tasks, total, nil
}
