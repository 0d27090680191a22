package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"message_center/model"
	"message_center/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const templateCachePrefix = "template:"

// TemplateService 场景模板配置与模板解析
type TemplateService struct {
	db       *gorm.DB
	rdb      *redis.Client // 可为 nil，为 nil 时不缓存
	cacheTTL time.Duration
	logger   *slog.Logger
}

func NewTemplateService(db *gorm.DB, logger *slog.Logger) *TemplateService {
	return &TemplateService{db: db, logger: logger}
}

// NewTemplateServiceWithRedis 创建带 Redis 缓存的模板服务
func NewTemplateServiceWithRedis(db *gorm.DB, rdb *redis.Client, cacheTTL time.Duration, logger *slog.Logger) *TemplateService {
	return &TemplateService{db: db, rdb: rdb, cacheTTL: cacheTTL, logger: logger}
}

// Resolve 获取适用消息模板。
// 候选模板按"租户模板优先于全局模板、指定渠道优先于通用渠道"排序，只返回第一条
func (s *TemplateService) Resolve(ctx context.Context, tenantID, sceneCode, appID, channelCode string) (*model.TemplateDto, error) {
	key := templateCacheKey(tenantID, sceneCode, appID, channelCode)
	if tpl := s.getCached(ctx, key); tpl != nil {
		return tpl, nil
	}

	var tpl model.TemplateDto
	result := s.db.WithContext(ctx).Table("ims_scene_template c").
		Select("t.tag, t.type, t.title, t.content, t.expire, c.sign").
		Joins("JOIN ims_template t ON t.id = c.template_id AND (t.tenant_id IS NULL OR t.tenant_id = ?)", tenantID).
		Joins("JOIN ims_scene s ON s.id = c.scene_id AND s.code = ?", sceneCode).
		Where("c.app_id = ? AND (c.channel_code IS NULL OR c.channel_code = ?)", appID, channelCode).
		Where("t.is_invalid = ?", false).
		Order("CASE WHEN t.tenant_id IS NULL THEN 1 ELSE 0 END, CASE WHEN c.channel_code IS NULL THEN 1 ELSE 0 END").
		Limit(1).
		Scan(&tpl)
	if result.Error != nil {
		return nil, utils.DBError("resolve template", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("template for scene %s app %s channel %s: %w", sceneCode, appID, channelCode, utils.ErrNotFound)
	}

	s.setCached(ctx, key, &tpl)
	return &tpl, nil
}

// Render 渲染模板，替换 {{key}} 变量
func Render(template string, vars map[string]string) string {
	result := template
	for key, value := range vars {
		result = strings.ReplaceAll(result, "{{"+key+"}}", value)
	}
	return result
}

// CreateScene 新增消息场景，场景编码不可重复
func (s *TemplateService) CreateScene(ctx context.Context, scene *model.Scene) (string, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.Scene{}).Where("code = ?", scene.Code).Count(&count).Error; err != nil {
		return "", utils.DBError("count scene", err)
	}
	if count > 0 {
		return "", fmt.Errorf("scene code %s already exists: %w", scene.Code, utils.ErrDuplicateKey)
	}

	scene.ID = uuid.NewString()
	scene.CreatedTime = time.Now()
	if err := s.db.WithContext(ctx).Create(scene).Error; err != nil {
		return "", utils.DBError("create scene", err)
	}
	return scene.ID, nil
}

// CreateTemplate 新增消息模板
func (s *TemplateService) CreateTemplate(ctx context.Context, tpl *model.Template) (string, error) {
	if tpl.Content == "" {
		return "", fmt.Errorf("template content is required: %w", utils.ErrValidation)
	}

	tpl.ID = uuid.NewString()
	tpl.CreatedTime = time.Now()
	if err := s.db.WithContext(ctx).Create(tpl).Error; err != nil {
		return "", utils.DBError("create template", err)
	}
	return tpl.ID, nil
}

// BindTemplate 为场景添加渠道模板配置
func (s *TemplateService) BindTemplate(ctx context.Context, binding *model.SceneTemplate) (string, error) {
	var scene model.Scene
	if err := s.db.WithContext(ctx).First(&scene, "id = ?", binding.SceneID).Error; err != nil {
		return "", utils.DBError("get scene", err)
	}

	var count int64
	query := s.db.WithContext(ctx).Model(&model.SceneTemplate{}).
		Where("scene_id = ? AND app_id = ? AND template_id = ?", binding.SceneID, binding.AppID, binding.TemplateID)
	if binding.ChannelCode == nil {
		query = query.Where("channel_code IS NULL")
	} else {
		query = query.Where("channel_code = ?", *binding.ChannelCode)
	}
	if err := query.Count(&count).Error; err != nil {
		return "", utils.DBError("count scene template", err)
	}
	if count > 0 {
		return "", fmt.Errorf("scene template binding already exists: %w", utils.ErrDuplicateKey)
	}

	binding.ID = uuid.NewString()
	binding.CreatedTime = time.Now()
	if err := s.db.WithContext(ctx).Create(binding).Error; err != nil {
		return "", utils.DBError("create scene template", err)
	}

	s.evictScene(ctx, scene.Code)
	return binding.ID, nil
}

// RemoveBinding 移除渠道模板配置
func (s *TemplateService) RemoveBinding(ctx context.Context, id string) error {
	var binding model.SceneTemplate
	if err := s.db.WithContext(ctx).First(&binding, "id = ?", id).Error; err != nil {
		return utils.DBError("get scene template", err)
	}

	if err := s.db.WithContext(ctx).Delete(&model.SceneTemplate{}, "id = ?", id).Error; err != nil {
		return utils.DBError("delete scene template", err)
	}

	var scene model.Scene
	if err := s.db.WithContext(ctx).First(&scene, "id = ?", binding.SceneID).Error; err == nil {
		s.evictScene(ctx, scene.Code)
	}
	return nil
}

// ListScenes 获取场景列表
func (s *TemplateService) ListScenes(ctx context.Context, keyword string, page, size int) ([]model.Scene, int64, error) {
	query := s.db.WithContext(ctx).Model(&model.Scene{})
	if keyword != "" {
		query = query.Where("code = ? OR name LIKE ?", keyword, "%"+keyword+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, utils.DBError("count scenes", err)
	}

	var scenes []model.Scene
	if err := query.Order("created_time DESC").Offset((page - 1) * size).Limit(size).Find(&scenes).Error; err != nil {
		return nil, 0, utils.DBError("list scenes", err)
	}
	return scenes, total, nil
}

// 缓存键以场景编码开头，便于按场景失效
func templateCacheKey(tenantID, sceneCode, appID, channelCode string) string {
	return templateCachePrefix + sceneCode + ":" + appID + ":" + tenantID + ":" + channelCode
}

func (s *TemplateService) getCached(ctx context.Context, key string) *model.TemplateDto {
	if s.rdb == nil {
		return nil
	}

	val, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("template cache read failed", slog.String("key", key), slog.Any("error", err))
		}
		return nil
	}

	var tpl model.TemplateDto
	if err := json.Unmarshal(val, &tpl); err != nil {
		return nil
	}
	return &tpl
}

func (s *TemplateService) setCached(ctx context.Context, key string, tpl *model.TemplateDto) {
	if s.rdb == nil {
		return
	}

	data, err := json.Marshal(tpl)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, key, data, s.cacheTTL).Err(); err != nil {
		s.logger.Warn("template cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}

func (s *TemplateService) evictScene(ctx context.Context, sceneCode string) {
	if s.rdb == nil {
		return
	}

	iter := s.rdb.Scan(ctx, 0, templateCachePrefix+sceneCode+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		s.logger.Warn("template cache scan failed", slog.String("scene", sceneCode), slog.Any("error", err))
		return
	}
	if len(keys) > 0 {
		s.rdb.Del(ctx, keys...)
	}
}
