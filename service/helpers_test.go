package service

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"message_center/model"
	"message_center/utils"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// newTestDB 每个测试独立的内存数据库
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), utils.NewGormConfig(testLogger()))
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, utils.Migrate(db))
	return db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// baseTime 秒级 UTC 时间，保证 sqlite 中按字符串比较时间的结果正确
func baseTime() time.Time {
	return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
}

func strPtr(s string) *string {
	return &s
}

// seedBinding 创建场景、模板和绑定
func seedBinding(t *testing.T, svc *TemplateService, sceneCode, appID string, tenantID, channelCode *string, content string) {
	t.Helper()
	ctx := testContext(t)

	var scene model.Scene
	err := svc.db.Where("code = ?", sceneCode).First(&scene).Error
	if err != nil {
		scene = model.Scene{Code: sceneCode, Name: sceneCode}
		_, err = svc.CreateScene(ctx, &scene)
		require.NoError(t, err)
	}

	tpl := model.Template{TenantID: tenantID, Code: sceneCode, Tag: "notice", Title: "Hello {{name}}", Content: content, Expire: 7}
	_, err = svc.CreateTemplate(ctx, &tpl)
	require.NoError(t, err)

	_, err = svc.BindTemplate(ctx, &model.SceneTemplate{
		SceneID:     scene.ID,
		AppID:       appID,
		ChannelCode: channelCode,
		TemplateID:  tpl.ID,
		Sign:        strPtr("sig"),
	})
	require.NoError(t, err)
}
