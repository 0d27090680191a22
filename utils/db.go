package utils

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"message_center/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// CustomLogger 自定义 GORM 日志器：只打印慢查询和真实错误
type CustomLogger struct {
	SlowThreshold time.Duration // 慢查询阈值
	Logger        *slog.Logger
}

func (l *CustomLogger) LogMode(level logger.LogLevel) logger.Interface {
	return l
}

func (l *CustomLogger) Info(ctx context.Context, msg string, data ...interface{}) {}

func (l *CustomLogger) Warn(ctx context.Context, msg string, data ...interface{}) {}

func (l *CustomLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.Logger.ErrorContext(ctx, "gorm error", slog.String("msg", msg), slog.Any("data", data))
}

func (l *CustomLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()

	// 记录不存在不算错误
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		l.Logger.ErrorContext(ctx, "gorm query failed",
			slog.Any("error", err), slog.Duration("elapsed", elapsed), slog.Int64("rows", rows), slog.String("sql", sql))
	} else if l.SlowThreshold > 0 && elapsed >= l.SlowThreshold {
		l.Logger.WarnContext(ctx, "slow sql",
			slog.Duration("elapsed", elapsed), slog.Int64("rows", rows), slog.String("sql", sql))
	}
}

// NewGormConfig 统一的 GORM 配置
func NewGormConfig(log *slog.Logger) *gorm.Config {
	return &gorm.Config{
		Logger: &CustomLogger{
			SlowThreshold: 100 * time.Millisecond, // 慢查询阈值：100ms
			Logger:        log,
		},
		// 将驱动的唯一键冲突等错误转换为 gorm.ErrDuplicatedKey
		TranslateError: true,
	}
}

// InitDB 初始化数据库连接
func InitDB(databaseURL string, log *slog.Logger) error {
	db, err := gorm.Open(postgres.Open(databaseURL), NewGormConfig(log))
	if err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	// 连接池配置
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetMaxIdleConns(20)

	DB = db
	log.Info("database connected")
	return nil
}

// Migrate 同步表结构
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Scene{},
		&model.Template{},
		&model.SceneTemplate{},
		&model.Message{},
		&model.PushMessage{},
		&model.MessageSubscribe{},
		&model.Schedule{},
	)
}

// GetDB 获取数据库连接
func GetDB() *gorm.DB {
	return DB
}

// CloseDB 关闭数据库连接
func CloseDB() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
