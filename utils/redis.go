package utils

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

var rdb *redis.Client

// InitRedis 初始化 Redis 连接
func InitRedis(url, password string, db int, log *slog.Logger) error {
	client := redis.NewClient(&redis.Options{
		Addr:     url,
		Password: password,
		DB:       db,
	})

	// 测试连接
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return err
	}

	rdb = client
	log.Info("redis connected", slog.String("addr", url))
	return nil
}

// GetRedis 获取 Redis 客户端
func GetRedis() *redis.Client {
	return rdb
}

// CloseRedis 关闭 Redis 连接
func CloseRedis() error {
	if rdb != nil {
		return rdb.Close()
	}
	return nil
}
