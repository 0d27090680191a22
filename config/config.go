package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	DatabaseURL   string
	RedisURL      string
	RedisPassword string
	RedisDB       int
	JWTSecret     string
	LogLevel      string

	TemplateCacheTTL time.Duration // 模板缓存有效期

	Scheduler struct {
		Interval      time.Duration // 轮询间隔
		Workers       int           // 单次轮询并行执行数
		MaxRetries    int           // 连续失败上限
		Lease         time.Duration // 执行租约
		PurgeInterval time.Duration // 过期消息清理周期，0 表示不注册
	}

	Remote struct {
		Timeout   time.Duration
		Endpoints map[string]string // 远程方法注册表：method -> URL
	}
}

func Load() *Config {
	// 加载 .env 文件
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          getEnvAsInt("REDIS_DB", 0),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		TemplateCacheTTL: getEnvAsDuration("TEMPLATE_CACHE_TTL", 10*time.Minute),
	}

	cfg.Scheduler.Interval = getEnvAsDuration("SCHEDULER_INTERVAL", 5*time.Second)
	cfg.Scheduler.Workers = getEnvAsInt("SCHEDULER_WORKERS", 8)
	cfg.Scheduler.MaxRetries = getEnvAsInt("SCHEDULER_MAX_RETRIES", 3)
	cfg.Scheduler.Lease = getEnvAsDuration("SCHEDULER_LEASE", time.Minute)
	cfg.Scheduler.PurgeInterval = getEnvAsDuration("SCHEDULER_PURGE_INTERVAL", time.Hour)

	cfg.Remote.Timeout = getEnvAsDuration("REMOTE_TIMEOUT", 10*time.Second)
	cfg.Remote.Endpoints = parseEndpoints(os.Getenv("REMOTE_ENDPOINTS"))

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("invalid int for %s, using default %d: %v", key, defaultValue, err)
		return defaultValue
	}
	return i
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("invalid duration for %s, using default %s: %v", key, defaultValue, err)
		return defaultValue
	}
	return d
}

// parseEndpoints 解析 "method=url,method2=url2"
func parseEndpoints(raw string) map[string]string {
	endpoints := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		method, url, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || method == "" || url == "" {
			continue
		}
		endpoints[strings.TrimSpace(method)] = strings.TrimSpace(url)
	}
	return endpoints
}
