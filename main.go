package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"message_center/config"
	"message_center/handler"
	"message_center/middleware"
	"message_center/model"
	"message_center/service"
	"message_center/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func init() {
	// 服务端统一使用 UTC
	time.Local = time.UTC
}

func main() {
	cfg := config.Load()
	logger := utils.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	retryCfg := utils.RetryConfig{MaxAttempts: 5, InitialBackoff: time.Second, MaxBackoff: 10 * time.Second, JitterFactor: 0.2}

	// 初始化数据库
	if err := utils.Retry(ctx, retryCfg, func() error {
		return utils.InitDB(cfg.DatabaseURL, logger)
	}); err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer utils.CloseDB()

	if err := utils.Migrate(utils.GetDB()); err != nil {
		logger.Error("failed to migrate database", slog.Any("error", err))
		os.Exit(1)
	}

	// 初始化 Redis
	if err := utils.Retry(ctx, retryCfg, func() error {
		return utils.InitRedis(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB, logger)
	}); err != nil {
		logger.Error("failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer utils.CloseRedis()

	middleware.InitAuth(cfg.JWTSecret)

	// 服务
	templateSvc := service.NewTemplateServiceWithRedis(utils.GetDB(), utils.GetRedis(), cfg.TemplateCacheTTL, logger)
	msgSvc := service.NewMessageService(utils.GetDB(), templateSvc, logger)
	scheduleSvc := service.NewScheduleService(utils.GetDB())
	audit := service.NewLogAuditRecorder(logger)

	// WebSocket Hub：在线接收人实时推送
	hub := handler.NewHub(utils.GetRedis(), msgSvc, logger)
	hub.StartPubSub()
	defer hub.StopPubSub()
	msgSvc.SetPushNotifier(hub)

	// 指标
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// 调度器
	dispatcher := service.NewDispatcher(scheduleSvc, service.DispatcherConfig{
		MaxRetries: cfg.Scheduler.MaxRetries,
		Workers:    cfg.Scheduler.Workers,
		Lease:      cfg.Scheduler.Lease,
	}, logger)
	dispatcher.SetAuditRecorder(audit)
	dispatcher.SetMetrics(service.NewMetrics(registry))
	service.RegisterBuiltins(dispatcher, msgSvc, logger)
	service.NewRemoteCaller(cfg.Remote.Endpoints, cfg.Remote.Timeout).RegisterAll(dispatcher)

	if cfg.Scheduler.PurgeInterval > 0 {
		purge, err := service.NewPurgeTask(cfg.Scheduler.PurgeInterval)
		if err != nil {
			logger.Error("failed to build purge task", slog.Any("error", err))
			os.Exit(1)
		}
		if created, err := scheduleSvc.EnsureTask(ctx, purge); err != nil {
			logger.Warn("failed to ensure purge task", slog.Any("error", err))
		} else if created {
			logger.Info("purge task scheduled", slog.Duration("interval", cfg.Scheduler.PurgeInterval))
		}
	}

	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		err := dispatcher.Run(ctx, cfg.Scheduler.Interval,
			model.TaskTypeMessage, model.TaskTypeLocal, model.TaskTypeRemote)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("dispatcher stopped", slog.Any("error", err))
		}
	}()

	// 处理器
	scheduleHandler := handler.NewScheduleHandler(scheduleSvc, audit)
	msgHandler := handler.NewMessageHandler(msgSvc, audit)
	templateHandler := handler.NewTemplateHandler(templateSvc, audit)

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(middleware.ErrorHandlerMiddleware(logger))
	r.Use(middleware.MetricsMiddleware(registry))

	r.GET("/health", func(c *gin.Context) {
		utils.SuccessResponse(c, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// WebSocket 连接（token 通过 query 认证）
	r.GET("/ws", handler.HandleWebSocket(hub))

	api := r.Group("/api/v1")
	api.Use(middleware.AuthMiddleware())
	{
		// 定时任务
		api.POST("/schedules", scheduleHandler.AddSchedule)
		api.GET("/schedules", scheduleHandler.ListSchedules)
		api.GET("/schedules/:id", scheduleHandler.GetSchedule)
		api.DELETE("/schedules/:id", scheduleHandler.DeleteSchedule)

		// 消息
		api.POST("/messages", msgHandler.SendMessage)
		api.GET("/messages", msgHandler.ListMessages)
		api.PUT("/messages/:id", msgHandler.EditMessage)
		api.POST("/messages/:id/subscribe", msgHandler.Subscribe)
		api.GET("/messages/:id", msgHandler.GetMessage)
		api.DELETE("/messages/:id", msgHandler.DeleteMessage)
		api.POST("/pushes/:id/read", msgHandler.MarkRead)
		api.DELETE("/pushes/:id", msgHandler.CancelPush)

		// 场景与模板
		api.GET("/scenes", templateHandler.ListScenes)
		api.POST("/scenes", templateHandler.CreateScene)
		api.POST("/templates", templateHandler.CreateTemplate)
		api.POST("/bindings", templateHandler.BindTemplate)
		api.DELETE("/bindings/:id", templateHandler.RemoveBinding)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		logger.Info("message_center service starting", slog.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to start server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", slog.Any("error", err))
	}

	// 等待调度器结算完正在执行的任务，再关闭数据库与 Redis
	select {
	case <-dispatcherDone:
	case <-shutdownCtx.Done():
		logger.Warn("dispatcher did not stop before shutdown timeout")
	}
}
