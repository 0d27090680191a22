package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"message_center/model"
	"message_center/utils"

	"golang.org/x/sync/errgroup"
)

const auditBusiness = "计划任务"

// Handler 计划任务执行策略
type Handler func(ctx context.Context, task *model.Schedule) error

// TaskStore 调度器依赖的任务存储
type TaskStore interface {
	Due(ctx context.Context, taskType model.TaskType, now time.Time) ([]model.Schedule, error)
	Claim(ctx context.Context, task *model.Schedule, now time.Time, lease time.Duration) (bool, error)
	Save(ctx context.Context, task *model.Schedule) error
	Release(ctx context.Context, task *model.Schedule) error
	Remove(ctx context.Context, id string) error
}

// DispatcherConfig 调度参数
type DispatcherConfig struct {
	MaxRetries int           // 连续失败超过该次数后任务失效
	Workers    int           // 单次轮询内并行执行的任务数
	Lease      time.Duration // 执行租约，从领取时刻起算，也是单个任务的执行截止时间
}

type handlerKey struct {
	taskType model.TaskType
	method   string
}

// Dispatcher 计划任务调度器：按类型轮询到期任务，按 (类型, 方法) 分派执行策略
type Dispatcher struct {
	store    TaskStore
	cfg      DispatcherConfig
	logger   *slog.Logger
	audit    AuditRecorder
	metrics  *Metrics
	now      func() time.Time
	mu       sync.RWMutex
	handlers map[handlerKey]Handler
}

func NewDispatcher(store TaskStore, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Lease <= 0 {
		cfg.Lease = time.Minute
	}
	return &Dispatcher{
		store:    store,
		cfg:      cfg,
		logger:   logger,
		audit:    nopAuditRecorder{},
		now:      time.Now,
		handlers: make(map[handlerKey]Handler),
	}
}

// SetAuditRecorder 设置审计记录器
func (d *Dispatcher) SetAuditRecorder(audit AuditRecorder) {
	d.audit = audit
}

// SetMetrics 设置指标收集器
func (d *Dispatcher) SetMetrics(metrics *Metrics) {
	d.metrics = metrics
}

// Register 注册执行策略，同一 (类型, 方法) 重复注册时后者覆盖前者
func (d *Dispatcher) Register(taskType model.TaskType, method string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[handlerKey{taskType: taskType, method: method}] = handler
}

// Handle 注册强类型执行策略，任务类型由载荷类型决定
func Handle[T model.TaskContent](d *Dispatcher, method string, fn func(ctx context.Context, task *model.Schedule, payload *T) error) {
	var zero T
	d.Register(zero.TaskType(), method, Bind(fn))
}

// Bind 将强类型执行函数包装为 Handler，任务内容无法解析时返回 ErrValidation
func Bind[T any](fn func(ctx context.Context, task *model.Schedule, payload *T) error) Handler {
	return func(ctx context.Context, task *model.Schedule) error {
		var payload T
		if err := json.Unmarshal(task.Content, &payload); err != nil {
			return fmt.Errorf("decode content of %s: %w: %v", task.Method, utils.ErrValidation, err)
		}
		return fn(ctx, task, &payload)
	}
}

func (d *Dispatcher) handler(taskType model.TaskType, method string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[handlerKey{taskType: taskType, method: method}]
	return h, ok
}

// Run 每个任务类型一个轮询协程，直到 ctx 取消
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration, types ...model.TaskType) error {
	var g errgroup.Group
	for _, taskType := range types {
		taskType := taskType
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				if err := d.Tick(ctx, taskType); err != nil {
					d.logger.Error("scheduler tick failed", slog.String("type", taskType.String()), slog.Any("error", err))
				}

				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		})
	}
	return g.Wait()
}

// Tick 执行一次轮询：获取到期任务并行执行，每个任务独立结算
func (d *Dispatcher) Tick(ctx context.Context, taskType model.TaskType) error {
	now := d.now()
	tasks, err := d.store.Due(ctx, taskType, now)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return nil
	}

	var g errgroup.Group
	g.SetLimit(d.cfg.Workers)
	for i := range tasks {
		task := &tasks[i]
		g.Go(func() error {
			d.process(ctx, task)
			return nil
		})
	}
	return g.Wait()
}

func (d *Dispatcher) process(ctx context.Context, task *model.Schedule) {
	typeLabel := task.Type.String()

	// 租约从领取时刻起算，排队等待 worker 的时间不占用租约；
	// 执行截止时间与租约到期时间一致，执行不会超出租约
	claimedAt := d.now()
	deadline := time.Now().Add(d.cfg.Lease)
	claimed, err := d.store.Claim(ctx, task, claimedAt, d.cfg.Lease)
	if err != nil {
		d.logger.Warn("claim schedule failed", slog.String("task_id", task.ID), slog.Any("error", err))
		return
	}
	if !claimed {
		// 已被其他执行者领取，或在读取之后状态已变化
		d.metrics.incTask(typeLabel, resultSkipped)
		return
	}

	start := time.Now()
	execErr := d.execute(ctx, task, deadline)
	d.metrics.observeDuration(typeLabel, time.Since(start))

	// 结算不随调用方取消而中断，避免执行结果丢失
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if ctx.Err() != nil && errors.Is(execErr, context.Canceled) {
		// 停机中断的执行不计入失败，释放租约等待下次轮询
		d.metrics.incTask(typeLabel, resultInterrupted)
		if err := d.store.Release(settleCtx, task); err != nil {
			d.logger.Error("release schedule failed", slog.String("task_id", task.ID), slog.Any("error", err))
		}
		d.logger.Info("schedule execution interrupted", slog.String("task_id", task.ID), slog.String("method", task.Method))
		return
	}
	d.settle(settleCtx, task, execErr)
}

func (d *Dispatcher) execute(ctx context.Context, task *model.Schedule, deadline time.Time) (err error) {
	handler, ok := d.handler(task.Type, task.Method)
	if !ok {
		return fmt.Errorf("no handler for %s method %s: %w", task.Type, task.Method, utils.ErrNotFound)
	}

	execCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("schedule handler panicked",
				slog.String("task_id", task.ID), slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("handler panicked: %v: %w", r, utils.ErrTransient)
		}
	}()

	return handler(execCtx, task)
}

// settle 根据执行结果更新任务：
// 一次性任务成功后删除；周期任务成功后次数加一并推迟到下个周期；
// 失败时次数加一，连续失败超过上限则标记失效并保留记录，否则保持到期等待下次轮询重试
func (d *Dispatcher) settle(ctx context.Context, task *model.Schedule, execErr error) {
	typeLabel := task.Type.String()
	task.Count++
	task.LeaseUntil = nil

	if execErr == nil {
		d.metrics.incTask(typeLabel, resultSuccess)
		d.audit.Record(ctx, model.AuditEvent{Business: auditBusiness, Action: "EXECUTE", TargetID: task.ID, Detail: task.Method})

		if !task.IsRecurring() {
			if err := d.store.Remove(ctx, task.ID); err != nil {
				d.logger.Error("remove executed schedule failed", slog.String("task_id", task.ID), slog.Any("error", err))
			}
			return
		}

		task.Failures = 0
		task.TaskTime = task.NextTime(d.now())
		d.save(ctx, task)
		return
	}

	task.Failures++
	d.logger.Warn("schedule execution failed",
		slog.String("task_id", task.ID),
		slog.String("type", typeLabel),
		slog.String("method", task.Method),
		slog.Int("count", task.Count),
		slog.Int("failures", task.Failures),
		slog.Any("error", execErr))

	if task.Failures > d.cfg.MaxRetries {
		task.IsInvalid = true
		d.metrics.incTask(typeLabel, resultInvalidated)
		d.audit.Record(ctx, model.AuditEvent{Business: auditBusiness, Action: "INVALIDATE", TargetID: task.ID, Detail: execErr.Error()})
	} else {
		d.metrics.incTask(typeLabel, resultFailure)
	}
	d.save(ctx, task)
}

func (d *Dispatcher) save(ctx context.Context, task *model.Schedule) {
	err := d.store.Save(ctx, task)
	switch {
	case err == nil:
	case errors.Is(err, utils.ErrNotFound):
		// 执行期间任务被删除，结果无需保存
		d.logger.Debug("schedule removed during execution", slog.String("task_id", task.ID))
	default:
		// 租约到期后任务会在后续轮询中重新执行
		d.logger.Error("save schedule failed", slog.String("task_id", task.ID), slog.Any("error", err))
	}
}
