package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// 任务执行结果
const (
	resultSuccess     = "success"
	resultFailure     = "failure"
	resultInvalidated = "invalidated"
	resultSkipped     = "skipped"
	resultInterrupted = "interrupted"
)

// Metrics 调度器指标
type Metrics struct {
	tasks    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics 创建并注册调度器指标
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_tasks_total",
			Help: "Scheduled task executions by type and result.",
		}, []string{"type", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scheduler_task_duration_seconds",
			Help:    "Scheduled task execution time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
	}
	reg.MustRegister(m.tasks, m.duration)
	return m
}

func (m *Metrics) incTask(taskType, result string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(taskType, result).Inc()
}

func (m *Metrics) observeDuration(taskType string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(taskType).Observe(d.Seconds())
}
