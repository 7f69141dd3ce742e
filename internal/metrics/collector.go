// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 运行指标
	runsTotal     *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	runRounds     *prometheus.HistogramVec
	runTaskEvents *prometheus.CounterVec

	// 智能体调用指标
	agentCallsTotal   *prometheus.CounterVec
	agentCallDuration *prometheus.HistogramVec
	agentTokensUsed   *prometheus.CounterVec

	// 工具路由指标
	toolCallsTotal   *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec

	// 任务池指标
	poolTasks *prometheus.GaugeVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	logger *zap.Logger
}

var (
	defaultOnce      sync.Once
	defaultCollector *Collector
)

// Default 返回进程级收集器，首次调用时创建。指标通过 promauto 注册到
// 默认 Registry，重复注册会 panic，因此多个引擎共享同一个收集器，
// 后续调用忽略 namespace 与 logger。
func Default(namespace string, logger *zap.Logger) *Collector {
	defaultOnce.Do(func() {
		defaultCollector = NewCollector(namespace, logger)
	})
	return defaultCollector
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 运行指标
	c.runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of collaboration runs",
		},
		[]string{"mode", "status"},
	)

	c.runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Collaboration run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"mode"},
	)

	c.runRounds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_rounds",
			Help:      "Rounds completed per collaboration run",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"mode"},
	)

	c.runTaskEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_task_events_total",
			Help:      "Total number of task lifecycle events",
		},
		[]string{"mode", "event"},
	)

	// 智能体调用指标
	c.agentCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_calls_total",
			Help:      "Total number of agent respond calls",
		},
		[]string{"agent_id", "mode", "status"},
	)

	c.agentCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_call_duration_seconds",
			Help:      "Agent respond call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"agent_id", "mode"},
	)

	c.agentTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"agent_id", "type"}, // type: prompt, completion
	)

	// 工具路由指标
	c.toolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls",
		},
		[]string{"tool", "status"},
	)

	c.toolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	// 任务池指标
	c.poolTasks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_tasks",
			Help:      "Number of tasks in the pool by status",
		},
		[]string{"pool_id", "status"},
	)

	// 数据库指标
	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🚀 运行指标记录
// =============================================================================

// RecordRun 记录一次协同运行
func (c *Collector) RecordRun(mode, status string, duration time.Duration, rounds int) {
	c.runsTotal.WithLabelValues(mode, status).Inc()
	c.runDuration.WithLabelValues(mode).Observe(duration.Seconds())
	c.runRounds.WithLabelValues(mode).Observe(float64(rounds))
}

// RecordTaskEvent 记录任务生命周期事件
func (c *Collector) RecordTaskEvent(mode, event string) {
	c.runTaskEvents.WithLabelValues(mode, event).Inc()
}

// =============================================================================
// 🤖 智能体指标记录
// =============================================================================

// RecordAgentCall 记录一次智能体应答调用
func (c *Collector) RecordAgentCall(agentID, mode, status string, duration time.Duration, promptTokens, completionTokens int) {
	c.agentCallsTotal.WithLabelValues(agentID, mode, status).Inc()
	c.agentCallDuration.WithLabelValues(agentID, mode).Observe(duration.Seconds())
	c.agentTokensUsed.WithLabelValues(agentID, "prompt").Add(float64(promptTokens))
	c.agentTokensUsed.WithLabelValues(agentID, "completion").Add(float64(completionTokens))
}

// =============================================================================
// 🔧 工具指标记录
// =============================================================================

// RecordToolCall 记录一次工具调用
func (c *Collector) RecordToolCall(tool, status string, duration time.Duration) {
	c.toolCallsTotal.WithLabelValues(tool, status).Inc()
	c.toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// =============================================================================
// 📦 任务池指标记录
// =============================================================================

// RecordPoolTasks 记录任务池各状态的任务数
func (c *Collector) RecordPoolTasks(poolID string, pending, claimed, completed, failed int) {
	c.poolTasks.WithLabelValues(poolID, "pending").Set(float64(pending))
	c.poolTasks.WithLabelValues(poolID, "claimed").Set(float64(claimed))
	c.poolTasks.WithLabelValues(poolID, "completed").Set(float64(completed))
	c.poolTasks.WithLabelValues(poolID, "failed").Set(float64(failed))
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery 记录数据库查询
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}
