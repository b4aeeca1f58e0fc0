package metrics

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

var (
	// API 请求计数器
	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	// API 请求响应时间
	apiRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 批次创建数
	batchesCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batches_created_total",
			Help: "Total number of batches created",
		},
		[]string{"chain"}, // empty: 无审批人直接通过, chained: 需要审批
	)

	// 审批操作数
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_decisions_total",
			Help: "Total number of approval decisions",
		},
		[]string{"decision", "outcome"}, // outcome: ok, not_found, precondition_failed, conflict
	)

	// 提交数据通过数
	submissionsPromotedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "submissions_promoted_total",
			Help: "Total number of submissions promoted from pending to approved",
		},
	)

	// 事件处理结果
	eventsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_processed_total",
			Help: "Total number of outbox events processed",
		},
		[]string{"type", "status"},
	)

	// 数据库连接数
	databaseConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_active",
			Help: "Number of active database connections",
		},
	)

	databaseConnectionsIdle = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	databaseConnectionsMax = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_max",
			Help: "Maximum number of database connections",
		},
	)

	// 批次状态分布
	batchesByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "batches_by_state",
			Help: "Number of batches by derived state",
		},
		[]string{"state"},
	)

	// 待处理事件数
	eventsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "events_pending",
			Help: "Number of outbox events waiting for processing",
		},
	)
)

var (
	once sync.Once
)

func init() {
	prometheus.MustRegister(apiRequestsTotal)
	prometheus.MustRegister(apiRequestDuration)
	prometheus.MustRegister(batchesCreatedTotal)
	prometheus.MustRegister(decisionsTotal)
	prometheus.MustRegister(submissionsPromotedTotal)
	prometheus.MustRegister(eventsProcessedTotal)
	prometheus.MustRegister(databaseConnectionsActive)
	prometheus.MustRegister(databaseConnectionsIdle)
	prometheus.MustRegister(databaseConnectionsMax)
	prometheus.MustRegister(batchesByState)
	prometheus.MustRegister(eventsPending)

	// Go 运行时指标只注册一次,已注册时忽略错误
	once.Do(func() {
		_ = prometheus.Register(prometheus.NewGoCollector())
		_ = prometheus.Register(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	})
}

// Handler 返回 Prometheus 指标处理器
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAPIRequest 记录 API 请求
func RecordAPIRequest(method, path string, status int, duration float64) {
	statusText := http.StatusText(status)
	if statusText == "" {
		statusText = fmt.Sprintf("%d", status)
	}
	apiRequestsTotal.WithLabelValues(method, path, statusText).Inc()
	apiRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// RecordBatchCreated 记录批次创建
func RecordBatchCreated(emptyChain bool) {
	chain := "chained"
	if emptyChain {
		chain = "empty"
	}
	batchesCreatedTotal.WithLabelValues(chain).Inc()
}

// RecordDecision 记录审批操作及其结果
func RecordDecision(decision, outcome string) {
	decisionsTotal.WithLabelValues(decision, outcome).Inc()
}

// RecordPromotions 记录通过的提交数据数量
func RecordPromotions(n int) {
	if n > 0 {
		submissionsPromotedTotal.Add(float64(n))
	}
}

// RecordEvent 记录事件处理结果
func RecordEvent(eventType, status string) {
	eventsProcessedTotal.WithLabelValues(eventType, status).Inc()
}

// UpdateDatabaseConnections 更新数据库连接数指标
func UpdateDatabaseConnections(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	stats := sqlDB.Stats()
	databaseConnectionsActive.Set(float64(stats.OpenConnections - stats.Idle))
	databaseConnectionsIdle.Set(float64(stats.Idle))
	databaseConnectionsMax.Set(float64(stats.MaxOpenConnections))

	return nil
}

// UpdateBatchesByState 更新批次状态分布指标
func UpdateBatchesByState(state string, count float64) {
	batchesByState.WithLabelValues(state).Set(count)
}

// UpdateEventsPending 更新待处理事件数
func UpdateEventsPending(count float64) {
	eventsPending.Set(count)
}
