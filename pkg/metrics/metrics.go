package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 每次 channel 发送的结果
	AlertDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_deliveries_total",
			Help: "Total number of alert send attempts by channel and status",
		},
		[]string{"channel", "status"}, // status: sent, failed
	)

	// 手动投递（deliver）的结果
	AlertDeliverRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_deliver_runs_total",
			Help: "Total number of deliver invocations by outcome",
		},
		[]string{"outcome"}, // outcome: delivered, inactive, error
	)

	// 提醒扫描处理的 preference 数
	ReminderSweepProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reminder_sweep_processed_total",
			Help: "Total number of preferences reminded by the sweep",
		},
	)

	// 提醒扫描耗时（秒）
	ReminderSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reminder_sweep_duration_seconds",
			Help:    "Reminder sweep duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)

	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation"},
	)

	// 慢查询计数
	DBSlowQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_queries_total",
			Help: "Total number of queries slower than the configured threshold",
		},
		[]string{"operation"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)
)

// RecordDelivery 记录一次发送结果
func RecordDelivery(channel, status string) {
	AlertDeliveries.WithLabelValues(channel, status).Inc()
}

// RecordDeliverRun 记录一次 deliver 调用
func RecordDeliverRun(outcome string) {
	AlertDeliverRuns.WithLabelValues(outcome).Inc()
}

// RecordReminderSweep 记录一次提醒扫描
func RecordReminderSweep(processed int, duration time.Duration) {
	ReminderSweepProcessed.Add(float64(processed))
	ReminderSweepDuration.Observe(duration.Seconds())
}

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// IncrementSlowQuery 增加慢查询计数
func IncrementSlowQuery(operation string) {
	DBSlowQueries.WithLabelValues(operation).Inc()
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
