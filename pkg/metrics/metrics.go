package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
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
		[]string{"operation", "table"},
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Total number of queries slower than the configured threshold",
		},
		[]string{"statement"},
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

	// 投递 tick 计数
	DeliveryTickCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_delivery_tick_total",
			Help: "Total number of delivery ticks",
		},
		[]string{"result"}, // result: completed, skipped, aborted
	)

	// 投递 tick 耗时（秒）
	DeliveryTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reminder_delivery_tick_duration_seconds",
			Help:    "Duration of a completed delivery tick in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)

	// 每个 tick 认领的提醒数
	RemindersClaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reminder_claimed_total",
			Help: "Total number of reminders claimed for delivery",
		},
	)

	// 投递结果计数
	DeliveryOutcomeCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_delivery_outcome_total",
			Help: "Reminder delivery outcomes by kind",
		},
		[]string{"outcome", "kind"}, // outcome: sent, retry, failed, cancelled
	)

	// 规划/取消的提醒数
	ReminderLifecycleCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_lifecycle_total",
			Help: "Reminders created or cancelled by lifecycle events",
		},
		[]string{"action"}, // action: created, duplicate, cancelled
	)

	// 清理的终态提醒数
	RemindersPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reminder_purged_total",
			Help: "Terminal reminders removed by the retention janitor",
		},
	)
)

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// IncrementSlowQuery 记录一次慢查询
func IncrementSlowQuery(statement string, duration time.Duration) {
	SlowQueryCount.WithLabelValues(firstWord(statement)).Inc()
	DBQueryDuration.WithLabelValues("slow", "").Observe(duration.Seconds())
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// IncrementDeliveryTick 记录一次 tick 结果
func IncrementDeliveryTick(result string) {
	DeliveryTickCount.WithLabelValues(result).Inc()
}

// RecordDeliveryTick 记录完成的 tick 耗时与认领数
func RecordDeliveryTick(duration time.Duration, claimed int) {
	DeliveryTickDuration.Observe(duration.Seconds())
	RemindersClaimed.Add(float64(claimed))
}

// IncrementDeliveryOutcome 记录单条提醒的投递结果
func IncrementDeliveryOutcome(outcome, kind string) {
	DeliveryOutcomeCount.WithLabelValues(outcome, kind).Inc()
}

// AddReminderLifecycle 记录规划/取消数量
func AddReminderLifecycle(action string, n int) {
	if n <= 0 {
		return
	}
	ReminderLifecycleCount.WithLabelValues(action).Add(float64(n))
}

// AddRemindersPurged 记录清理数量
func AddRemindersPurged(n int64) {
	if n <= 0 {
		return
	}
	RemindersPurged.Add(float64(n))
}

// firstWord 取 SQL 的首个关键字，避免标签基数过高
func firstWord(sql string) string {
	for i, r := range sql {
		if r == ' ' || r == '\n' || r == '\t' {
			if i == 0 {
				continue
			}
			return sql[:i]
		}
	}
	return sql
}
