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

	// Embedding 调用延迟（毫秒）
	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "embedding_call_latency_ms",
			Help:    "Embedding service call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12), // 10ms to ~40s
		},
		[]string{"provider", "status"},
	)

	// 分析调用延迟（毫秒）
	AnalysisLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analysis_call_latency_ms",
			Help:    "Analysis procedure call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"provider", "status"},
	)

	// Embedding 缓存命中
	EmbeddingCacheCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedding_cache_count",
			Help: "Embedding cache lookups by result",
		},
		[]string{"result"}, // hit, miss, error
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Total number of database queries slower than the threshold",
		},
		[]string{"operation"},
	)

	// 邮件处理计数
	EmailProcessedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_processed_count",
			Help: "Total number of emails processed by the agent",
		},
		[]string{"status"}, // succeeded, failed, skipped
	)

	// 单次批处理耗时（秒）
	PassDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agent_pass_duration_seconds",
			Help:    "Duration of one batch pass in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~200s
		},
		[]string{"mode"},
	)

	// Outbox 发布计数
	OutboxPublishCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_publish_count",
			Help: "Outbox events published to MQ by result",
		},
		[]string{"routing_key", "status"},
	)
)

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// RecordEmbeddingLatency 记录 Embedding 调用延迟
func RecordEmbeddingLatency(provider, status string, duration time.Duration) {
	EmbeddingLatency.WithLabelValues(provider, status).Observe(float64(duration.Milliseconds()))
}

// RecordAnalysisLatency 记录分析调用延迟
func RecordAnalysisLatency(provider, status string, duration time.Duration) {
	AnalysisLatency.WithLabelValues(provider, status).Observe(float64(duration.Milliseconds()))
}

// IncrementEmbeddingCache 记录缓存查询结果
func IncrementEmbeddingCache(result string) {
	EmbeddingCacheCount.WithLabelValues(result).Inc()
}

// IncrementSlowQuery 增加慢查询计数
func IncrementSlowQuery(operation string) {
	SlowQueryCount.WithLabelValues(operation).Inc()
}

// IncrementEmailProcessed 增加邮件处理计数
func IncrementEmailProcessed(status string) {
	EmailProcessedCount.WithLabelValues(status).Inc()
}

// RecordPassDuration 记录批处理耗时
func RecordPassDuration(mode string, duration time.Duration) {
	PassDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// IncrementOutboxPublish 记录 outbox 发布结果
func IncrementOutboxPublish(routingKey, status string) {
	OutboxPublishCount.WithLabelValues(routingKey, status).Inc()
}

// StatusLabel 把错误转为 success/error label
func StatusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
