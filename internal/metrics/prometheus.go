package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 结算路径
const (
	SourceWorker   = "worker"
	SourceCallback = "callback"
	SourceReaper   = "reaper"
)

var (
	// SettlementTransitions 成功的状态流转次数
	SettlementTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_transitions_total",
			Help: "Transaction status transitions applied, by target status and completion path",
		},
		[]string{"to", "source"},
	)

	// SettlementNoops 交易已结算时的空操作次数（两条完成路径竞争的正常结果）
	SettlementNoops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_noop_total",
			Help: "Settlement attempts that found the transaction already settled",
		},
		[]string{"source"},
	)

	SettlementAttemptDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "settlement_attempt_duration_seconds",
			Help:    "Duration of payment rail submissions",
			Buckets: prometheus.DefBuckets,
		},
	)

	SettlementQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "settlement_queue_depth",
			Help: "Transactions waiting for a settlement worker",
		},
	)

	SettlementDispatchDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_dispatch_dropped_total",
			Help: "Dispatches rejected because the settlement queue was full",
		},
	)

	// PiCallbacks Pi 回调，result: applied / noop / rejected
	PiCallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pi_callbacks_total",
			Help: "Pi payment callbacks received",
		},
		[]string{"status", "result"},
	)

	// CircuitBreakerState 0=closed, 1=open, 2=half-open
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"circuit_name"},
	)

	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_messages_total",
			Help: "Outbox messages processed, by result",
		},
		[]string{"result"},
	)

	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

// PrometheusMiddleware gin 中间件，按路由模板统计请求
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		RequestsTotal.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		RequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}
