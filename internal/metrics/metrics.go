package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// 中继请求指标
	// ============================================
	RelayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_requests_total",
			Help: "Total number of relay requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relayer_rate_limited_total",
		Help: "Total number of relay requests rejected by the rate limiter",
	})

	RelayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relayer_relay_duration_seconds",
			Help:    "End-to-end relay duration from admission to confirmation",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"operation"},
	)

	// ============================================
	// 提交队列指标
	// ============================================
	SubmissionQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayer_submission_queue_depth",
		Help: "Number of jobs waiting for the operator signing slot",
	})

	BroadcastDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relayer_broadcast_duration_seconds",
		Help:    "Time spent in the serialized sign and broadcast step",
		Buckets: prometheus.DefBuckets,
	})

	OperatorNonce = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayer_operator_nonce",
		Help: "Next operator chain nonce the relayer will sign with",
	})

	RecoveredTransactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_recovered_transactions_total",
			Help: "Journal records reconciled by recovery, by resulting status",
		},
		[]string{"status"},
	)

	// ============================================
	// 余额与连接指标
	// ============================================
	OperatorBalance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relayer_operator_balance_wei",
			Help: "Operator account balance in wei",
		},
		[]string{"network", "address"},
	)

	LedgerConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayer_ledger_connection_status",
		Help: "Ledger RPC connection status (1=healthy, 0=unhealthy)",
	})

	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayer_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	EventsPublishFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_events_publish_failed_total",
			Help: "Total number of relay events that failed to publish",
		},
		[]string{"subject"},
	)
)
