package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tlvlink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tlvlink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "route", "status"},
	)
	connections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tlvlink",
			Subsystem: "producer",
			Name:      "connections",
			Help:      "Currently registered connections.",
		},
		[]string{"node"},
	)
	messagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tlvlink",
			Subsystem: "producer",
			Name:      "messages_received_total",
			Help:      "Decoded messages by message id.",
		},
		[]string{"node", "message_id"},
	)
	parseErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tlvlink",
			Subsystem: "producer",
			Name:      "parse_errors_total",
			Help:      "Per-message framing and decode failures.",
		},
		[]string{"node"},
	)
	handshakeRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tlvlink",
			Subsystem: "producer",
			Name:      "handshake_rejections_total",
			Help:      "Messages rejected by the handshake gate.",
		},
		[]string{"node", "reason"},
	)
	exchanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tlvlink",
			Subsystem: "producer",
			Name:      "exchanges_total",
			Help:      "Dispatched request/response exchanges by outcome.",
		},
		[]string{"node", "message_id", "outcome"},
	)
	exchangeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tlvlink",
			Subsystem: "producer",
			Name:      "exchange_duration_seconds",
			Help:      "Handler plus primary send duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "message_id", "outcome"},
	)
	broadcastSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tlvlink",
			Subsystem: "producer",
			Name:      "broadcast_sends_total",
			Help:      "Broadcast deliveries per target by outcome.",
		},
		[]string{"node", "message_id", "outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			connections,
			messagesReceived,
			parseErrors,
			handshakeRejections,
			exchanges,
			exchangeDuration,
			broadcastSends,
		)
	})
}

func RecordHTTPRequest(node, method, route string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, route, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, route, statusLabel).Observe(duration.Seconds())
}

func SetConnections(node string, n int) {
	RegisterMetrics()
	connections.WithLabelValues(node).Set(float64(n))
}

func RecordMessageReceived(node string, messageID uint32) {
	RegisterMetrics()
	messagesReceived.WithLabelValues(node, idLabel(messageID)).Inc()
}

func RecordParseErrors(node string, n int) {
	if n <= 0 {
		return
	}
	RegisterMetrics()
	parseErrors.WithLabelValues(node).Add(float64(n))
}

func RecordHandshakeRejection(node, reason string) {
	RegisterMetrics()
	handshakeRejections.WithLabelValues(node, reason).Inc()
}

func RecordExchange(node string, messageID uint32, outcome string, duration time.Duration) {
	RegisterMetrics()
	id := idLabel(messageID)
	exchanges.WithLabelValues(node, id, outcome).Inc()
	exchangeDuration.WithLabelValues(node, id, outcome).Observe(duration.Seconds())
}

func RecordBroadcastSend(node string, messageID uint32, success bool) {
	RegisterMetrics()
	outcome := "ok"
	if !success {
		outcome = "failed"
	}
	broadcastSends.WithLabelValues(node, idLabel(messageID), outcome).Inc()
}

func idLabel(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}
