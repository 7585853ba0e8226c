package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Alert engine metrics
	TicksReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alert_engine_ticks_received_total",
		Help: "Price ticks handed to the evaluator",
	})

	TicksIgnored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_engine_ticks_ignored_total",
			Help: "Ticks skipped without evaluation",
		},
		[]string{"reason"}, // unwatched, malformed
	)

	AlertsEvaluated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alert_engine_alerts_evaluated_total",
		Help: "Alert evaluations performed",
	})

	AlertsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_engine_alerts_triggered_total",
			Help: "Bound crossings detected",
		},
		[]string{"bound"},
	)

	EvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "alert_engine_evaluation_duration_seconds",
		Help:    "Time to evaluate one tick",
		Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
	})

	ProcessorBackpressure = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alert_engine_processor_backpressure_total",
		Help: "Submissions that found their shard queue full",
	})

	AlertChangesApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_engine_alert_changes_total",
			Help: "Alert definition changes applied to the index",
		},
		[]string{"op"},
	)

	ActiveAlerts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "alert_engine_active_alerts",
		Help: "Enabled alerts in the index",
	})

	WatchedStocks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "alert_engine_watched_stocks",
		Help: "Stocks with at least one alert",
	})

	// Dispatch and persistence
	SinkWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_engine_sink_writes_total",
			Help: "Triggered alert sink writes by result",
		},
		[]string{"result"}, // ok, retry, dropped
	)

	DispatchDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_engine_dispatch_dropped_total",
			Help: "Triggered alerts not delivered to a consumer",
		},
		[]string{"reason"},
	)

	WebhooksSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_engine_webhooks_total",
			Help: "Webhook deliveries by result",
		},
		[]string{"result"},
	)

	// NATS
	NATSMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_received_total",
			Help: "Messages consumed from NATS",
		},
		[]string{"subject"},
	)

	NATSMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_published_total",
			Help: "Messages published to NATS",
		},
		[]string{"subject"},
	)

	NATSPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_publish_errors_total",
			Help: "Failed NATS publishes",
		},
		[]string{"subject"},
	)

	// API gateway
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_gateway_http_requests_total",
			Help: "HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_gateway_http_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	WSClientConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "api_gateway_websocket_connections",
		Help: "Open websocket clients",
	})

	WSMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_gateway_websocket_messages_total",
			Help: "Websocket messages by result",
		},
		[]string{"result"},
	)

	// Price simulator
	SimulatedTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "price_simulator_ticks_published_total",
		Help: "Simulated ticks published",
	})
)

// Handler returns the HTTP handler for the /metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures a duration and records it to a histogram
func Timer(h prometheus.Observer) func() {
	start := time.Now()
	return func() {
		h.Observe(time.Since(start).Seconds())
	}
}
