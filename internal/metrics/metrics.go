package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "callcenter"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint and status code.",
		},
		[]string{"endpoint", "status"},
	)

	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Currently open realtime connections on this process.",
		},
	)

	realtimeEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_events_total",
			Help:      "Realtime events received from clients by event name.",
		},
		[]string{"event"},
	)

	callTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_session_transitions_total",
			Help:      "Call-session lifecycle transitions by resulting status.",
		},
		[]string{"status"},
	)

	twilioRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "twilio_requests_total",
			Help:      "Twilio REST requests by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	secondaryWriteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "secondary_write_failures_total",
			Help:      "Best-effort writes that failed after all retries.",
		},
		[]string{"kind"},
	)

	rowsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "csv_rows_ingested_total",
			Help:      "CSV rows accepted by ingestion source.",
		},
		[]string{"source"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			wsConnections,
			realtimeEvents,
			callTransitions,
			twilioRequests,
			secondaryWriteFailures,
			rowsIngested,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string, status int) {
	httpRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}

func ConnectionOpened() { wsConnections.Inc() }

func ConnectionClosed() { wsConnections.Dec() }

func IncRealtimeEvent(event string) {
	realtimeEvents.WithLabelValues(event).Inc()
}

func IncCallTransition(status string) {
	callTransitions.WithLabelValues(status).Inc()
}

// IncTwilio records one REST round trip.
func IncTwilio(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	twilioRequests.WithLabelValues(operation, outcome).Inc()
}

func IncSecondaryWriteFailure(kind string) {
	secondaryWriteFailures.WithLabelValues(kind).Inc()
}

func AddRowsIngested(source string, n int) {
	if n <= 0 {
		return
	}
	rowsIngested.WithLabelValues(source).Add(float64(n))
}
