package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the call agent
type Metrics struct {
	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Call Metrics
	callsTotal       *prometheus.CounterVec
	callsActive      prometheus.Gauge
	callsDuration    *prometheus.HistogramVec
	callsFailedTotal *prometheus.CounterVec

	// Relay Metrics
	relayWritesTotal      *prometheus.CounterVec
	relayWriteErrorsTotal *prometheus.CounterVec

	// Media Metrics
	mediaAcquireTotal *prometheus.CounterVec

	// Group Call Metrics
	roomsJoinedTotal *prometheus.CounterVec
	roomParticipants prometheus.Gauge

	// Diagnostics Metrics
	diagnosticsRunsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(serviceName string) *Metrics {
	m := &Metrics{
		// HTTP Request Metrics
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: prometheus.Labels{"service": serviceName},
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
		),

		// Call Metrics
		callsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_total",
				Help:        "Total number of calls by final outcome",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"type", "outcome"},
		),
		callsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "calls_active",
				Help:        "Number of active calls",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
		),
		callsDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "calls_duration_seconds",
				Help:        "Call duration in seconds",
				ConstLabels: prometheus.Labels{"service": serviceName},
				Buckets:     []float64{10, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"type"},
		),
		callsFailedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "calls_failed_total",
				Help:        "Total number of failed calls",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"type", "reason"},
		),

		// Relay Metrics
		relayWritesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "relay_writes_total",
				Help:        "Total number of relay document writes",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"collection", "operation"},
		),
		relayWriteErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "relay_write_errors_total",
				Help:        "Total number of failed relay writes",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"collection", "operation"},
		),

		// Media Metrics
		mediaAcquireTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "media_acquire_total",
				Help:        "Total number of local media acquisition attempts",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"result"},
		),

		// Group Call Metrics
		roomsJoinedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "rooms_joined_total",
				Help:        "Total number of group call rooms joined",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"role"},
		),
		roomParticipants: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "room_participants",
				Help:        "Participant count of the currently joined room",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
		),

		// Diagnostics Metrics
		diagnosticsRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "diagnostics_runs_total",
				Help:        "Total number of diagnostics runs",
				ConstLabels: prometheus.Labels{"service": serviceName},
			},
			[]string{"verdict"},
		),
	}

	return m
}

// HTTP Metrics Methods

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the number of in-flight HTTP requests
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements the number of in-flight HTTP requests
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.httpRequestsInFlight.Dec()
}

// Call Metrics Methods

// RecordCall records a finished call with its final outcome
func (m *Metrics) RecordCall(callType, outcome string) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(callType, outcome).Inc()
}

// SetActiveCalls sets the number of active calls
func (m *Metrics) SetActiveCalls(count int) {
	if m == nil {
		return
	}
	m.callsActive.Set(float64(count))
}

// RecordCallDuration records the duration of a call
func (m *Metrics) RecordCallDuration(callType string, duration time.Duration) {
	if m == nil {
		return
	}
	m.callsDuration.WithLabelValues(callType).Observe(duration.Seconds())
}

// RecordCallFailure records a failed call
func (m *Metrics) RecordCallFailure(callType, reason string) {
	if m == nil {
		return
	}
	m.callsFailedTotal.WithLabelValues(callType, reason).Inc()
}

// Relay Metrics Methods

// RecordRelayWrite records a relay document write
func (m *Metrics) RecordRelayWrite(collection, operation string, err error) {
	if m == nil {
		return
	}
	m.relayWritesTotal.WithLabelValues(collection, operation).Inc()
	if err != nil {
		m.relayWriteErrorsTotal.WithLabelValues(collection, operation).Inc()
	}
}

// Media Metrics Methods

// RecordMediaAcquire records a local media acquisition attempt
func (m *Metrics) RecordMediaAcquire(result string) {
	if m == nil {
		return
	}
	m.mediaAcquireTotal.WithLabelValues(result).Inc()
}

// Group Call Metrics Methods

// RecordRoomJoined records a room join, role is "initiator" or "participant"
func (m *Metrics) RecordRoomJoined(role string) {
	if m == nil {
		return
	}
	m.roomsJoinedTotal.WithLabelValues(role).Inc()
}

// SetRoomParticipants sets the roster size of the joined room
func (m *Metrics) SetRoomParticipants(count int) {
	if m == nil {
		return
	}
	m.roomParticipants.Set(float64(count))
}

// Diagnostics Metrics Methods

// RecordDiagnosticsRun records a diagnostics run with its overall verdict
func (m *Metrics) RecordDiagnosticsRun(verdict string) {
	if m == nil {
		return
	}
	m.diagnosticsRunsTotal.WithLabelValues(verdict).Inc()
}
