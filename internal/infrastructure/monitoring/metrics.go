package monitoring

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the daemon.
type Metrics struct {
	// Local HTTP surface
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Remote platform calls
	RemoteRequests *prometheus.CounterVec
	RemoteDuration *prometheus.HistogramVec

	// Deferred operations
	OperationsTotal *prometheus.CounterVec
	OperationPolls  prometheus.Histogram

	// Workspace session
	CacheLookups   *prometheus.CounterVec
	RestoresTotal  *prometheus.CounterVec
	SignedIn       prometheus.Gauge
	SessionChanges *prometheus.CounterVec

	// Sync operations (mirror export/import, snapshots)
	SyncCalls    *prometheus.CounterVec
	SyncDuration *prometheus.HistogramVec

	// Persistence
	StateSaves prometheus.Counter

	// Event stream
	StreamClients prometheus.Gauge
	StreamEvents  *prometheus.CounterVec

	// System
	Uptime    prometheus.Gauge
	startTime time.Time

	// Running totals for the JSON status endpoint
	mu       sync.RWMutex
	requests int64
	errors   int64
	duration float64
	remote   int64
	hits     int64
	misses   int64
	saves    int64
	clients  int64
}

// NewMetrics registers the daemon's metrics with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers against a caller-supplied registry. Tests pass
// a fresh registry so parallel servers never collide on registration.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_http_requests_total",
				Help: "Total number of local HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meridian_http_request_duration_seconds",
				Help:    "Local HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meridian_http_request_size_bytes",
				Help:    "Local HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meridian_http_response_size_bytes",
				Help:    "Local HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		RemoteRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_remote_requests_total",
				Help: "Total number of platform API round trips",
			},
			[]string{"method", "status"},
		),
		RemoteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meridian_remote_request_duration_seconds",
				Help:    "Platform API round trip duration in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method"},
		),

		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_operations_total",
				Help: "Total number of deferred operations by outcome",
			},
			[]string{"outcome"},
		),
		OperationPolls: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "meridian_operation_polls",
				Help:    "Status polls issued per deferred operation",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50},
			},
		),

		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_workspace_cache_lookups_total",
				Help: "Workspace cache lookups by result",
			},
			[]string{"result"},
		),
		RestoresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_session_restores_total",
				Help: "Workspace restoration attempts by outcome",
			},
			[]string{"outcome"},
		),
		SignedIn: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "meridian_signed_in",
				Help: "Whether a platform session is active (0 or 1)",
			},
		),
		SessionChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_session_transitions_total",
				Help: "Sign-in state transitions",
			},
			[]string{"state"},
		),

		SyncCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_sync_calls_total",
				Help: "Total number of sync operations",
			},
			[]string{"service", "method", "status"},
		),
		SyncDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meridian_sync_duration_seconds",
				Help:    "Sync operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"service", "method"},
		),

		StateSaves: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "meridian_state_saves_total",
				Help: "Total number of state file writes",
			},
		),

		StreamClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "meridian_stream_clients",
				Help: "Number of connected event stream clients",
			},
		),
		StreamEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_stream_events_total",
				Help: "Events pushed to stream clients",
			},
			[]string{"type"},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "meridian_uptime_seconds",
				Help: "Daemon uptime in seconds",
			},
		),
	}

	go m.updateUptime()

	return m
}

// updateUptime continuously updates the uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordHTTPRequest records a local HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.requests++
	m.duration += duration.Seconds()
	if len(status) > 0 && (status[0] == '4' || status[0] == '5') {
		m.errors++
	}
	m.mu.Unlock()
}

// RecordRemoteRequest matches the API client's request hook. A zero
// status means the round trip never produced a response.
func (m *Metrics) RecordRemoteRequest(method string, status int, elapsed time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.RemoteRequests.WithLabelValues(method, label).Inc()
	m.RemoteDuration.WithLabelValues(method).Observe(elapsed.Seconds())

	m.mu.Lock()
	m.remote++
	m.mu.Unlock()
}

// RecordOperation matches the deferred-operation poller's observer.
func (m *Metrics) RecordOperation(outcome string, polls int) {
	m.OperationsTotal.WithLabelValues(outcome).Inc()
	m.OperationPolls.Observe(float64(polls))
}

// RecordCacheLookup matches the workspace manager's cache observer.
func (m *Metrics) RecordCacheLookup(hit bool) {
	m.mu.Lock()
	if hit {
		m.hits++
	} else {
		m.misses++
	}
	m.mu.Unlock()

	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.CacheLookups.WithLabelValues("miss").Inc()
}

// RecordRestore matches the workspace manager's restore observer.
func (m *Metrics) RecordRestore(outcome string) {
	m.RestoresTotal.WithLabelValues(outcome).Inc()
}

// RecordSessionTransition matches the identity controller's observer.
func (m *Metrics) RecordSessionTransition(signedIn bool) {
	if signedIn {
		m.SignedIn.Set(1)
		m.SessionChanges.WithLabelValues("signed_in").Inc()
		return
	}
	m.SignedIn.Set(0)
	m.SessionChanges.WithLabelValues("signed_out").Inc()
}

// RecordStateSave matches the store's save hook.
func (m *Metrics) RecordStateSave() {
	m.StateSaves.Inc()

	m.mu.Lock()
	m.saves++
	m.mu.Unlock()
}

// RecordStreamEvent counts an event pushed to stream clients.
func (m *Metrics) RecordStreamEvent(eventType string) {
	m.StreamEvents.WithLabelValues(eventType).Inc()
}

// AddStreamClient increments the connected client gauge.
func (m *Metrics) AddStreamClient() {
	m.StreamClients.Inc()

	m.mu.Lock()
	m.clients++
	m.mu.Unlock()
}

// RemoveStreamClient decrements the connected client gauge.
func (m *Metrics) RemoveStreamClient() {
	m.StreamClients.Dec()

	m.mu.Lock()
	m.clients--
	m.mu.Unlock()
}
