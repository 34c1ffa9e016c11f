package observability

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	apiDurationBuckets  = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets     = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the portal BFF.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec
	RateLimitedTotal      *prometheus.CounterVec
	AuthRejectionsTotal   *prometheus.CounterVec

	// Wizard metrics
	WizardAdvancesTotal           *prometheus.CounterVec
	WizardValidationFailuresTotal *prometheus.CounterVec
	UploadsTotal                  *prometheus.CounterVec

	// Notification metrics
	NotificationsReceivedTotal *prometheus.CounterVec
	NotificationsDroppedTotal  *prometheus.CounterVec
	SocketConnectsTotal        *prometheus.CounterVec
	SocketsConnected           prometheus.Gauge

	// Insurance API metrics
	APIRequestsTotal       *prometheus.CounterVec
	APIRequestDuration     *prometheus.HistogramVec
	APICircuitBreakerState prometheus.Gauge

	// System metrics
	DefinitionReloadTotal *prometheus.CounterVec
	DefinitionsLoaded     prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surety_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "surety_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "surety_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "surety_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		RateLimitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surety_rate_limited_total",
			Help: "Total number of requests rejected by a rate limiter.",
		}, []string{"route"}),
		AuthRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surety_auth_rejections_total",
			Help: "Bearer tokens rejected by the authenticator, by reason.",
		}, []string{"reason"}),

		// Wizards
		WizardAdvancesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surety_wizard_advances_total",
			Help: "Total number of wizard steps passed.",
		}, []string{"wizard_id", "step_id"}),
		WizardValidationFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surety_wizard_validation_failures_total",
			Help: "Total number of blocked wizard advances.",
		}, []string{"wizard_id", "step_id"}),
		UploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surety_uploads_total",
			Help: "Total number of damage file uploads.",
		}, []string{"category", "result"}),

		// Notifications
		NotificationsReceivedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surety_notifications_received_total",
			Help: "Total number of admin notifications received.",
		}, []string{"kind"}),
		NotificationsDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surety_notifications_dropped_total",
			Help: "Total number of admin notifications dropped or evicted.",
		}, []string{"reason"}),
		SocketConnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surety_socket_connects_total",
			Help: "Total number of notification socket connection attempts.",
		}, []string{"result"}),
		SocketsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "surety_sockets_connected",
			Help: "Number of connected admin notification sockets.",
		}),

		// Insurance API
		APIRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surety_api_requests_total",
			Help: "Total number of insurance API requests.",
		}, []string{"operation", "status"}),
		APIRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "surety_api_request_duration_seconds",
			Help:    "Insurance API request duration in seconds.",
			Buckets: apiDurationBuckets,
		}, []string{"operation"}),
		APICircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "surety_api_circuit_breaker_state",
			Help: "Insurance API circuit breaker state (0=closed, 1=open, 2=half-open).",
		}),

		// System
		DefinitionReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surety_definition_reload_total",
			Help: "Total wizard definition loads.",
		}, []string{"status"}),
		DefinitionsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "surety_definitions_loaded",
			Help: "Number of loaded wizard definitions.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		m.RateLimitedTotal,
		m.AuthRejectionsTotal,
		// Wizards
		m.WizardAdvancesTotal,
		m.WizardValidationFailuresTotal,
		m.UploadsTotal,
		// Notifications
		m.NotificationsReceivedTotal,
		m.NotificationsDroppedTotal,
		m.SocketConnectsTotal,
		m.SocketsConnected,
		// Insurance API
		m.APIRequestsTotal,
		m.APIRequestDuration,
		m.APICircuitBreakerState,
		// System
		m.DefinitionReloadTotal,
		m.DefinitionsLoaded,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordRateLimited records a request rejected by a limiter.
func (m *Metrics) RecordRateLimited(route string) {
	m.RateLimitedTotal.WithLabelValues(route).Inc()
}

// RecordAuthRejection counts a rejected bearer token.
func (m *Metrics) RecordAuthRejection(reason string) {
	m.AuthRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordWizardAdvance records a step that passed validation.
func (m *Metrics) RecordWizardAdvance(wizardID, stepID string) {
	m.WizardAdvancesTotal.WithLabelValues(wizardID, stepID).Inc()
}

// RecordWizardValidationFailure records a step that failed validation.
func (m *Metrics) RecordWizardValidationFailure(wizardID, stepID string) {
	m.WizardValidationFailuresTotal.WithLabelValues(wizardID, stepID).Inc()
}

// RecordUpload records one damage file upload attempt.
func (m *Metrics) RecordUpload(category, result string) {
	m.UploadsTotal.WithLabelValues(category, result).Inc()
}

// RecordNotificationReceived records a notification pushed by the server.
func (m *Metrics) RecordNotificationReceived(kind string) {
	m.NotificationsReceivedTotal.WithLabelValues(kind).Inc()
}

// RecordNotificationDropped records a notification that did not stay in a
// buffer.
func (m *Metrics) RecordNotificationDropped(reason string) {
	m.NotificationsDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordSocketConnect records a notification socket connection attempt.
func (m *Metrics) RecordSocketConnect(result string) {
	m.SocketConnectsTotal.WithLabelValues(result).Inc()
}

// SetSocketsConnected sets the number of connected notification sockets.
func (m *Metrics) SetSocketsConnected(n float64) {
	m.SocketsConnected.Set(n)
}

// RecordAPIRequest records an insurance API request. Status 0 means no
// response was received.
func (m *Metrics) RecordAPIRequest(operation string, status int, duration time.Duration) {
	m.APIRequestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	m.APIRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetAPICircuitBreakerState sets the insurance API circuit breaker state.
// State: 0=closed, 1=open, 2=half-open.
func (m *Metrics) SetAPICircuitBreakerState(state float64) {
	m.APICircuitBreakerState.Set(state)
}

// RecordDefinitionReload records a definition load.
func (m *Metrics) RecordDefinitionReload(status string) {
	m.DefinitionReloadTotal.WithLabelValues(status).Inc()
}

// SetDefinitionsLoaded sets the number of loaded definitions.
func (m *Metrics) SetDefinitionsLoaded(count float64) {
	m.DefinitionsLoaded.Set(count)
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Hijack lets websocket upgrades pass through the wrapper.
func (w *metricsResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.status = http.StatusSwitchingProtocols
	w.written = true
	return hijack(w.ResponseWriter)
}

func hijack(w http.ResponseWriter) (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("observability: response writer does not support hijacking")
	}
	return h.Hijack()
}
