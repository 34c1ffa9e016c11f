package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)
	return m, reg
}

func TestInitMetrics_registersAllMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)
	if m == nil {
		t.Fatal("InitMetrics returned nil")
	}

	expected := []string{
		"surety_http_requests_total",
		"surety_http_request_duration_seconds",
		"surety_http_request_size_bytes",
		"surety_http_response_size_bytes",
		"surety_rate_limited_total",
		"surety_auth_rejections_total",
		"surety_wizard_advances_total",
		"surety_wizard_validation_failures_total",
		"surety_uploads_total",
		"surety_notifications_received_total",
		"surety_notifications_dropped_total",
		"surety_socket_connects_total",
		"surety_sockets_connected",
		"surety_api_requests_total",
		"surety_api_request_duration_seconds",
		"surety_api_circuit_breaker_state",
		"surety_definition_reload_total",
		"surety_definitions_loaded",
	}

	// Record a value for each metric so they appear in Gather.
	m.RecordHTTPRequest("GET", "/test", 200, time.Millisecond, 0, 100)
	m.RecordRateLimited("/ui/auth/login")
	m.RecordAuthRejection("expired")
	m.RecordWizardAdvance("claim-submission", "policy-selection")
	m.RecordWizardValidationFailure("claim-submission", "damage-details")
	m.RecordUpload("vehicle", "success")
	m.RecordNotificationReceived("new-request")
	m.RecordNotificationDropped("evicted")
	m.RecordSocketConnect("success")
	m.SetSocketsConnected(1)
	m.RecordAPIRequest("login", 200, time.Millisecond)
	m.SetAPICircuitBreakerState(0)
	m.RecordDefinitionReload("success")
	m.SetDefinitionsLoaded(2)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordHTTPRequest("GET", "/ui/wizards/{wizardId}/steps/{stepId}", 200, 50*time.Millisecond, 0, 1024)
	m.RecordHTTPRequest("GET", "/ui/wizards/{wizardId}/steps/{stepId}", 200, 100*time.Millisecond, 0, 2048)
	m.RecordHTTPRequest("POST", "/ui/auth/login", 500, 200*time.Millisecond, 512, 256)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/ui/wizards/{wizardId}/steps/{stepId}", "200"))
	if val != 2 {
		t.Errorf("GET requests = %v, want 2", val)
	}
	val = testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/ui/auth/login", "500"))
	if val != 1 {
		t.Errorf("POST requests = %v, want 1", val)
	}
}

func TestRecordRateLimited(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordRateLimited("/ui/auth/login")
	m.RecordRateLimited("/ui/auth/login")

	if val := testutil.ToFloat64(m.RateLimitedTotal.WithLabelValues("/ui/auth/login")); val != 2 {
		t.Errorf("rate limited = %v, want 2", val)
	}
}

func TestRecordAuthRejection(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordAuthRejection("expired")
	m.RecordAuthRejection("expired")
	m.RecordAuthRejection("algorithm")

	if val := testutil.ToFloat64(m.AuthRejectionsTotal.WithLabelValues("expired")); val != 2 {
		t.Errorf("expired rejections = %v, want 2", val)
	}
	if val := testutil.ToFloat64(m.AuthRejectionsTotal.WithLabelValues("algorithm")); val != 1 {
		t.Errorf("algorithm rejections = %v, want 1", val)
	}
}

func TestRecordWizardOutcomes(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordWizardAdvance("claim-submission", "driver-details")
	m.RecordWizardValidationFailure("claim-submission", "damage-details")
	m.RecordWizardValidationFailure("claim-submission", "damage-details")

	if val := testutil.ToFloat64(m.WizardAdvancesTotal.WithLabelValues("claim-submission", "driver-details")); val != 1 {
		t.Errorf("advances = %v, want 1", val)
	}
	if val := testutil.ToFloat64(m.WizardValidationFailuresTotal.WithLabelValues("claim-submission", "damage-details")); val != 2 {
		t.Errorf("validation failures = %v, want 2", val)
	}
}

func TestRecordUpload(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordUpload("vehicle", "success")
	m.RecordUpload("third-party", "failure")

	if val := testutil.ToFloat64(m.UploadsTotal.WithLabelValues("vehicle", "success")); val != 1 {
		t.Errorf("vehicle uploads = %v, want 1", val)
	}
	if val := testutil.ToFloat64(m.UploadsTotal.WithLabelValues("third-party", "failure")); val != 1 {
		t.Errorf("third-party failures = %v, want 1", val)
	}
}

func TestRecordNotifications(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordNotificationReceived("approved")
	m.RecordNotificationReceived("approved")
	m.RecordNotificationDropped("unmounted")
	m.RecordSocketConnect("failure")
	m.SetSocketsConnected(3)

	if val := testutil.ToFloat64(m.NotificationsReceivedTotal.WithLabelValues("approved")); val != 2 {
		t.Errorf("received = %v, want 2", val)
	}
	if val := testutil.ToFloat64(m.NotificationsDroppedTotal.WithLabelValues("unmounted")); val != 1 {
		t.Errorf("dropped = %v, want 1", val)
	}
	if val := testutil.ToFloat64(m.SocketConnectsTotal.WithLabelValues("failure")); val != 1 {
		t.Errorf("connect failures = %v, want 1", val)
	}
	if val := testutil.ToFloat64(m.SocketsConnected); val != 3 {
		t.Errorf("sockets connected = %v, want 3", val)
	}
}

func TestRecordAPIRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordAPIRequest("login", 200, 100*time.Millisecond)
	m.RecordAPIRequest("login", 0, time.Second)

	if val := testutil.ToFloat64(m.APIRequestsTotal.WithLabelValues("login", "200")); val != 1 {
		t.Errorf("login 200 = %v, want 1", val)
	}
	if val := testutil.ToFloat64(m.APIRequestsTotal.WithLabelValues("login", "0")); val != 1 {
		t.Errorf("login no-response = %v, want 1", val)
	}
	if count := testutil.CollectAndCount(m.APIRequestDuration); count == 0 {
		t.Error("expected api duration histogram to have observations")
	}
}

func TestSetAPICircuitBreakerState(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SetAPICircuitBreakerState(0)
	if val := testutil.ToFloat64(m.APICircuitBreakerState); val != 0 {
		t.Errorf("circuit breaker state = %v, want 0 (closed)", val)
	}

	m.SetAPICircuitBreakerState(1)
	if val := testutil.ToFloat64(m.APICircuitBreakerState); val != 1 {
		t.Errorf("circuit breaker state = %v, want 1 (open)", val)
	}
}

func TestRecordDefinitionReload(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordDefinitionReload("success")
	m.RecordDefinitionReload("failure")

	success := testutil.ToFloat64(m.DefinitionReloadTotal.WithLabelValues("success"))
	if success != 1 {
		t.Errorf("reload success = %v, want 1", success)
	}
	failure := testutil.ToFloat64(m.DefinitionReloadTotal.WithLabelValues("failure"))
	if failure != 1 {
		t.Errorf("reload failure = %v, want 1", failure)
	}
}

func TestSetDefinitionsLoaded(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SetDefinitionsLoaded(2)
	val := testutil.ToFloat64(m.DefinitionsLoaded)
	if val != 2 {
		t.Errorf("definitions loaded = %v, want 2", val)
	}
}

func TestMetricsMiddleware_recordsRequestMetrics(t *testing.T) {
	m, _ := newTestMetrics(t)

	// Build a chi router so route patterns are captured.
	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/ui/wizards/{wizardId}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	req := httptest.NewRequest(http.MethodGet, "/ui/wizards/claim-submission", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	// Verify metrics were recorded with the route pattern, not the actual path.
	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/ui/wizards/{wizardId}", "200"))
	if val != 1 {
		t.Errorf("requests total = %v, want 1", val)
	}
}

func TestMetricsMiddleware_capturesResponseSize(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("healthy"))
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	// Response size should have been recorded.
	count := testutil.CollectAndCount(m.HTTPResponseSizeBytes)
	if count == 0 {
		t.Error("expected response size histogram to have observations")
	}
}

func TestMetricsMiddleware_capturesStatusCode(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Post("/ui/wizards/{wizardId}/steps/{stepId}/next", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	req := httptest.NewRequest(http.MethodPost, "/ui/wizards/claim-submission/steps/damage-details/next", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/ui/wizards/{wizardId}/steps/{stepId}/next", "400"))
	if val != 1 {
		t.Errorf("400 requests = %v, want 1", val)
	}
}

func TestMetricsMiddleware_fallsBackToPath(t *testing.T) {
	m, _ := newTestMetrics(t)

	// Use middleware directly without chi router.
	handler := m.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/raw/path", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	// Without chi, should fall back to raw path.
	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/raw/path", "200"))
	if val != 1 {
		t.Errorf("raw path requests = %v, want 1", val)
	}
}

func TestHandler_servesMetrics(t *testing.T) {
	handler := Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	// Prometheus handler should return at least go runtime metrics.
	if !strings.Contains(body, "go_") {
		t.Error("metrics response should contain go runtime metrics")
	}
}

func TestHistogramBuckets(t *testing.T) {
	// Verify bucket configurations are correct.
	if len(httpDurationBuckets) != 11 {
		t.Errorf("httpDurationBuckets length = %d, want 11", len(httpDurationBuckets))
	}
	if len(apiDurationBuckets) != 9 {
		t.Errorf("apiDurationBuckets length = %d, want 9", len(apiDurationBuckets))
	}
	if len(bodySizeBuckets) != 5 {
		t.Errorf("bodySizeBuckets length = %d, want 5", len(bodySizeBuckets))
	}

	// Verify buckets are sorted ascending.
	for i := 1; i < len(httpDurationBuckets); i++ {
		if httpDurationBuckets[i] <= httpDurationBuckets[i-1] {
			t.Errorf("httpDurationBuckets not sorted at index %d", i)
		}
	}
}

func TestMetricsResponseWriter_hijackUnsupported(t *testing.T) {
	sw := &metricsResponseWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}

	if _, _, err := sw.Hijack(); err == nil {
		t.Error("Hijack() on a recorder should fail")
	}
}
