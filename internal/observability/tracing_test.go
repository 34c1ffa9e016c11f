package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/pitabwire/surety/internal/config"
)

// setupTestTracer creates an in-memory span exporter and configures a
// TracerProvider that always samples. Returns the exporter and a cleanup func.
func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

func TestInitTracing_disabled(t *testing.T) {
	cfg := config.TracingConfig{Enabled: false}
	shutdown, err := InitTracing(context.Background(), cfg, "test-svc", "1.0.0")
	if err != nil {
		t.Fatalf("InitTracing() error = %v", err)
	}
	// Shutdown should be a no-op.
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestInitTracing_stdout(t *testing.T) {
	cfg := config.TracingConfig{
		Enabled:      true,
		Exporter:     "stdout",
		SamplingRate: 1.0,
	}
	shutdown, err := InitTracing(context.Background(), cfg, "test-svc", "1.0.0")
	if err != nil {
		t.Fatalf("InitTracing() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestInitTracing_unsupportedExporter(t *testing.T) {
	cfg := config.TracingConfig{
		Enabled:  true,
		Exporter: "zipkin",
	}
	_, err := InitTracing(context.Background(), cfg, "test-svc", "1.0.0")
	if err == nil {
		t.Fatal("expected error for unsupported exporter")
	}
}

// --- Span helpers ---

func TestStartWizardSpan_attributes(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx, span := StartWizardSpan(context.Background(), "advance", "claim-submission", "damage-details")
	if trace.SpanFromContext(ctx) != span {
		t.Error("context does not carry the wizard span")
	}
	AnnotateTransition(span, true, "")
	span.End()

	s := onlySpan(t, exporter)
	if s.Name != "wizard.advance" {
		t.Errorf("span name = %q, want wizard.advance", s.Name)
	}
	attrs := spanAttrMap(s)
	want := map[string]string{
		"surety.wizard_id":       "claim-submission",
		"surety.step_id":         "damage-details",
		"surety.wizard_advanced": "true",
	}
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("%s = %q, want %q", k, attrs[k], v)
		}
	}
	if len(s.Events) != 0 {
		t.Errorf("events = %d, want none for an advanced step", len(s.Events))
	}
}

func TestAnnotateTransition_blocked(t *testing.T) {
	exporter := setupTestTracer(t)

	_, span := StartWizardSpan(context.Background(), "advance", "claim-submission", "incident-details")
	AnnotateTransition(span, false, "Please select at least one option")
	span.End()

	s := onlySpan(t, exporter)
	if got := spanAttrMap(s)["surety.wizard_advanced"]; got != "false" {
		t.Errorf("surety.wizard_advanced = %q, want false", got)
	}
	if len(s.Events) != 1 || s.Events[0].Name != "validation_failed" {
		t.Fatalf("events = %v, want one validation_failed", s.Events)
	}
	if got := s.Events[0].Attributes[0].Value.AsString(); got != "Please select at least one option" {
		t.Errorf("event message = %q", got)
	}
	// A blocked step is not a span error.
	if s.Status.Code == codes.Error {
		t.Error("blocked advance marked the span as failed")
	}
}

func TestStartUploadSpan_attributes(t *testing.T) {
	tests := []struct {
		name      string
		category  string
		size      int64
		wantName  string
		wantBytes string
	}{
		{"vehicle with size", "vehicle", 2048, "upload.vehicle", "2048"},
		{"third-party unknown size", "third-party", -1, "upload.third-party", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exporter := setupTestTracer(t)

			_, span := StartUploadSpan(context.Background(), tt.category, tt.size)
			EndSpanWithError(span, nil)

			s := onlySpan(t, exporter)
			if s.Name != tt.wantName {
				t.Errorf("span name = %q, want %q", s.Name, tt.wantName)
			}
			attrs := spanAttrMap(s)
			if attrs["surety.upload_category"] != tt.category {
				t.Errorf("surety.upload_category = %q, want %q", attrs["surety.upload_category"], tt.category)
			}
			if attrs["surety.upload_bytes"] != tt.wantBytes {
				t.Errorf("surety.upload_bytes = %q, want %q", attrs["surety.upload_bytes"], tt.wantBytes)
			}
		})
	}
}

func TestStartUploadSpan_failure(t *testing.T) {
	exporter := setupTestTracer(t)

	_, span := StartUploadSpan(context.Background(), "vehicle", 10)
	EndSpanWithError(span, errors.New("s3: access denied"))

	s := onlySpan(t, exporter)
	if s.Status.Code != codes.Error || s.Status.Description != "s3: access denied" {
		t.Errorf("status = %v %q, want Error with the upload error", s.Status.Code, s.Status.Description)
	}
	if len(s.Events) == 0 {
		t.Error("upload error was not recorded as an event")
	}
}

func TestStartNotificationSpan_attributes(t *testing.T) {
	exporter := setupTestTracer(t)

	_, span := StartNotificationSpan(context.Background(), "rejected", "pr-9-1700000000000-3")
	span.End()

	s := onlySpan(t, exporter)
	if s.Name != "notify.receive" {
		t.Errorf("span name = %q, want notify.receive", s.Name)
	}
	if s.SpanKind != trace.SpanKindConsumer {
		t.Errorf("span kind = %v, want Consumer", s.SpanKind)
	}
	attrs := spanAttrMap(s)
	if attrs["surety.notification_kind"] != "rejected" {
		t.Errorf("surety.notification_kind = %q", attrs["surety.notification_kind"])
	}
	if attrs["surety.notification_id"] != "pr-9-1700000000000-3" {
		t.Errorf("surety.notification_id = %q", attrs["surety.notification_id"])
	}
	if s.Parent.IsValid() {
		t.Error("notification span from a background context has a parent")
	}
}

func TestAnnotateSubject(t *testing.T) {
	tests := []struct {
		name      string
		subject   string
		admin     bool
		wantAdmin string
	}{
		{"admin", "adm-1", true, "true"},
		{"customer", "cust-7", false, "false"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exporter := setupTestTracer(t)

			ctx, span := StartSpan(context.Background(), "GET /ui/admin/notifications")
			AnnotateSubject(ctx, tt.subject, tt.admin)
			span.End()

			attrs := spanAttrMap(onlySpan(t, exporter))
			if attrs["surety.subject_id"] != tt.subject {
				t.Errorf("surety.subject_id = %q, want %q", attrs["surety.subject_id"], tt.subject)
			}
			if attrs["surety.admin"] != tt.wantAdmin {
				t.Errorf("surety.admin = %q, want %q", attrs["surety.admin"], tt.wantAdmin)
			}
		})
	}
}

func TestAnnotateSubject_noSpan(t *testing.T) {
	// Must not panic without an active span.
	AnnotateSubject(context.Background(), "cust-7", false)
}

func TestEndSpanWithError_nilError(t *testing.T) {
	exporter := setupTestTracer(t)

	_, span := StartWizardSpan(context.Background(), "validate", "claim-submission", "damage-details")
	EndSpanWithError(span, nil)

	if onlySpan(t, exporter).Status.Code == codes.Error {
		t.Error("status should not be Error when err is nil")
	}
}

func TestTraceIDFromContext(t *testing.T) {
	if got := TraceIDFromContext(context.Background()); got != "" {
		t.Errorf("TraceIDFromContext without span = %q, want empty", got)
	}

	setupTestTracer(t)
	ctx, span := StartSpan(context.Background(), "api.login", AttrAPIOperation.String("login"))
	defer span.End()

	if got, want := TraceIDFromContext(ctx), span.SpanContext().TraceID().String(); got != want {
		t.Errorf("TraceIDFromContext = %q, want %q", got, want)
	}
	if SpanIDFromContext(ctx) == "" {
		t.Error("SpanIDFromContext returned empty with an active span")
	}
}

func TestTracingMiddleware_createsRootSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/ui/pages/dashboard", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	s := spans[0]
	if s.Name != "GET /ui/pages/dashboard" {
		t.Errorf("span name = %q, want %q", s.Name, "GET /ui/pages/dashboard")
	}
	if s.SpanKind != trace.SpanKindServer {
		t.Errorf("span kind = %v, want Server", s.SpanKind)
	}

	attrMap := spanAttrMap(s)
	if v, ok := attrMap["http.request.method"]; !ok || v != "GET" {
		t.Errorf("http.request.method = %q, want GET", v)
	}
	if v, ok := attrMap["url.path"]; !ok || v != "/ui/pages/dashboard" {
		t.Errorf("url.path = %q, want /ui/pages/dashboard", v)
	}
}

func TestTracingMiddleware_500_setsErrorStatus(t *testing.T) {
	exporter := setupTestTracer(t)

	handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	req := httptest.NewRequest(http.MethodPost, "/ui/wizards/claim-submission/steps/damage-details/next", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("status code = %v, want Error for 500 response", spans[0].Status.Code)
	}
}

func TestTracingMiddleware_capturesStatusCode(t *testing.T) {
	exporter := setupTestTracer(t)

	handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/ui/auth/login", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	attrMap := spanAttrMap(spans[0])
	if v, ok := attrMap["http.response.status_code"]; !ok || v != "201" {
		t.Errorf("http.response.status_code = %q, want 201", v)
	}
}

func TestTracingMiddleware_extractsTraceparent(t *testing.T) {
	exporter := setupTestTracer(t)

	handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The span in context should have the parent trace ID from the header.
		w.WriteHeader(http.StatusOK)
	}))

	// Valid W3C traceparent header.
	traceID := "0af7651916cd43dd8448eb211c80319c"
	parentSpanID := "b7ad6b7169203331"
	traceparent := "00-" + traceID + "-" + parentSpanID + "-01"

	req := httptest.NewRequest(http.MethodGet, "/ui/navigation", nil)
	req.Header.Set("Traceparent", traceparent)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	// The span should have the extracted trace ID from the parent.
	if spans[0].SpanContext.TraceID().String() != traceID {
		t.Errorf("trace ID = %q, want %q", spans[0].SpanContext.TraceID().String(), traceID)
	}
	if spans[0].Parent.SpanID().String() != parentSpanID {
		t.Errorf("parent span ID = %q, want %q", spans[0].Parent.SpanID().String(), parentSpanID)
	}
}

func TestTracingMiddleware_injectsResponseHeaders(t *testing.T) {
	setupTestTracer(t)

	handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/ui/pages/home", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	// The response should have a traceparent header injected.
	tp := rec.Header().Get("Traceparent")
	if tp == "" {
		t.Error("response should have Traceparent header")
	}
}

func TestInjectTraceHeaders(t *testing.T) {
	setupTestTracer(t)

	ctx, span := StartSpan(context.Background(), "outbound.call")
	defer span.End()

	headers := http.Header{}
	InjectTraceHeaders(ctx, headers)

	if headers.Get("Traceparent") == "" {
		t.Error("InjectTraceHeaders should set Traceparent header")
	}
}

// --- Sampling ---

func TestNewSampler_alwaysSamplePrefixes(t *testing.T) {
	sampler := newSampler(config.TracingConfig{SamplingRate: 0.0001, AlwaysSample: []string{"upload."}})
	if _, ok := sampler.(*prefixSampler); !ok {
		t.Fatalf("newSampler() = %T, want *prefixSampler", sampler)
	}

	tests := []struct {
		span string
		want sdktrace.SamplingDecision
	}{
		{"upload.vehicle", sdktrace.RecordAndSample},
		{"upload.third-party", sdktrace.RecordAndSample},
		{"wizard.advance", sdktrace.Drop},
		{"notify.receive", sdktrace.Drop},
	}
	// A trace id with all bits set falls outside any ratio below 1.
	traceID := trace.TraceID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	for _, tt := range tests {
		t.Run(tt.span, func(t *testing.T) {
			res := sampler.ShouldSample(sdktrace.SamplingParameters{
				ParentContext: context.Background(),
				TraceID:       traceID,
				Name:          tt.span,
			})
			if res.Decision != tt.want {
				t.Errorf("decision = %v, want %v", res.Decision, tt.want)
			}
		})
	}

	if desc := sampler.Description(); !strings.Contains(desc, "upload.") {
		t.Errorf("Description() = %q, want the prefixes listed", desc)
	}
}

func TestNewSampler_withoutPrefixes(t *testing.T) {
	tests := []struct {
		name string
		rate float64
		want string
	}{
		{"default rate", 0, "TraceIDRatioBased{0.1}"},
		{"half", 0.5, "TraceIDRatioBased{0.5}"},
		{"full", 1.0, "AlwaysOnSampler"},
		{"clamped", 2.0, "AlwaysOnSampler"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sampler := newSampler(config.TracingConfig{SamplingRate: tt.rate})
			if _, ok := sampler.(*prefixSampler); ok {
				t.Fatal("prefix sampler installed with no prefixes")
			}
			if desc := sampler.Description(); !strings.Contains(desc, tt.want) {
				t.Errorf("Description() = %q, want it to contain %q", desc, tt.want)
			}
		})
	}
}

func TestSpanHierarchy_damageSubmission(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx, root := StartSpan(context.Background(), "POST /ui/wizards/claim-submission/steps/damage-details/submit")
	AnnotateSubject(ctx, "cust-7", false)
	ctx, validate := StartWizardSpan(ctx, "validate", "claim-submission", "damage-details")
	AnnotateTransition(validate, true, "")
	validate.End()

	_, vehicle := StartUploadSpan(ctx, "vehicle", 100)
	EndSpanWithError(vehicle, nil)
	_, thirdParty := StartUploadSpan(ctx, "third-party", 200)
	EndSpanWithError(thirdParty, nil)
	root.End()

	spans := exporter.GetSpans()
	if len(spans) != 4 {
		t.Fatalf("spans = %d, want 4", len(spans))
	}
	traceID := root.SpanContext().TraceID()
	for _, s := range spans {
		if s.SpanContext.TraceID() != traceID {
			t.Errorf("span %q is in another trace", s.Name)
		}
	}
	for _, name := range []string{"upload.vehicle", "upload.third-party"} {
		s := findSpan(t, spans, name)
		if s.Parent.SpanID() != validate.SpanContext().SpanID() {
			t.Errorf("%s parent = %v, want the validate span", name, s.Parent.SpanID())
		}
	}
}

// --- helpers ---

// spanAttrMap converts a span's attributes to a map[string]string for easier assertion.
func spanAttrMap(s tracetest.SpanStub) map[string]string {
	m := make(map[string]string)
	for _, a := range s.Attributes {
		m[string(a.Key)] = a.Value.Emit()
	}
	return m
}

func onlySpan(t *testing.T, exporter *tracetest.InMemoryExporter) tracetest.SpanStub {
	t.Helper()
	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	return spans[0]
}

func findSpan(t *testing.T, spans tracetest.SpanStubs, name string) tracetest.SpanStub {
	t.Helper()
	for _, s := range spans {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("no span named %q", name)
	return tracetest.SpanStub{}
}
