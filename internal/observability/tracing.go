package observability

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/pitabwire/surety/internal/config"
)

const tracerName = "github.com/pitabwire/surety"

// Attribute keys for portal spans.
var (
	AttrWizardID         = attribute.Key("surety.wizard_id")
	AttrStepID           = attribute.Key("surety.step_id")
	AttrWizardAdvanced   = attribute.Key("surety.wizard_advanced")
	AttrSubjectID        = attribute.Key("surety.subject_id")
	AttrAdmin            = attribute.Key("surety.admin")
	AttrAPIOperation     = attribute.Key("surety.api_operation")
	AttrNotificationKind = attribute.Key("surety.notification_kind")
	AttrNotificationID   = attribute.Key("surety.notification_id")
	AttrUploadCategory   = attribute.Key("surety.upload_category")
	AttrUploadBytes      = attribute.Key("surety.upload_bytes")
)

// InitTracing initializes the OpenTelemetry TracerProvider with the given
// configuration. It returns a shutdown function that flushes pending spans.
func InitTracing(ctx context.Context, cfg config.TracingConfig, serviceName, serviceVersion string) (shutdown func(context.Context) error, err error) {
	if !cfg.Enabled {
		// Return a no-op shutdown when tracing is disabled.
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: create exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: create resource: %w", err)
	}

	sampler := newSampler(cfg)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	// Set global tracer provider and propagator.
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// newExporter creates a trace exporter based on configuration.
func newExporter(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp", "":
		opts := []otlptracegrpc.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		return otlptracegrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported exporter: %q (supported: otlp, stdout)", cfg.Exporter)
	}
}

// newSampler samples root spans at cfg.SamplingRate (default 0.1) and
// follows the parent's decision otherwise. Spans named with one of the
// cfg.AlwaysSample prefixes are always recorded.
func newSampler(cfg config.TracingConfig) sdktrace.Sampler {
	rate := cfg.SamplingRate
	if rate <= 0 {
		rate = 0.1
	}
	if rate > 1 {
		rate = 1.0
	}

	var base sdktrace.Sampler
	if rate >= 1.0 {
		base = sdktrace.AlwaysSample()
	} else {
		base = sdktrace.TraceIDRatioBased(rate)
	}

	sampler := sdktrace.ParentBased(base)
	if len(cfg.AlwaysSample) > 0 {
		return &prefixSampler{prefixes: cfg.AlwaysSample, delegate: sampler}
	}
	return sampler
}

// prefixSampler records spans whose name starts with one of prefixes and
// leaves every other decision to delegate.
type prefixSampler struct {
	prefixes []string
	delegate sdktrace.Sampler
}

func (s *prefixSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	for _, prefix := range s.prefixes {
		if strings.HasPrefix(p.Name, prefix) {
			return sdktrace.SamplingResult{
				Decision:   sdktrace.RecordAndSample,
				Tracestate: trace.SpanContextFromContext(p.ParentContext).TraceState(),
			}
		}
	}
	return s.delegate.ShouldSample(p)
}

func (s *prefixSampler) Description() string {
	return fmt.Sprintf("PrefixSampler{%s,%s}", strings.Join(s.prefixes, "|"), s.delegate.Description())
}

// Tracer returns the package-level tracer for creating spans.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan is a convenience wrapper around tracer.Start that uses the
// package-level tracer and converts attribute key-value pairs.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	opts := []trace.SpanStartOption{}
	if len(attrs) > 0 {
		opts = append(opts, trace.WithAttributes(attrs...))
	}
	return Tracer().Start(ctx, name, opts...)
}

// StartWizardSpan starts a "wizard.<operation>" span for one step.
func StartWizardSpan(ctx context.Context, operation, wizardID, stepID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "wizard."+operation, AttrWizardID.String(wizardID), AttrStepID.String(stepID))
}

// AnnotateTransition records whether a wizard step advanced. A blocked
// advance adds a validation_failed event carrying the message.
func AnnotateTransition(span trace.Span, advanced bool, message string) {
	span.SetAttributes(AttrWizardAdvanced.Bool(advanced))
	if !advanced && message != "" {
		span.AddEvent("validation_failed", trace.WithAttributes(attribute.String("message", message)))
	}
}

// StartUploadSpan starts an "upload.<category>" span for one damage file.
// size is omitted when unknown.
func StartUploadSpan(ctx context.Context, category string, size int64) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{AttrUploadCategory.String(category)}
	if size > 0 {
		attrs = append(attrs, AttrUploadBytes.Int64(size))
	}
	return StartSpan(ctx, "upload."+category, attrs...)
}

// StartNotificationSpan starts a consumer span for one notification read off
// the admin socket. Socket frames carry no trace context, so ctx is usually
// a background context and the span is a root.
func StartNotificationSpan(ctx context.Context, kind, id string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "notify.receive",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(AttrNotificationKind.String(kind), AttrNotificationID.String(id)),
	)
}

// AnnotateSubject tags the request span with the authenticated portal user.
func AnnotateSubject(ctx context.Context, subjectID string, admin bool) {
	trace.SpanFromContext(ctx).SetAttributes(AttrSubjectID.String(subjectID), AttrAdmin.Bool(admin))
}

// EndSpanWithError ends a span, setting its status to error if err is non-nil.
func EndSpanWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// TraceIDFromContext extracts the trace ID from the current span context.
// Returns an empty string if no active span is found.
func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// SpanIDFromContext extracts the span ID from the current span context.
func SpanIDFromContext(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.HasSpanID() {
		return sc.SpanID().String()
	}
	return ""
}

// TracingMiddleware creates an HTTP middleware that starts a root span for
// each request, extracts W3C traceparent from inbound headers, and injects
// trace context into the response.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Extract trace context from inbound request headers.
		propagator := otel.GetTextMapPropagator()
		ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		spanName := r.Method + " " + r.URL.Path
		ctx, span := Tracer().Start(ctx, spanName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.URLPath(r.URL.Path),
			),
		)
		defer span.End()

		// Wrap writer to capture status code.
		sw := &tracingStatusWriter{ResponseWriter: w, status: http.StatusOK}

		// Inject trace context into response headers.
		propagator.Inject(ctx, propagation.HeaderCarrier(w.Header()))

		next.ServeHTTP(sw, r.WithContext(ctx))

		// Set span attributes based on response.
		span.SetAttributes(semconv.HTTPResponseStatusCode(sw.status))
		if sw.status >= 500 {
			span.SetStatus(codes.Error, http.StatusText(sw.status))
		}
	})
}

// InjectTraceHeaders injects the current trace context into outbound HTTP
// request headers for propagation to backend services.
func InjectTraceHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}

// tracingStatusWriter wraps http.ResponseWriter to capture the status code.
type tracingStatusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *tracingStatusWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *tracingStatusWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}

func (w *tracingStatusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.status = http.StatusSwitchingProtocols
	w.written = true
	return hijack(w.ResponseWriter)
}
