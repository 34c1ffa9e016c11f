package observability

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/surety/internal/config"
	"github.com/pitabwire/surety/model"
)

// Context key for the logger.
type loggerKey struct{}

// NewLogger creates a zap.Logger configured for JSON output to stdout.
//
// Log level usage conventions:
//   - error: Infrastructure failures (DB down, unhandled panics), 5xx responses
//   - warn:  Client errors (4xx), degraded operation (circuit breaker open), failed uploads
//   - info:  Request start/end, logins, socket connects, definition loads
//   - debug: Dropped or malformed socket frames, wizard field edits (values
//     passed through RedactField)
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(level),
		Development: false,
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return zapCfg.Build()
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger stored in the context, or the provided
// fallback if none is found.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// RequestLogger returns the context logger enriched with the caller's
// subject, session, roles and correlation ids.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)

	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return logger
	}

	fields := []zap.Field{
		zap.String("subject_id", rctx.SubjectID),
		zap.String("correlation_id", rctx.CorrelationID),
	}
	if rctx.SessionID != "" {
		fields = append(fields, zap.String("session_id", rctx.SessionID))
	}
	if len(rctx.Roles) > 0 {
		fields = append(fields, zap.Strings("roles", rctx.Roles))
	}
	if rctx.TraceID != "" {
		fields = append(fields, zap.String("trace_id", rctx.TraceID))
	}

	return logger.With(fields...)
}

// WizardLogger is RequestLogger scoped to one wizard step.
func WizardLogger(ctx context.Context, fallback *zap.Logger, wizardID, stepID string) *zap.Logger {
	return RequestLogger(ctx, fallback).With(
		zap.String("wizard_id", wizardID),
		zap.String("step_id", stepID),
	)
}

const redacted = "[REDACTED]"

// sensitiveFields holds lower-cased names whose values never reach the
// logs: credentials and the personal contact details captured for
// occupants and witnesses.
var sensitiveFields = map[string]bool{
	"password":      true,
	"token":         true,
	"accesstoken":   true,
	"refreshtoken":  true,
	"authorization": true,
	"contact":       true,
	"phone":         true,
	"phonenumber":   true,
}

func isSensitive(name string, extra []string) bool {
	lower := strings.ToLower(name)
	if sensitiveFields[lower] {
		return true
	}
	for _, f := range extra {
		if strings.EqualFold(f, name) {
			return true
		}
	}
	return false
}

// RedactField returns the value of a wizard field safe for debug logging.
// Sensitive fields are replaced whole; group entries have their sensitive
// keys replaced.
func RedactField(name string, value any) any {
	if isSensitive(name, nil) {
		return redacted
	}
	return redactValue(value, nil)
}

// RedactBody returns a copy of body with sensitive fields replaced by
// "[REDACTED]", descending into nested objects and group entries. extra
// names are redacted in addition to the built-in set.
func RedactBody(body map[string]any, extra []string) map[string]any {
	if body == nil {
		return nil
	}
	result := make(map[string]any, len(body))
	for k, v := range body {
		if isSensitive(k, extra) {
			result[k] = redacted
			continue
		}
		result[k] = redactValue(v, extra)
	}
	return result
}

func redactValue(v any, extra []string) any {
	switch val := v.(type) {
	case map[string]any:
		return RedactBody(val, extra)
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, s := range val {
			if isSensitive(k, extra) {
				s = redacted
			}
			out[k] = s
		}
		return out
	case []map[string]string:
		out := make([]map[string]string, len(val))
		for i, entry := range val {
			out[i] = redactValue(entry, extra).(map[string]string)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redactValue(item, extra)
		}
		return out
	default:
		return v
	}
}
