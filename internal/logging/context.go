package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type requestCtxKey struct{}
type analysisCtxKey struct{}

// WithRequestID stores the HTTP request ID in the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext returns the request ID or "".
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return v
	}
	return ""
}

// WithAnalysisID stores the analysis ID in the context. Background work
// spawned for an analysis carries it so logs correlate across goroutines.
func WithAnalysisID(ctx context.Context, analysisID string) context.Context {
	if analysisID == "" {
		return ctx
	}
	return context.WithValue(ctx, analysisCtxKey{}, analysisID)
}

// AnalysisIDFromContext returns the analysis ID or "".
func AnalysisIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(analysisCtxKey{}).(string); ok {
		return v
	}
	return ""
}

// ContextFields extracts correlation fields from the context: the active
// trace/span, the request ID, and the analysis ID when present.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 4)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}
	if analysisID := AnalysisIDFromContext(ctx); analysisID != "" {
		fields = append(fields, zap.String("analysis.id", analysisID))
	}
	return fields
}

// For extracts a child logger carrying the context's correlation fields.
func For(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if fields := ContextFields(ctx); len(fields) > 0 {
		return logger.With(fields...)
	}
	return logger
}
