package logging

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	correlationIDKey
	callIDKey
)

// Canonical field names shared by the request path.
const (
	FieldRequestID     = "request_id"
	FieldCorrelationID = "correlation_id"
	FieldCallID        = "call_id"
)

// WithRequestID stores the request ID in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID returns the request ID stored in ctx, if any.
func GetRequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok && id != ""
}

// WithCorrelationID stores the correlation ID in ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// GetCorrelationID returns the correlation ID stored in ctx, if any.
func GetCorrelationID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(correlationIDKey).(string)
	return id, ok && id != ""
}

// WithCallID stores the audit call ID in ctx.
func WithCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callIDKey, id)
}

// GetCallID returns the audit call ID stored in ctx, if any.
func GetCallID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(callIDKey).(string)
	return id, ok && id != ""
}

// FromContext returns logger annotated with whatever IDs ctx carries.
func FromContext(ctx context.Context, logger *zap.Logger) *zap.Logger {
	var fields []zap.Field
	if id, ok := GetRequestID(ctx); ok {
		fields = append(fields, zap.String(FieldRequestID, id))
	}
	if id, ok := GetCorrelationID(ctx); ok {
		fields = append(fields, zap.String(FieldCorrelationID, id))
	}
	if id, ok := GetCallID(ctx); ok {
		fields = append(fields, zap.String(FieldCallID, id))
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}
