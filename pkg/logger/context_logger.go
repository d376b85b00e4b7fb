package logger

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type ctxKey string

// Context keys understood by ContextLogger.
const (
	TraceIDKey   ctxKey = "trace_id"
	RequestIDKey ctxKey = "request_id"
	RoomIDKey    ctxKey = "room_id"
	UserIDKey    ctxKey = "user_id"
)

var contextKeys = [...]ctxKey{TraceIDKey, RequestIDKey, RoomIDKey, UserIDKey}

// WithValue stores a log field on ctx.
func WithValue(ctx context.Context, key ctxKey, value string) context.Context {
	return context.WithValue(ctx, key, value)
}

// ContextLogger adds the ids carried by a request context to every entry,
// so the REST and websocket paths log the same correlation fields.
type ContextLogger struct {
	logger *zap.Logger
}

func NewContextLogger(logger *zap.Logger) *ContextLogger {
	return &ContextLogger{logger: logger}
}

// For returns the logger annotated with the ids set on ctx.
func (cl *ContextLogger) For(ctx context.Context) *zap.Logger {
	var fields []zap.Field
	for _, key := range contextKeys {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			fields = append(fields, zap.String(string(key), v))
		}
	}
	if len(fields) == 0 {
		return cl.logger
	}
	return cl.logger.With(fields...)
}

// Sugar is For in the key/value style used across the services.
func (cl *ContextLogger) Sugar(ctx context.Context) *zap.SugaredLogger {
	return cl.For(ctx).Sugar()
}

// LogRequest writes the access log line of one HTTP request.
func (cl *ContextLogger) LogRequest(ctx context.Context, method, path string, statusCode int, elapsed time.Duration) {
	cl.For(ctx).Info("http_request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status_code", statusCode),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	)
}
