package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	prev := otel.GetTracerProvider()
	sr := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(sr)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return sr
}

func attrValue(attrs []attribute.KeyValue, key attribute.Key) string {
	for _, kv := range attrs {
		if kv.Key == key {
			return kv.Value.Emit()
		}
	}
	return ""
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ServiceName != "sfucore" {
		t.Errorf("expected service name 'sfucore', got '%s'", cfg.ServiceName)
	}
	if cfg.Enabled {
		t.Error("tracing should be disabled by default")
	}
	if cfg.SampleRate != 1.0 {
		t.Errorf("expected sample rate 1.0, got %f", cfg.SampleRate)
	}
}

func TestInit_DisabledIsNoop(t *testing.T) {
	tp, err := Init(Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestTraceController_RecordsAttributes(t *testing.T) {
	sr := withRecorder(t)

	ctx, span := TraceController(context.Background(), "join", "42", "alice")
	if TraceIDFromContext(ctx) == "" {
		t.Error("expected a trace id on the context")
	}
	span.End()

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 ended span, got %d", len(ended))
	}
	if ended[0].Name() != "controller.join" {
		t.Errorf("span name = %q", ended[0].Name())
	}
	if got := attrValue(ended[0].Attributes(), RoomIDKey); got != "42" {
		t.Errorf("room.id = %q, want 42", got)
	}
	if got := attrValue(ended[0].Attributes(), UserIDKey); got != "alice" {
		t.Errorf("user.id = %q, want alice", got)
	}
}

func TestRecordError_SetsStatus(t *testing.T) {
	sr := withRecorder(t)

	ctx, span := StartSpan(context.Background(), "test")
	RecordError(ctx, errors.New("engine rejected produce"))
	RecordError(ctx, nil)
	span.End()

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 ended span, got %d", len(ended))
	}
	if ended[0].Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", ended[0].Status().Code)
	}
	if len(ended[0].Events()) != 1 {
		t.Errorf("expected one exception event, got %d", len(ended[0].Events()))
	}
}

func TestSpanHelpers_WithoutProvider(t *testing.T) {
	ctx := context.Background()

	_, span := TraceHTTPRequest(ctx, "POST", "/room/:roomId/user/:userId/join")
	span.End()

	_, span = TraceWebSocketMessage(ctx, "join", "bob")
	span.End()

	ctx2, span := TraceRoomInit(ctx, "7", "worker-1")
	AddSpanAttributes(ctx2, MediaKindKey.String("audio"))
	span.End()
}
