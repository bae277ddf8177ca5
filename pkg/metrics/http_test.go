package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceExemplarLabels_WithSpan(t *testing.T) {
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{9, 8, 7, 6, 5, 4, 3, 2},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	labels, ok := traceExemplarLabels(ctx)
	if !ok {
		t.Fatal("expected exemplar labels from valid span context")
	}
	if labels["trace_id"] != spanCtx.TraceID().String() {
		t.Fatalf("expected trace_id %s, got %s", spanCtx.TraceID().String(), labels["trace_id"])
	}
	if labels["span_id"] != spanCtx.SpanID().String() {
		t.Fatalf("expected span_id %s, got %s", spanCtx.SpanID().String(), labels["span_id"])
	}
}

func TestTraceExemplarLabels_WithoutSpan(t *testing.T) {
	labels, ok := traceExemplarLabels(context.Background())
	if ok {
		t.Fatalf("expected no exemplar labels without span, got %v", labels)
	}
}

func TestTraceExemplarLabels_Unsampled(t *testing.T) {
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{1},
		SpanID:  trace.SpanID{2},
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)
	if _, ok := traceExemplarLabels(ctx); ok {
		t.Fatal("expected no exemplar for an unsampled span")
	}
}

func TestRecordHTTPRequest_WithExemplar(t *testing.T) {
	m := NewManager(DefaultConfig())
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	m.RecordHTTPRequest(ctx, "POST", "/api/v1/users/{userID}/retrieve", "200", 12*time.Millisecond)
	m.RecordHTTPRequest(context.Background(), "POST", "/api/v1/users/{userID}/retrieve", "500", time.Millisecond)

	count := testutil.CollectAndCount(m.httpRequests)
	if count != 2 {
		t.Fatalf("expected 2 request series, got %d", count)
	}
	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "/api/v1/users/{userID}/retrieve", "200")); got != 1 {
		t.Fatalf("expected 1 request with status 200, got %v", got)
	}
}
