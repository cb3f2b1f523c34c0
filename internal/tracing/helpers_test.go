package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return rec
}

func attrMap(span sdktrace.ReadOnlySpan) map[attribute.Key]string {
	m := make(map[attribute.Key]string)
	for _, kv := range span.Attributes() {
		m[kv.Key] = kv.Value.Emit()
	}
	return m
}

func TestSpans_NestAndRecord(t *testing.T) {
	rec := recordSpans(t)

	ctx, endOpen := StartSpan(context.Background(), "viewer.open")
	SetAttributes(ctx, attribute.String("tour.id", "42"))

	_, endFetch := StartClientSpan(ctx, PeerProjectAPI, "fetch_tour", "https://projects.example/tours/42")
	endFetch(nil)

	_, endFace := StartClientSpan(ctx, PeerAssetStore, "get", "")
	endFace(errors.New("face 3 missing"))

	endOpen(nil)

	spans := rec.Ended()
	if len(spans) != 3 {
		t.Fatalf("ended %d spans, want 3", len(spans))
	}
	fetch, face, open := spans[0], spans[1], spans[2]

	if open.Name() != "viewer.open" || attrMap(open)["tour.id"] != "42" {
		t.Errorf("open span = %s %v", open.Name(), attrMap(open))
	}
	if open.Status().Code == codes.Error {
		t.Error("open span should not carry an error")
	}

	if fetch.Name() != "fetch_tour project_api" || fetch.SpanKind() != trace.SpanKindClient {
		t.Errorf("fetch span = %s (%s)", fetch.Name(), fetch.SpanKind())
	}
	if got := attrMap(fetch); got["peer.service"] != "project_api" || got["client.target"] == "" {
		t.Errorf("fetch attributes = %v", got)
	}
	for _, child := range []sdktrace.ReadOnlySpan{fetch, face} {
		if child.Parent().SpanID() != open.SpanContext().SpanID() {
			t.Errorf("%s is not a child of viewer.open", child.Name())
		}
	}

	if _, ok := attrMap(face)["client.target"]; ok {
		t.Error("empty target should not be recorded")
	}
	if face.Status().Code != codes.Error || face.Status().Description != "face 3 missing" {
		t.Errorf("face status = %+v", face.Status())
	}
	if len(face.Events()) != 1 || face.Events()[0].Name != "exception" {
		t.Errorf("face events = %v, want one exception", face.Events())
	}
}

func TestSetAttributes_NoSpan(t *testing.T) {
	// Must not panic without an active span.
	SetAttributes(context.Background(), attribute.String("scene.id", "lobby"))
}
