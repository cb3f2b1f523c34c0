package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// instrumentation scope of every span started here.
const scope = "github.com/onnwee/panotour"

// Peer names an outbound dependency of the viewer service.
type Peer string

const (
	PeerProjectAPI Peer = "project_api" // tour documents
	PeerAssetStore Peer = "asset_store" // scene faces, previews and audio
	PeerRedis      Peer = "redis"
)

// EndFunc ends a span, recording err on it when non-nil.
type EndFunc func(err error)

func ender(span trace.Span) EndFunc {
	return func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// StartClientSpan starts a client span named "<operation> <peer>" for a call
// to peer. target is the URL or object key fetched and may be empty.
//
//	ctx, end := tracing.StartClientSpan(ctx, tracing.PeerAssetStore, "get", faceURL)
//	defer func() { end(err) }()
func StartClientSpan(ctx context.Context, peer Peer, operation, target string) (context.Context, EndFunc) {
	attrs := []attribute.KeyValue{
		attribute.String("peer.service", string(peer)),
		attribute.String("client.operation", operation),
	}
	if target != "" {
		attrs = append(attrs, attribute.String("client.target", target))
	}
	ctx, span := otel.Tracer(scope).Start(ctx, operation+" "+string(peer),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	return ctx, ender(span)
}

// StartSpan starts an internal span such as "viewer.open".
func StartSpan(ctx context.Context, name string) (context.Context, EndFunc) {
	ctx, span := otel.Tracer(scope).Start(ctx, name)
	return ctx, ender(span)
}

// SetAttributes annotates the span carried by ctx, if any.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}
