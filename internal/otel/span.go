// Package otel provides OpenTelemetry instrumentation utilities for the
// exporter.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for business context used across the application.
// Using shared keys ensures consistent attribute naming in traces.
const (
	AttrCycleID    = attribute.Key("cycle.id")
	AttrRunMode    = attribute.Key("run.mode")
	AttrFileCount  = attribute.Key("collection.files")
	AttrChunkCount = attribute.Key("collection.chunks")
	AttrChunkBytes = attribute.Key("upload.bytes")
	AttrRequestID  = attribute.Key("ingress.request_id")
)

// StartSpan starts a new span if the tracer is non-nil, otherwise returns a no-op span.
// This provides graceful degradation when tracing is disabled.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records an error on a span and sets the span status to error.
// It safely handles nil spans and nil errors. The status description stays
// generic so upload URLs and tokens never leak into trace status.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
