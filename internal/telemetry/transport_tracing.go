package telemetry

import (
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// HTTPClientTracerName is the name used for the outbound HTTP tracer
	HTTPClientTracerName = "github.com/lightspeed-core/lightspeed-to-dataverse-exporter/http"
)

// TracingTransport wraps base so every outbound request runs inside a client
// span with W3C Trace Context headers injected. If provider is nil, base is
// returned untouched.
func TracingTransport(provider trace.TracerProvider, base http.RoundTripper) http.RoundTripper {
	if provider == nil {
		return base
	}
	if base == nil {
		base = http.DefaultTransport
	}

	return &tracingTransport{
		base:       base,
		tracer:     provider.Tracer(HTTPClientTracerName),
		propagator: otel.GetTextMapPropagator(),
	}
}

type tracingTransport struct {
	base       http.RoundTripper
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

func (t *tracingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Name by method and host, not path: upload paths carry no useful
	// grouping and auth URLs carry tenant identifiers.
	ctx, span := t.tracer.Start(req.Context(),
		fmt.Sprintf("%s %s", req.Method, req.URL.Host),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(req.Method),
			semconv.ServerAddress(req.URL.Host),
			semconv.URLPath(req.URL.Path),
		),
	)
	defer span.End()

	// RoundTrippers must not mutate the caller's request
	req = req.Clone(ctx)
	t.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, err
	}

	span.SetAttributes(semconv.HTTPResponseStatusCode(resp.StatusCode))
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return resp, nil
}
