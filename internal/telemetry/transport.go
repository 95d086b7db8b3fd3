package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// HTTPClientMetricsMeterName is the name used for the outbound HTTP metrics meter
	HTTPClientMetricsMeterName = "github.com/lightspeed-core/lightspeed-to-dataverse-exporter/http"
)

// HTTPClientMetrics holds the OpenTelemetry instruments for outbound HTTP
// requests made against the ingress and auth services
type HTTPClientMetrics struct {
	requestDuration metric.Float64Histogram
	requestsTotal   metric.Int64Counter
	activeRequests  metric.Int64UpDownCounter
}

// NewHTTPClientMetrics creates a new HTTPClientMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewHTTPClientMetrics(provider metric.MeterProvider) (*HTTPClientMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(HTTPClientMetricsMeterName)

	requestDuration, err := meter.Float64Histogram(
		"lightspeed_exporter_http_request_duration_seconds",
		metric.WithDescription("Duration of outbound HTTP requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, err
	}

	requestsTotal, err := meter.Int64Counter(
		"lightspeed_exporter_http_requests_total",
		metric.WithDescription("Total number of outbound HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	activeRequests, err := meter.Int64UpDownCounter(
		"lightspeed_exporter_http_active_requests",
		metric.WithDescription("Number of currently in-flight outbound HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &HTTPClientMetrics{
		requestDuration: requestDuration,
		requestsTotal:   requestsTotal,
		activeRequests:  activeRequests,
	}, nil
}

// Transport wraps base with per-request metric recording. If the metrics are
// nil, base is returned untouched so disabled telemetry costs nothing.
func (m *HTTPClientMetrics) Transport(base http.RoundTripper) http.RoundTripper {
	if m == nil {
		return base
	}
	if base == nil {
		base = http.DefaultTransport
	}

	return &metricsTransport{base: base, metrics: m}
}

type metricsTransport struct {
	base    http.RoundTripper
	metrics *HTTPClientMetrics
}

func (t *metricsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Capture context at the start - it may be cancelled by the time the
	// response arrives
	ctx := req.Context()
	start := time.Now()

	t.metrics.activeRequests.Add(ctx, 1)
	resp, err := t.base.RoundTrip(req)
	t.metrics.activeRequests.Add(ctx, -1)

	// Attribute by host, never the full URL: request IDs and upload paths
	// would explode cardinality.
	status := "error"
	if err == nil {
		status = strconv.Itoa(resp.StatusCode)
	}
	attrs := []attribute.KeyValue{
		attribute.String("method", req.Method),
		attribute.String("host", req.URL.Host),
		attribute.String("status_code", status),
	}

	duration := time.Since(start).Seconds()
	t.metrics.requestDuration.Record(ctx, duration, metric.WithAttributes(attrs...))
	t.metrics.requestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	return resp, err
}
