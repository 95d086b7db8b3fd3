package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// CycleMetricsMeterName is the name used for the collection cycle metrics meter
	CycleMetricsMeterName = "github.com/lightspeed-core/lightspeed-to-dataverse-exporter/exporter"

	// CollectionMetricsMeterName is the name used for the file collection metrics meter
	CollectionMetricsMeterName = "github.com/lightspeed-core/lightspeed-to-dataverse-exporter/collector"

	// IngressMetricsMeterName is the name used for the upload metrics meter
	IngressMetricsMeterName = "github.com/lightspeed-core/lightspeed-to-dataverse-exporter/ingress"
)

// CycleMetrics holds the OpenTelemetry instruments for collection cycle metrics
type CycleMetrics struct {
	cyclesTotal   metric.Int64Counter
	cycleDuration metric.Float64Histogram
}

// NewCycleMetrics creates a new CycleMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewCycleMetrics(provider metric.MeterProvider) (*CycleMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(CycleMetricsMeterName)

	cyclesTotal, err := meter.Int64Counter(
		"lightspeed_exporter_collection_cycles_total",
		metric.WithDescription("Number of collection cycles by outcome"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, err
	}

	cycleDuration, err := meter.Float64Histogram(
		"lightspeed_exporter_collection_cycle_duration_seconds",
		metric.WithDescription("Duration of collection cycles in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	return &CycleMetrics{
		cyclesTotal:   cyclesTotal,
		cycleDuration: cycleDuration,
	}, nil
}

// RecordCycle records one finished collection cycle with its mode and outcome
func (m *CycleMetrics) RecordCycle(ctx context.Context, mode string, duration time.Duration, outcome string) {
	if m == nil || m.cyclesTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	}

	m.cyclesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.cycleDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// CollectionMetrics holds the OpenTelemetry instruments for file collection metrics
type CollectionMetrics struct {
	pendingFiles   metric.Int64Gauge
	collectedFiles metric.Int64Counter
}

// NewCollectionMetrics creates a new CollectionMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewCollectionMetrics(provider metric.MeterProvider) (*CollectionMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(CollectionMetricsMeterName)

	pendingFiles, err := meter.Int64Gauge(
		"lightspeed_exporter_pending_files",
		metric.WithDescription("Number of data files found in the last discovery pass"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		return nil, err
	}

	collectedFiles, err := meter.Int64Counter(
		"lightspeed_exporter_collected_files_total",
		metric.WithDescription("Number of data files packaged and handed to upload"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		return nil, err
	}

	return &CollectionMetrics{
		pendingFiles:   pendingFiles,
		collectedFiles: collectedFiles,
	}, nil
}

// RecordPendingFiles records the number of files discovered in a pass
func (m *CollectionMetrics) RecordPendingFiles(ctx context.Context, count int64) {
	if m == nil || m.pendingFiles == nil {
		return
	}

	m.pendingFiles.Record(ctx, count)
}

// RecordCollectedFiles counts files that were packaged for upload
func (m *CollectionMetrics) RecordCollectedFiles(ctx context.Context, count int64) {
	if m == nil || m.collectedFiles == nil {
		return
	}

	m.collectedFiles.Add(ctx, count)
}

// IngressMetrics holds the OpenTelemetry instruments for upload metrics
type IngressMetrics struct {
	uploadedBytes metric.Int64Counter
	uploadErrors  metric.Int64Counter
}

// NewIngressMetrics creates a new IngressMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewIngressMetrics(provider metric.MeterProvider) (*IngressMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(IngressMetricsMeterName)

	uploadedBytes, err := meter.Int64Counter(
		"lightspeed_exporter_uploaded_bytes_total",
		metric.WithDescription("Bytes of packaged data accepted by the ingress service"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	uploadErrors, err := meter.Int64Counter(
		"lightspeed_exporter_upload_errors_total",
		metric.WithDescription("Number of failed upload attempts by reason"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &IngressMetrics{
		uploadedBytes: uploadedBytes,
		uploadErrors:  uploadErrors,
	}, nil
}

// RecordUpload records a successfully accepted upload of the given size
func (m *IngressMetrics) RecordUpload(ctx context.Context, bytes int64) {
	if m == nil || m.uploadedBytes == nil {
		return
	}

	m.uploadedBytes.Add(ctx, bytes)
}

// RecordUploadError counts a failed upload attempt. Reason is a low
// cardinality label such as "transport", "status" or "auth".
func (m *IngressMetrics) RecordUploadError(ctx context.Context, reason string) {
	if m == nil || m.uploadErrors == nil {
		return
	}

	m.uploadErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}
