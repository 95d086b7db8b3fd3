package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// collectScope gathers recorded metrics and returns the named scope, or nil
func collectScope(t *testing.T, reader *sdkmetric.ManualReader, scopeName string) *metricdata.ScopeMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	for i := range rm.ScopeMetrics {
		if rm.ScopeMetrics[i].Scope.Name == scopeName {
			return &rm.ScopeMetrics[i]
		}
	}
	return nil
}

func TestNewCycleMetrics(t *testing.T) {
	t.Parallel()

	t.Run("returns nil when provider is nil", func(t *testing.T) {
		t.Parallel()

		metrics, err := NewCycleMetrics(nil)
		require.NoError(t, err)
		assert.Nil(t, metrics)
	})

	t.Run("creates metrics with SDK provider", func(t *testing.T) {
		t.Parallel()

		mp := sdkmetric.NewMeterProvider()
		defer func() { _ = mp.Shutdown(context.Background()) }()

		metrics, err := NewCycleMetrics(mp)
		require.NoError(t, err)
		assert.NotNil(t, metrics)
		assert.NotNil(t, metrics.cyclesTotal)
		assert.NotNil(t, metrics.cycleDuration)
	})
}

func TestCycleMetrics_RecordCycle(t *testing.T) {
	t.Parallel()

	t.Run("no-op when metrics is nil", func(t *testing.T) {
		t.Parallel()

		var metrics *CycleMetrics
		// Should not panic
		metrics.RecordCycle(context.Background(), "continuous", time.Second, "success")
	})

	t.Run("records counter and histogram with attributes", func(t *testing.T) {
		t.Parallel()

		reader := sdkmetric.NewManualReader()
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		defer func() { _ = mp.Shutdown(context.Background()) }()

		metrics, err := NewCycleMetrics(mp)
		require.NoError(t, err)
		require.NotNil(t, metrics)

		metrics.RecordCycle(context.Background(), "continuous", 1500*time.Millisecond, "success")
		metrics.RecordCycle(context.Background(), "continuous", 200*time.Millisecond, "transient")

		scope := collectScope(t, reader, CycleMetricsMeterName)
		require.NotNil(t, scope, "expected cycle metrics scope")

		for _, m := range scope.Metrics {
			switch m.Name {
			case "lightspeed_exporter_collection_cycles_total":
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok, "expected int64 sum data type")
				// One data point per outcome label
				assert.Len(t, sum.DataPoints, 2)
			case "lightspeed_exporter_collection_cycle_duration_seconds":
				hist, ok := m.Data.(metricdata.Histogram[float64])
				require.True(t, ok, "expected histogram data type")
				require.NotEmpty(t, hist.DataPoints)
			}
		}
	})

	t.Run("records duration in seconds", func(t *testing.T) {
		t.Parallel()

		reader := sdkmetric.NewManualReader()
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		defer func() { _ = mp.Shutdown(context.Background()) }()

		metrics, err := NewCycleMetrics(mp)
		require.NoError(t, err)

		metrics.RecordCycle(context.Background(), "single-shot", 2500*time.Millisecond, "success")

		scope := collectScope(t, reader, CycleMetricsMeterName)
		require.NotNil(t, scope)

		for _, m := range scope.Metrics {
			if m.Name == "lightspeed_exporter_collection_cycle_duration_seconds" {
				hist, ok := m.Data.(metricdata.Histogram[float64])
				require.True(t, ok)
				require.NotEmpty(t, hist.DataPoints)
				assert.InDelta(t, 2.5, hist.DataPoints[0].Sum, 0.001)
			}
		}
	})
}

func TestCollectionMetrics(t *testing.T) {
	t.Parallel()

	t.Run("returns nil when provider is nil", func(t *testing.T) {
		t.Parallel()

		metrics, err := NewCollectionMetrics(nil)
		require.NoError(t, err)
		assert.Nil(t, metrics)
	})

	t.Run("no-op when metrics is nil", func(t *testing.T) {
		t.Parallel()

		var metrics *CollectionMetrics
		metrics.RecordPendingFiles(context.Background(), 3)
		metrics.RecordCollectedFiles(context.Background(), 3)
	})

	t.Run("records pending and collected files", func(t *testing.T) {
		t.Parallel()

		reader := sdkmetric.NewManualReader()
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		defer func() { _ = mp.Shutdown(context.Background()) }()

		metrics, err := NewCollectionMetrics(mp)
		require.NoError(t, err)
		require.NotNil(t, metrics)

		metrics.RecordPendingFiles(context.Background(), 12)
		metrics.RecordCollectedFiles(context.Background(), 12)
		metrics.RecordCollectedFiles(context.Background(), 5)

		scope := collectScope(t, reader, CollectionMetricsMeterName)
		require.NotNil(t, scope, "expected collection metrics scope")

		for _, m := range scope.Metrics {
			switch m.Name {
			case "lightspeed_exporter_pending_files":
				gauge, ok := m.Data.(metricdata.Gauge[int64])
				require.True(t, ok, "expected int64 gauge data type")
				require.NotEmpty(t, gauge.DataPoints)
				assert.Equal(t, int64(12), gauge.DataPoints[0].Value)
			case "lightspeed_exporter_collected_files_total":
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok, "expected int64 sum data type")
				require.NotEmpty(t, sum.DataPoints)
				assert.Equal(t, int64(17), sum.DataPoints[0].Value)
			}
		}
	})
}

func TestIngressMetrics(t *testing.T) {
	t.Parallel()

	t.Run("returns nil when provider is nil", func(t *testing.T) {
		t.Parallel()

		metrics, err := NewIngressMetrics(nil)
		require.NoError(t, err)
		assert.Nil(t, metrics)
	})

	t.Run("no-op when metrics is nil", func(t *testing.T) {
		t.Parallel()

		var metrics *IngressMetrics
		metrics.RecordUpload(context.Background(), 1024)
		metrics.RecordUploadError(context.Background(), "transport")
	})

	t.Run("records upload bytes and errors", func(t *testing.T) {
		t.Parallel()

		reader := sdkmetric.NewManualReader()
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		defer func() { _ = mp.Shutdown(context.Background()) }()

		metrics, err := NewIngressMetrics(mp)
		require.NoError(t, err)
		require.NotNil(t, metrics)

		metrics.RecordUpload(context.Background(), 2048)
		metrics.RecordUpload(context.Background(), 1024)
		metrics.RecordUploadError(context.Background(), "status")

		scope := collectScope(t, reader, IngressMetricsMeterName)
		require.NotNil(t, scope, "expected ingress metrics scope")

		for _, m := range scope.Metrics {
			switch m.Name {
			case "lightspeed_exporter_uploaded_bytes_total":
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok, "expected int64 sum data type")
				require.NotEmpty(t, sum.DataPoints)
				assert.Equal(t, int64(3072), sum.DataPoints[0].Value)
			case "lightspeed_exporter_upload_errors_total":
				sum, ok := m.Data.(metricdata.Sum[int64])
				require.True(t, ok, "expected int64 sum data type")
				require.NotEmpty(t, sum.DataPoints)
				assert.Equal(t, int64(1), sum.DataPoints[0].Value)
			}
		}
	})
}
