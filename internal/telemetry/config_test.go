package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_GetServiceName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		config   *Config
		expected string
	}{
		{
			name:     "returns default when empty",
			config:   &Config{},
			expected: DefaultServiceName,
		},
		{
			name: "returns configured value",
			config: &Config{
				ServiceName: "my-exporter",
			},
			expected: "my-exporter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.config.GetServiceName())
		})
	}
}

func TestConfig_GetServiceVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		config   *Config
		expected string
	}{
		{
			name:     "returns unknown when empty",
			config:   &Config{},
			expected: "unknown",
		},
		{
			name: "returns configured value",
			config: &Config{
				ServiceVersion: "1.2.3",
			},
			expected: "1.2.3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.config.GetServiceVersion())
		})
	}
}

func TestConfig_GetEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		config   *Config
		expected string
	}{
		{
			name:     "returns default when empty",
			config:   &Config{},
			expected: DefaultEndpoint,
		},
		{
			name: "returns configured value",
			config: &Config{
				Endpoint: "collector.example.com:4318",
			},
			expected: "collector.example.com:4318",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.config.GetEndpoint())
		})
	}
}

func TestTracingConfig_GetSampling(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		config   *TracingConfig
		expected float64
	}{
		{
			name:     "returns default when unset",
			config:   &TracingConfig{},
			expected: DefaultSampling,
		},
		{
			name: "returns configured value",
			config: &TracingConfig{
				Sampling: 0.25,
			},
			expected: 0.25,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.config.GetSampling())
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  *Config
		wantErr string
	}{
		{
			name:   "nil config is valid",
			config: nil,
		},
		{
			name:   "disabled config is valid",
			config: &Config{Enabled: false},
		},
		{
			name: "disabled config skips section validation",
			config: &Config{
				Enabled: false,
				Tracing: &TracingConfig{Enabled: true, Sampling: 5.0},
			},
		},
		{
			name: "enabled with valid sections",
			config: &Config{
				Enabled: true,
				Tracing: &TracingConfig{Enabled: true, Sampling: 0.5},
				Metrics: &MetricsConfig{Enabled: true, Prometheus: true},
			},
		},
		{
			name: "sampling above one is rejected",
			config: &Config{
				Enabled: true,
				Tracing: &TracingConfig{Enabled: true, Sampling: 1.5},
			},
			wantErr: "sampling must be between 0.0 and 1.0",
		},
		{
			name: "negative sampling is rejected",
			config: &Config{
				Enabled: true,
				Tracing: &TracingConfig{Enabled: true, Sampling: -0.1},
			},
			wantErr: "sampling must be between 0.0 and 1.0",
		},
		{
			name: "metrics without an exporter is rejected",
			config: &Config{
				Enabled: true,
				Metrics: &MetricsConfig{Enabled: true},
			},
			wantErr: "neither otlp nor prometheus",
		},
		{
			name: "disabled metrics section needs no exporter",
			config: &Config{
				Enabled: true,
				Metrics: &MetricsConfig{Enabled: false},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.config.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
