package exporter

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/internal/shutdown"
)

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	retryInterval := 30 * time.Second

	tests := []struct {
		name     string
		err      error
		state    shutdown.State
		expected RetryDecision
	}{
		{
			name:     "nil error never retries",
			err:      nil,
			state:    shutdown.Running,
			expected: RetryDecision{},
		},
		{
			name:     "transient error while running retries after the interval",
			err:      Transient(errors.New("connection refused")),
			state:    shutdown.Running,
			expected: RetryDecision{Retry: true, Wait: retryInterval},
		},
		{
			name:     "wrapped transient error retries",
			err:      fmt.Errorf("collection cycle: %w", Transient(errors.New("timeout"))),
			state:    shutdown.Running,
			expected: RetryDecision{Retry: true, Wait: retryInterval},
		},
		{
			name:     "fatal error never retries",
			err:      errors.New("tarball too large"),
			state:    shutdown.Running,
			expected: RetryDecision{},
		},
		{
			name:     "shutdown requested gives up",
			err:      Transient(errors.New("connection refused")),
			state:    shutdown.ShutdownRequested,
			expected: RetryDecision{},
		},
		{
			name:     "abort requested gives up",
			err:      Transient(errors.New("connection refused")),
			state:    shutdown.AbortRequested,
			expected: RetryDecision{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			decision := shouldRetry(tt.err, tt.state, retryInterval)
			assert.Equal(t, tt.expected, decision)
		})
	}
}
