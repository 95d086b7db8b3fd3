package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewRootCmd registers flags on package-level state, so it can only run
// once per test binary.
func TestNewRootCmd(t *testing.T) {
	resetViper(t)

	cmd := NewRootCmd()
	assert.Equal(t, "lightspeed-exporter", cmd.Use)

	flags := cmd.PersistentFlags()
	for _, name := range []string{
		"mode", "config", "data-dir", "service-id", "ingress-server-url",
		"collection-interval", "no-cleanup", "ops-address", "telemetry",
	} {
		assert.NotNil(t, flags.Lookup(name), "flag %s not registered", name)
	}

	mode, err := flags.GetString("mode")
	require.NoError(t, err)
	assert.Equal(t, "openshift", mode)

	var hasVersion bool
	for _, sub := range cmd.Commands() {
		if sub.Use == "version" {
			hasVersion = true
		}
	}
	assert.True(t, hasVersion)
}
