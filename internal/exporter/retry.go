package exporter

import (
	"time"

	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/internal/shutdown"
)

// RetryDecision is the retry policy's verdict on a failed cycle.
type RetryDecision struct {
	// Retry is true when the cycle should be attempted again after Wait.
	Retry bool
	// Wait is how long to pause before the next attempt. Zero when Retry
	// is false.
	Wait time.Duration
}

// giveUp is the terminal decision.
var giveUp = RetryDecision{}

// shouldRetry decides whether a failed collection cycle is retried. It is a
// pure function of the error, the shutdown state observed after the cycle,
// and the configured retry interval:
//
//   - fatal errors are never retried,
//   - transient errors are retried indefinitely while the process is
//     running; there is no attempt cap, the only exits are success or a
//     termination request,
//   - once termination has been requested, retrying would only delay it,
//     so the policy gives up immediately and leaves the shutdown handling
//     to the controller.
func shouldRetry(err error, state shutdown.State, retryInterval time.Duration) RetryDecision {
	if err == nil || !IsTransient(err) {
		return giveUp
	}
	if state != shutdown.Running {
		return giveUp
	}
	return RetryDecision{Retry: true, Wait: retryInterval}
}
