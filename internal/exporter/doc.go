// Package exporter contains the execution controller that drives periodic
// data collection.
//
// The controller alternates between one collection cycle and one
// interruptible wait. The configured interval selects the run mode: zero
// means one cycle and exit, anything else means loop until terminated.
// Scheduling is drift-compensated, so each cycle is due one interval after
// the previous cycle started rather than after it finished.
//
// Failures split into two classes. Transient failures (wrapped by
// Transient) are retried indefinitely on a fixed interval; everything else
// is fatal and ends the run. Termination requests are only acted on at
// checkpoints between cycles and during waits, never by preempting a
// collection in flight. A graceful shutdown performs one final collection
// before exiting; an abort skips it.
package exporter
