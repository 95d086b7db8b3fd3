package exporter

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/internal/otel"
	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/internal/shutdown"
	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/internal/telemetry"
	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/pkg/logger"
)

//go:generate mockgen -destination=mocks/mock_collector.go -package=mocks -source=controller.go Collector

// DefaultRetryInterval is how long the controller pauses between attempts
// after a transient failure when no retry interval is configured.
const DefaultRetryInterval = 5 * time.Minute

// Collector performs one full collection-and-upload cycle: discovery,
// packaging, and upload of one batch of pending records.
//
// A nil return is a successful cycle. Retriable failures are reported
// wrapped by Transient; any other error is fatal. Implementations must not
// retry internally (cycle-level retry belongs to the controller) and must
// honor ctx for their own I/O deadlines, but the controller never cancels a
// cycle it has started.
type Collector interface {
	CollectOnce(ctx context.Context) error
}

// RunMode says whether the controller performs one collection cycle or
// loops until terminated. It is derived once from the configured interval
// and never changes for the process lifetime.
type RunMode int

const (
	// SingleShot collects exactly once and exits; used for batch jobs
	// where an external scheduler owns re-invocation.
	SingleShot RunMode = iota
	// Continuous loops until a termination request arrives.
	Continuous
)

// String returns the mode name for logging.
func (m RunMode) String() string {
	switch m {
	case SingleShot:
		return "single-shot"
	case Continuous:
		return "continuous"
	default:
		return "unknown"
	}
}

// ExitStatus is the controller's verdict on how the process should exit.
type ExitStatus int

const (
	// ExitOk means the run completed successfully, including a run closed
	// out by a graceful shutdown.
	ExitOk ExitStatus = iota
	// ExitError means the run failed: a fatal error, a single-shot
	// failure, or a failed final collection.
	ExitError
	// ExitUserStopped means the operator aborted the run. Not a fault.
	ExitUserStopped
)

// String returns the status name for logging.
func (s ExitStatus) String() string {
	switch s {
	case ExitOk:
		return "ok"
	case ExitError:
		return "error"
	case ExitUserStopped:
		return "user-stopped"
	default:
		return "unknown"
	}
}

// Code maps the status to a process exit code. A user-initiated stop is an
// expected operator action, not a fault, so it exits zero.
func (s ExitStatus) Code() int {
	if s == ExitError {
		return 1
	}
	return 0
}

// Controller owns the collection run loop: mode dispatch, drift-compensated
// scheduling, indefinite retry on transient failures, and the
// shutdown/abort decision tree. It alternates strictly between one
// in-flight collection and one interruptible wait; there is never more than
// one outstanding cycle.
type Controller struct {
	collector Collector
	signal    *shutdown.Signal

	interval      time.Duration
	retryInterval time.Duration
	mode          RunMode

	log        *zap.SugaredLogger
	metrics    *telemetry.CycleMetrics
	tracer     trace.Tracer
	afterCycle func()
}

// Option configures a Controller.
type Option func(*Controller)

// WithRetryInterval overrides the pause between attempts after a transient
// failure.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Controller) {
		c.retryInterval = d
	}
}

// WithLogger sets the controller's logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Controller) {
		c.log = log
	}
}

// WithCycleMetrics sets the metrics recorded around each cycle.
func WithCycleMetrics(metrics *telemetry.CycleMetrics) Option {
	return func(c *Controller) {
		c.metrics = metrics
	}
}

// WithTracer enables a trace span per collection cycle.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Controller) {
		c.tracer = tracer
	}
}

// WithCycleObserver registers a callback invoked after every cycle
// attempt, successful or not. Readiness reporting hangs off it.
func WithCycleObserver(fn func()) Option {
	return func(c *Controller) {
		c.afterCycle = fn
	}
}

// New creates a controller collecting on the given interval. An interval of
// zero selects single-shot mode.
func New(collector Collector, signal *shutdown.Signal, interval time.Duration, opts ...Option) (*Controller, error) {
	if collector == nil {
		return nil, errors.New("collector is required")
	}
	if signal == nil {
		return nil, errors.New("shutdown signal is required")
	}
	if interval < 0 {
		return nil, errors.New("collection interval must not be negative")
	}

	c := &Controller{
		collector:     collector,
		signal:        signal,
		interval:      interval,
		retryInterval: DefaultRetryInterval,
		mode:          Continuous,
	}
	if interval == 0 {
		c.mode = SingleShot
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.retryInterval <= 0 {
		return nil, errors.New("retry interval must be positive")
	}
	if c.log == nil {
		c.log = logger.For("exporter")
	}

	return c, nil
}

// Mode returns the run mode derived from the configured interval.
func (c *Controller) Mode() RunMode {
	return c.mode
}

// Run executes the collection loop until it reaches a terminal state and
// reports how the process should exit. A canceled context is treated
// exactly like an abort trigger: the run stops without further collections
// and reports ExitUserStopped.
func (c *Controller) Run(ctx context.Context) ExitStatus {
	c.log.Infow("Starting data collection service",
		"mode", c.mode.String(),
		"interval", c.interval.String(),
		"retry_interval", c.retryInterval.String(),
	)

	if c.mode == SingleShot {
		return c.runSingleShot(ctx)
	}
	return c.runContinuous(ctx)
}

func (c *Controller) runSingleShot(ctx context.Context) ExitStatus {
	c.log.Info("Collection interval is not set, service will exit after one collection cycle")

	err := c.collect(ctx)
	if err == nil {
		return ExitOk
	}
	if c.observed(ctx) == shutdown.AbortRequested {
		c.log.Errorw("Collection interrupted", "error", err)
		c.log.Info("Exporter stopped by user")
		return ExitUserStopped
	}

	// The non-zero exit tells an external job runner this run failed so it
	// can apply its own retry policy; the controller never retries in
	// single-shot mode.
	c.log.Errorw("Collection failed", "error", err)
	return ExitError
}

func (c *Controller) runContinuous(ctx context.Context) ExitStatus {
	for {
		cycleStart := time.Now()
		err := c.collect(ctx)

		// A collection in flight is never preempted; a termination
		// request that arrived while it ran is acted on here, at the
		// first checkpoint after it returned. The operator's abort
		// outranks whatever the cycle itself did.
		state := c.observed(ctx)
		if state == shutdown.AbortRequested {
			if err != nil {
				c.log.Errorw("Collection failed before abort", "error", err)
			}
			c.log.Info("Exporter stopped by user")
			return ExitUserStopped
		}

		if err != nil {
			if decision := shouldRetry(err, state, c.retryInterval); decision.Retry {
				c.log.Errorw("Error during collection process", "error", err)
				c.log.Infof("Retrying in %s...", decision.Wait)

				res := c.wait(ctx, decision.Wait)
				if !res.Interrupted {
					continue
				}
				if res.State == shutdown.ShutdownRequested {
					c.log.Info("Shutdown requested during retry wait")
					return c.finalCollection(ctx)
				}
				c.log.Info("Exporter stopped by user")
				return ExitUserStopped
			}

			if IsTransient(err) {
				// Shutdown arrived while the failing cycle ran: the
				// retry policy gives up and the final collection gets
				// the last chance at the pending data.
				c.log.Errorw("Error during collection process", "error", err)
				return c.finalCollection(ctx)
			}

			c.log.Errorw("Fatal error during collection", "error", err)
			return ExitError
		}

		if state == shutdown.ShutdownRequested {
			return c.finalCollection(ctx)
		}

		// The next cycle is due at cycleStart+interval no matter how long
		// this one took. An overrun is reported and the next cycle starts
		// immediately; the wait is never negative.
		elapsed := time.Since(cycleStart)
		if elapsed >= c.interval {
			c.log.Warnw("Collection cycle overran the interval, starting next cycle immediately",
				"elapsed", elapsed.String(),
				"interval", c.interval.String(),
			)
			continue
		}

		waitFor := c.interval - elapsed
		c.log.Infof("Waiting %s before next collection", waitFor)

		res := c.wait(ctx, waitFor)
		if !res.Interrupted {
			continue
		}
		if res.State == shutdown.ShutdownRequested {
			c.log.Info("Shutdown requested during collection wait")
			return c.finalCollection(ctx)
		}
		c.log.Info("Exporter stopped by user")
		return ExitUserStopped
	}
}

// finalCollection performs the one additional collection a graceful
// shutdown is entitled to and maps its outcome to the exit status. A
// failure here is the last chance for the pending data, so it surfaces as
// an error instead of being swallowed.
func (c *Controller) finalCollection(ctx context.Context) ExitStatus {
	c.log.Info("Performing final collection before shutdown...")

	err := c.collect(ctx)
	if c.observed(ctx) == shutdown.AbortRequested {
		if err != nil {
			c.log.Errorw("Final collection interrupted", "error", err)
		}
		c.log.Info("Exporter stopped by user")
		return ExitUserStopped
	}
	if err != nil {
		c.log.Errorw("Final collection failed, pending data may be lost", "error", err)
		return ExitError
	}

	c.log.Info("Shutdown completed after final data collection")
	return ExitOk
}

// collect runs one cycle with its span and metrics bookkeeping.
func (c *Controller) collect(ctx context.Context) error {
	cycleID := uuid.NewString()
	spanCtx, span := otel.StartSpan(ctx, c.tracer, "collection.cycle",
		trace.WithAttributes(
			otel.AttrCycleID.String(cycleID),
			otel.AttrRunMode.String(c.mode.String()),
		),
	)
	defer span.End()

	c.log.Debugw("Starting collection cycle", "cycle_id", cycleID)

	start := time.Now()
	err := c.collector.CollectOnce(spanCtx)
	duration := time.Since(start)

	outcome := outcomeLabel(err)
	c.metrics.RecordCycle(ctx, c.mode.String(), duration, outcome)
	otel.RecordError(span, err)

	c.log.Debugw("Collection cycle finished",
		"cycle_id", cycleID,
		"duration", duration.String(),
		"outcome", outcome,
	)
	if c.afterCycle != nil {
		c.afterCycle()
	}
	return err
}

// observed returns the shutdown state with context cancellation folded in:
// a canceled context is indistinguishable from an abort request.
func (c *Controller) observed(ctx context.Context) shutdown.State {
	if ctx.Err() != nil {
		return shutdown.AbortRequested
	}
	return c.signal.State()
}

// wait blocks interruptibly, normalizing a context-cancel interrupt to the
// abort state so callers branch on one value.
func (c *Controller) wait(ctx context.Context, d time.Duration) shutdown.WaitResult {
	res := c.signal.Wait(ctx, d)
	if res.Interrupted && res.State == shutdown.Running {
		res.State = shutdown.AbortRequested
	}
	return res
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case IsTransient(err):
		return "transient"
	default:
		return "fatal"
	}
}
