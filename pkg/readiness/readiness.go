// Package readiness answers "can this service serve requests yet" for the
// heterogeneous services of a fleet environment. A Probe performs one check;
// Poll repeats it at a fixed interval until it passes or a timeout elapses.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
)

const (
	DefaultInterval = 1 * time.Second
	DefaultTimeout  = 60 * time.Second
)

// Probe performs a single readiness check. A nil error means ready; any
// other error means "not yet" and should describe the observed state.
type Probe interface {
	Check(ctx context.Context) error
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Check(ctx context.Context) error {
	return f(ctx)
}

// Options controls polling.
type Options struct {
	Interval time.Duration // Fixed delay between checks (default: 1s)
	Timeout  time.Duration // Total time budget (default: 60s)
	Logger   hclog.Logger
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Logger == nil {
		o.Logger = hclog.NewNullLogger()
	}
	return o
}

// TimeoutError is returned when a probe never passed within its budget.
type TimeoutError struct {
	Service  string
	Timeout  time.Duration
	Attempts int
	LastErr  error // Last observed state, for diagnostics
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s not ready within %s after %d attempts: last observed: %v",
		e.Service, e.Timeout, e.Attempts, e.LastErr)
}

func (e *TimeoutError) Unwrap() error {
	return e.LastErr
}

// Fatal marks a check failure that polling must not retry, e.g. the
// container under test has already exited.
func Fatal(err error) error {
	return backoff.Permanent(err)
}

// Poll runs probe every opts.Interval until it passes. Check errors are
// treated as transient. If the budget runs out a *TimeoutError carrying the
// last check error is returned.
func Poll(ctx context.Context, service string, probe Probe, opts Options) error {
	opts = opts.withDefaults()
	logger := opts.Logger.Named("readiness")

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.Interval
	b.MaxInterval = opts.Interval
	b.Multiplier = 1
	b.RandomizationFactor = 0
	b.MaxElapsedTime = opts.Timeout
	b.Reset()

	var (
		attempts int
		lastErr  error
		fatal    bool
	)
	operation := func() error {
		attempts++
		err := probe.Check(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			fatal = true
			lastErr = permanent.Err
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		logger.Debug("service not ready yet, will retry",
			"service", service,
			"attempt", attempts,
			"retry_in", next,
			"error", err,
		)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify)
	if err == nil {
		logger.Info("service is ready", "service", service, "attempts", attempts)
		return nil
	}

	if fatal {
		return fmt.Errorf("%s readiness check failed: %w", service, lastErr)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("waiting for %s: %w", service, ctxErr)
	}

	logger.Error("service did not become ready",
		"service", service,
		"timeout", opts.Timeout,
		"attempts", attempts,
		"error", lastErr,
	)
	return &TimeoutError{
		Service:  service,
		Timeout:  opts.Timeout,
		Attempts: attempts,
		LastErr:  lastErr,
	}
}
