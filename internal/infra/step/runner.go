// Package step is a small durable step runtime. Each named step runs with
// its own retry budget and timeout, and successful results are checkpointed
// so that replaying a run returns the stored result instead of running the
// step again.
package step

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"idea-explorer/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Options configure a single step.
type Options struct {
	// RetryLimit is the number of retries after the first attempt.
	RetryLimit int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// Checkpoints persists step results keyed by run and step name.
type Checkpoints interface {
	Load(ctx context.Context, runID, step string) ([]byte, bool, error)
	Save(ctx context.Context, runID, step string, data []byte) error
}

// ErrTimeout is returned when an attempt exceeds Options.Timeout.
var ErrTimeout = errors.New("step timed out")

// Runner executes the steps of one run.
type Runner struct {
	store Checkpoints
	runID string
	log   *zerolog.Logger
	sleep func(ctx context.Context, d time.Duration) error
	grace time.Duration
}

// DefaultAbandonGrace is how long a timed-out attempt may take to return
// before the step gives up on it.
const DefaultAbandonGrace = 5 * time.Second

type Option func(*Runner)

// WithSleep replaces the wait between retries (tests).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) { r.sleep = fn }
}

// WithAbandonGrace sets how long a timed-out attempt is waited for before
// the step fails without retrying.
func WithAbandonGrace(d time.Duration) Option {
	return func(r *Runner) { r.grace = d }
}

func NewRunner(store Checkpoints, runID string, logger *zerolog.Logger, opts ...Option) *Runner {
	l := logger.With().Str("component", "StepRunner").Str("job_id", runID).Logger()
	r := &Runner{store: store, runID: runID, log: &l, sleep: sleepCtx, grace: DefaultAbandonGrace}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run executes fn as the named step and returns its result. If the step
// already succeeded in an earlier invocation of this run, the checkpointed
// result is returned and fn is not called.
func Run[T any](ctx context.Context, r *Runner, name string, opts Options, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if data, ok, err := r.store.Load(ctx, r.runID, name); err != nil {
		r.log.Warn().Err(err).Str("step", name).Msg("checkpoint load failed; running step")
	} else if ok {
		var out T
		if err := json.Unmarshal(data, &out); err == nil {
			r.log.Debug().Str("step", name).Msg("step replayed from checkpoint")
			metrics.IncStepReplay(name)
			return out, nil
		}
		r.log.Warn().Str("step", name).Msg("unreadable checkpoint; running step")
	}

	var lastErr error
	for attempt := 0; attempt <= opts.RetryLimit; attempt++ {
		if attempt > 0 {
			metrics.IncStepRetry(name)
			r.log.Warn().Err(lastErr).Str("step", name).Int("attempt", attempt+1).Msg("retrying step")
			if err := r.sleep(ctx, opts.RetryDelay); err != nil {
				return zero, err
			}
		}

		start := time.Now()
		out, err := runAttempt(ctx, opts.Timeout, r.grace, fn)
		metrics.ObserveStep(name, err == nil, time.Since(start))
		if err == nil {
			data, mErr := json.Marshal(out)
			if mErr != nil {
				return zero, fmt.Errorf("step %s: encode result: %w", name, mErr)
			}
			if sErr := r.store.Save(ctx, r.runID, name, data); sErr != nil {
				// A lost checkpoint means a replay runs the step again.
				r.log.Error().Err(sErr).Str("step", name).Msg("checkpoint save failed")
			}
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, fmt.Errorf("step %s: %w", name, err)
		}
		if errors.Is(err, ErrPermanent) {
			break
		}
	}
	return zero, fmt.Errorf("step %s: %w", name, lastErr)
}

// ErrPermanent marks an error that retrying cannot fix.
var ErrPermanent = errors.New("permanent step failure")

// Permanent wraps err so Run stops retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// runAttempt runs fn once, bounded by timeout. fn receives a context that is
// cancelled at the deadline and is then given grace to return. A success
// returned within grace is kept. An attempt still running after grace fails
// permanently, so a retry never runs alongside it.
func runAttempt[T any](ctx context.Context, timeout, grace time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		out T
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := fn(attemptCtx)
		done <- result{out, err}
	}()

	var zero T
	select {
	case res := <-done:
		return res.out, res.err
	case <-attemptCtx.Done():
	}
	if ctx.Err() != nil {
		return zero, ctx.Err()
	}

	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case res := <-done:
		if res.err == nil {
			return res.out, nil
		}
		return zero, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-t.C:
		return zero, Permanent(fmt.Errorf("%w after %s; attempt still running", ErrTimeout, timeout))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
