package worker

import (
	"context"
	"errors"
	"time"

	"idea-explorer/internal/domain/ports/adapter"
	"idea-explorer/internal/infra/logging"
	red "idea-explorer/internal/infra/redis"
	"idea-explorer/internal/infra/step"
	"idea-explorer/internal/usecase"

	"github.com/rs/zerolog"
)

var _ usecase.Dispatcher = (*JobProcessor)(nil)

// StoreFactory builds a content store for one job run.
type StoreFactory interface {
	New(jobID string) (adapter.ContentStore, error)
}

// StoreFactoryFunc adapts a function to StoreFactory.
type StoreFactoryFunc func(jobID string) (adapter.ContentStore, error)

func (f StoreFactoryFunc) New(jobID string) (adapter.ContentStore, error) { return f(jobID) }

// Runner is the pipeline the processor drives.
type Runner interface {
	Run(ctx context.Context, jobID string, store adapter.ContentStore, runner *step.Runner) error
}

// JobProcessor runs jobs on the pool, one runner per job across processes.
type JobProcessor struct {
	pool        *Pool
	explorer    Runner
	stores      StoreFactory
	checkpoints step.Checkpoints
	locker      red.Locker
	leaseTTL    time.Duration
	log         *zerolog.Logger
}

func NewJobProcessor(
	pool *Pool,
	explorer Runner,
	stores StoreFactory,
	checkpoints step.Checkpoints,
	locker red.Locker,
	leaseTTL time.Duration,
	logger *zerolog.Logger,
) *JobProcessor {
	if leaseTTL <= 0 {
		leaseTTL = 2 * time.Minute
	}
	l := logger.With().Str("component", "JobProcessor").Logger()
	return &JobProcessor{
		pool:        pool,
		explorer:    explorer,
		stores:      stores,
		checkpoints: checkpoints,
		locker:      locker,
		leaseTTL:    leaseTTL,
		log:         &l,
	}
}

// Dispatch queues jobID for background execution.
func (p *JobProcessor) Dispatch(_ context.Context, jobID string) error {
	return p.pool.Submit(func(ctx context.Context) error {
		return p.Process(ctx, jobID)
	})
}

// Process runs the pipeline for jobID while holding its lease. A job whose
// lease is held elsewhere is skipped.
func (p *JobProcessor) Process(ctx context.Context, jobID string) error {
	ctx = logging.WithJobID(ctx, jobID)
	log := p.log.With().Str("job_id", jobID).Logger()

	key := red.JobLeaseKey(jobID)
	token, err := p.locker.TryLock(ctx, key, p.leaseTTL)
	if err != nil {
		if errors.Is(err, red.ErrLeaseHeld) {
			log.Debug().Msg("job is running elsewhere; skipping")
			return nil
		}
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go p.keepLease(runCtx, cancel, key, token, &log)
	defer func() {
		// Release even when ctx is already cancelled.
		if err := p.locker.Unlock(context.Background(), key, token); err != nil {
			log.Warn().Err(err).Msg("release lease")
		}
	}()

	store, err := p.stores.New(jobID)
	if err != nil {
		return err
	}
	runner := step.NewRunner(p.checkpoints, jobID, &log)

	start := time.Now()
	log.Info().Msg("processing job")
	err = p.explorer.Run(runCtx, jobID, store, runner)
	if err != nil {
		log.Error().Err(err).Dur("duration_ms", time.Since(start)).Msg("job finished with error")
		return err
	}
	log.Info().Dur("duration_ms", time.Since(start)).Msg("job finished")
	return nil
}

// keepLease extends the lease until ctx ends. Losing the lease cancels
// the run so two runners never overlap.
func (p *JobProcessor) keepLease(ctx context.Context, cancel context.CancelFunc, key, token string, log *zerolog.Logger) {
	t := time.NewTicker(p.leaseTTL / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := p.locker.Extend(ctx, key, token, p.leaseTTL); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error().Err(err).Msg("lost job lease; stopping run")
				cancel()
				return
			}
		}
	}
}
