package worker

import (
	"context"
	"time"

	"idea-explorer/internal/domain/model"
	"idea-explorer/internal/domain/ports/repository"
	"idea-explorer/internal/infra/metrics"
	"idea-explorer/internal/usecase"

	"github.com/rs/zerolog"
)

const recoveryPage = 100

// RecoveryWorker re-dispatches jobs that were never notified and have not
// moved for a while, such as jobs orphaned by a restart.
type RecoveryWorker struct {
	interval   time.Duration
	staleAfter time.Duration
	jobs       repository.JobRepository
	dispatcher usecase.Dispatcher
	now        func() time.Time
	log        *zerolog.Logger
}

func NewRecoveryWorker(interval, staleAfter time.Duration, jobs repository.JobRepository, dispatcher usecase.Dispatcher, logger *zerolog.Logger) *RecoveryWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	compLog := logger.With().Str("component", "RecoveryWorker").Logger()
	return &RecoveryWorker{
		interval:   interval,
		staleAfter: staleAfter,
		jobs:       jobs,
		dispatcher: dispatcher,
		now:        time.Now,
		log:        &compLog,
	}
}

func (w *RecoveryWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting recovery worker")
	// Run once on startup, then on every tick
	w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping recovery worker")
			return ctx.Err()
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce scans every status and returns how many jobs were re-dispatched.
func (w *RecoveryWorker) RunOnce(ctx context.Context) int {
	cutoff := w.now().Add(-w.staleAfter)
	sent := 0
	for _, status := range []model.JobStatus{
		model.JobStatusPending,
		model.JobStatusRunning,
		model.JobStatusCompleted,
		model.JobStatusFailed,
	} {
		for offset := 0; ; offset += recoveryPage {
			page, err := w.jobs.List(ctx, model.JobFilter{Status: status}, recoveryPage, offset)
			if err != nil {
				w.log.Error().Err(err).Str("status", string(status)).Msg("recovery scan failed")
				break
			}
			for _, j := range page.Jobs {
				if j.Notified() || j.UpdatedAt.After(cutoff) {
					continue
				}
				if err := w.dispatcher.Dispatch(ctx, j.ID); err != nil {
					w.log.Warn().Err(err).Str("job_id", j.ID).Msg("re-dispatch failed")
					continue
				}
				sent++
			}
			if offset+recoveryPage >= page.Total {
				break
			}
		}
	}
	if sent > 0 {
		metrics.AddJobsRecovered(sent)
		w.log.Info().Int("count", sent).Msg("jobs re-dispatched")
	}
	return sent
}
