// File: internal/usecase/explorer.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"idea-explorer/internal/domain"
	"idea-explorer/internal/domain/model"
	"idea-explorer/internal/domain/ports/adapter"
	"idea-explorer/internal/domain/ports/repository"
	"idea-explorer/internal/infra/logging"
	"idea-explorer/internal/infra/metrics"
	"idea-explorer/internal/infra/step"

	"github.com/rs/zerolog"
)

const (
	StepInitialize    = "initialize"
	StepCheckExisting = "check-existing"
	StepGenerate      = "generate"
	StepWrite         = "write"
	StepNotify        = "notify"
)

type pipelineStep struct {
	name  string
	label string
	opts  step.Options
}

// Pipeline lists the steps in execution order. Progress numbers are 1-based.
var Pipeline = []pipelineStep{
	{StepInitialize, "Initializing", step.Options{RetryLimit: 5, RetryDelay: time.Second, Timeout: 10 * time.Second}},
	{StepCheckExisting, "Checking existing research", step.Options{RetryLimit: 3, RetryDelay: 2 * time.Second, Timeout: 30 * time.Second}},
	{StepGenerate, "Generating research", step.Options{RetryLimit: 2, RetryDelay: 10 * time.Second, Timeout: 10 * time.Minute}},
	{StepWrite, "Writing to GitHub", step.Options{RetryLimit: 3, RetryDelay: 2 * time.Second, Timeout: 60 * time.Second}},
	{StepNotify, "Sending notification", step.Options{RetryLimit: 3, RetryDelay: 2 * time.Second, Timeout: 2 * time.Minute}},
}

// existingResearch is what check-existing found. Dir is set for an update
// that matched a directory; Prior carries a continued job's research.
type existingResearch struct {
	Dir     string `json:"dir,omitempty"`
	Content string `json:"content,omitempty"`
	SHA     string `json:"sha,omitempty"`
	Prior   string `json:"prior,omitempty"`
}

type writeResult struct {
	Path     string   `json:"path"`
	HTMLURL  string   `json:"html_url"`
	RawURL   string   `json:"raw_url"`
	Warnings []string `json:"warnings,omitempty"`
}

// Outcome is the terminal result handed to CompleteAndNotify.
type Outcome struct {
	Status     model.JobStatus
	GitHubURL  string
	RawURL     string
	ResultPath string
	Error      string
}

// Explorer runs the research pipeline for one job at a time.
type Explorer struct {
	jobs     repository.JobRepository
	gen      adapter.GenerationAdapter
	notifier adapter.WebhookNotifier
	prefix   string
	now      func() time.Time
	log      *zerolog.Logger
}

type ExplorerOption func(*Explorer)

func WithExplorerClock(now func() time.Time) ExplorerOption {
	return func(e *Explorer) { e.now = now }
}

func NewExplorer(
	jobs repository.JobRepository,
	gen adapter.GenerationAdapter,
	notifier adapter.WebhookNotifier,
	pathPrefix string,
	logger *zerolog.Logger,
	opts ...ExplorerOption,
) *Explorer {
	if pathPrefix == "" {
		pathPrefix = "ideas"
	}
	l := logger.With().Str("component", "Explorer").Logger()
	e := &Explorer{
		jobs:     jobs,
		gen:      gen,
		notifier: notifier,
		prefix:   strings.Trim(pathPrefix, "/"),
		now:      time.Now,
		log:      &l,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run executes the pipeline for jobID. Steps that already succeeded in an
// earlier invocation are replayed from their checkpoints. On a step failure
// the job is failed and notified, and the step error is returned.
func (e *Explorer) Run(ctx context.Context, jobID string, store adapter.ContentStore, runner *step.Runner) error {
	log := e.log.With().Str("job_id", jobID).Logger()
	defer logging.TraceDuration(&log, "explorer.Run")()

	job, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Notified() {
		log.Debug().Msg("job already notified; nothing to do")
		return nil
	}
	if job.Status.IsTerminal() {
		log.Info().Str("status", string(job.Status)).Msg("terminal job not yet notified; notifying")
		_, err := e.CompleteAndNotify(ctx, jobID, Outcome{Status: job.Status})
		return err
	}

	if err := e.pipeline(ctx, job, store, runner); err != nil {
		log.Error().Err(err).Msg("pipeline failed")
		if ctx.Err() != nil {
			// Shutdown: leave the job for recovery instead of failing it.
			return err
		}
		if _, nErr := e.CompleteAndNotify(ctx, jobID, Outcome{Status: model.JobStatusFailed, Error: err.Error()}); nErr != nil {
			log.Error().Err(nErr).Msg("failure notification")
		}
		return err
	}
	return nil
}

func (e *Explorer) pipeline(ctx context.Context, job *model.Job, store adapter.ContentStore, runner *step.Runner) error {
	slug := Slugify(job.Idea)

	// 1. initialize
	if _, err := step.Run(ctx, runner, StepInitialize, Pipeline[0].opts, func(ctx context.Context) (bool, error) {
		patch := e.progress(job, 1)
		patch.Status = model.Ptr(model.JobStatusRunning)
		j, err := e.jobs.Update(ctx, job.ID, patch, nil)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) {
				return false, step.Permanent(err)
			}
			return false, err
		}
		*job = *j
		return true, nil
	}); err != nil {
		return err
	}

	// 2. check-existing
	existing, err := step.Run(ctx, runner, StepCheckExisting, Pipeline[1].opts, func(ctx context.Context) (existingResearch, error) {
		e.advance(ctx, job, 2)
		return e.checkExisting(ctx, job, slug, store)
	})
	if err != nil {
		return err
	}

	// 3. generate
	generated, err := step.Run(ctx, runner, StepGenerate, Pipeline[2].opts, func(ctx context.Context) (adapter.GenerateResult, error) {
		e.advance(ctx, job, 3)
		prior := existing.Content
		if prior == "" {
			prior = existing.Prior
		}
		res, err := e.gen.Generate(ctx, adapter.GenerateRequest{
			Idea:            job.Idea,
			Mode:            job.Mode,
			Model:           job.Model,
			Context:         job.Context,
			ExistingContent: prior,
		})
		if err != nil {
			return adapter.GenerateResult{}, err
		}
		if _, uErr := e.jobs.Update(ctx, job.ID, model.JobPatch{
			InputTokens:  model.Ptr(res.InputTokens),
			OutputTokens: model.Ptr(res.OutputTokens),
		}, nil); uErr != nil {
			e.log.Warn().Err(uErr).Str("job_id", job.ID).Msg("record token usage")
		}
		return res, nil
	})
	if err != nil {
		return err
	}

	// 4. write
	written, err := step.Run(ctx, runner, StepWrite, Pipeline[3].opts, func(ctx context.Context) (writeResult, error) {
		e.advance(ctx, job, 4)
		return e.write(ctx, job, slug, existing, generated, store)
	})
	if err != nil {
		return err
	}

	// 5. notify
	_, err = step.Run(ctx, runner, StepNotify, Pipeline[4].opts, func(ctx context.Context) (adapter.DeliveryResult, error) {
		e.advance(ctx, job, 5)
		return e.CompleteAndNotify(ctx, job.ID, Outcome{
			Status:     model.JobStatusCompleted,
			GitHubURL:  written.HTMLURL,
			RawURL:     written.RawURL,
			ResultPath: written.Path,
		})
	})
	return err
}

func (e *Explorer) checkExisting(ctx context.Context, job *model.Job, slug string, store adapter.ContentStore) (existingResearch, error) {
	var out existingResearch

	if job.Intent.IsUpdate() {
		entries, err := store.ListDirectory(ctx, e.prefix)
		if err != nil {
			return out, err
		}
		dir, ok := SelectResearchDir(entries, slug)
		if !ok {
			e.log.Info().Str("job_id", job.ID).Str("slug", slug).Msg("no research to update; creating new")
			return out, nil
		}
		out.Dir = dir.Path
		if out.Dir == "" {
			out.Dir = e.prefix + "/" + dir.Name
		}
		file, err := store.GetFile(ctx, ResearchPath(out.Dir))
		if err != nil {
			return out, err
		}
		if file != nil {
			out.Content, out.SHA = file.Content, file.SHA
		}
		return out, nil
	}

	if priorID, ok := job.Intent.ContinueFrom(); ok {
		prior, err := e.jobs.Get(ctx, priorID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return out, nil
		case err != nil:
			return out, err
		case prior.Status != model.JobStatusCompleted || prior.ResultPath == "":
			return out, nil
		}
		file, err := store.GetFile(ctx, prior.ResultPath)
		if err != nil {
			return out, err
		}
		if file != nil {
			out.Prior = file.Content
		}
	}
	return out, nil
}

func (e *Explorer) write(ctx context.Context, job *model.Job, slug string, existing existingResearch, gen adapter.GenerateResult, store adapter.ContentStore) (writeResult, error) {
	var (
		dir string
		ref *adapter.FileRef
		err error
	)
	if existing.Dir != "" {
		dir = existing.Dir
		p := ResearchPath(dir)
		current, gErr := store.GetFile(ctx, p)
		if gErr != nil {
			return writeResult{}, gErr
		}
		switch {
		case current != nil && strings.HasSuffix(current.Content, "\n\n"+gen.Content):
			// an earlier attempt committed the append before failing
			ref = &adapter.FileRef{Path: current.Path, SHA: current.SHA, HTMLURL: current.HTMLURL}
		case current != nil:
			ref, err = store.UpdateFile(ctx, p, current.Content+"\n\n"+gen.Content, current.SHA, commitMessage("Update", job))
		default:
			ref, err = store.CreateFile(ctx, p, gen.Content, commitMessage("Add", job))
		}
	} else {
		dir = ResearchDir(e.prefix, job.CreatedAt, slug)
		ref, err = store.CreateFile(ctx, ResearchPath(dir), gen.Content, commitMessage("Add", job))
	}
	if err != nil {
		return writeResult{}, err
	}

	out := writeResult{Path: ref.Path, HTMLURL: ref.HTMLURL, RawURL: ref.RawURL}
	if out.RawURL == "" {
		out.RawURL = store.RawURL(ref.Path)
	}
	out.Warnings = e.appendLog(ctx, job, dir, ref.Path, gen, store)

	patch := model.JobPatch{ResultPath: model.Ptr(out.Path), Warnings: out.Warnings}
	if _, uErr := e.jobs.Update(ctx, job.ID, patch, nil); uErr != nil {
		e.log.Warn().Err(uErr).Str("job_id", job.ID).Msg("record result path")
	}
	return out, nil
}

// appendLog adds this run to the directory's exploration log. Failures are
// reported as warnings so the research write is never repeated for them.
func (e *Explorer) appendLog(ctx context.Context, job *model.Job, dir, researchPath string, gen adapter.GenerateResult, store adapter.ContentStore) []string {
	var warnings []string
	p := ExplorationLogPath(dir)

	current, err := store.GetFile(ctx, p)
	if err != nil {
		return append(warnings, fmt.Sprintf("exploration log not updated: %v", err))
	}
	var runs model.ExplorationLog
	sha := ""
	if current != nil {
		var warn string
		runs, warn = model.ParseExplorationLog(current.Content)
		if warn != "" {
			e.log.Warn().Str("job_id", job.ID).Str("path", p).Msg(warn)
			warnings = append(warnings, warn)
		}
		sha = current.SHA
	} else {
		runs = model.ExplorationLog{}
	}
	if runs.Has(job.ID) {
		return warnings
	}

	runs = runs.Append(model.ExplorationRun{
		JobID:        job.ID,
		RunAt:        e.now().UTC(),
		Mode:         job.Mode,
		Model:        job.Model,
		Intent:       job.Intent.Kind(),
		ResearchPath: researchPath,
		InputTokens:  gen.InputTokens,
		OutputTokens: gen.OutputTokens,
	})
	body, err := runs.Encode()
	if err != nil {
		return append(warnings, fmt.Sprintf("exploration log not updated: %v", err))
	}
	msg := commitMessage("Log", job)
	if sha != "" {
		_, err = store.UpdateFile(ctx, p, body, sha, msg)
	} else {
		_, err = store.CreateFile(ctx, p, body, msg)
	}
	if err != nil {
		return append(warnings, fmt.Sprintf("exploration log not updated: %v", err))
	}
	return warnings
}

// CompleteAndNotify records the terminal outcome (unless one is already
// stored), delivers the webhook and sets notified_at. A job that was already
// notified is left alone.
func (e *Explorer) CompleteAndNotify(ctx context.Context, jobID string, out Outcome) (adapter.DeliveryResult, error) {
	job, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		return adapter.DeliveryResult{}, err
	}
	if job.Notified() {
		return adapter.DeliveryResult{Delivered: job.WebhookDelivered, Attempts: job.WebhookAttempts, LastStatus: job.WebhookLastStatus}, nil
	}

	if !job.Status.IsTerminal() && out.Status.IsTerminal() {
		patch := model.JobPatch{Status: model.Ptr(out.Status)}
		if out.Status == model.JobStatusCompleted {
			patch.GitHubURL = model.Ptr(out.GitHubURL)
			patch.GitHubRawURL = model.Ptr(out.RawURL)
			if out.ResultPath != "" {
				patch.ResultPath = model.Ptr(out.ResultPath)
			}
		} else {
			patch.Error = model.Ptr(out.Error)
		}
		updated, err := e.jobs.Update(ctx, jobID, patch, job)
		switch {
		case err == nil:
			job = updated
			metrics.IncJobProcessed(string(job.Status))
		case errors.Is(err, domain.ErrInvalidTransition):
			// another writer stored an outcome first; notify with that one
			fresh, gErr := e.jobs.Get(ctx, jobID)
			if gErr != nil {
				return adapter.DeliveryResult{}, gErr
			}
			if !fresh.Status.IsTerminal() {
				return adapter.DeliveryResult{}, err
			}
			job = fresh
			if job.Notified() {
				return adapter.DeliveryResult{Delivered: job.WebhookDelivered, Attempts: job.WebhookAttempts, LastStatus: job.WebhookLastStatus}, nil
			}
		default:
			return adapter.DeliveryResult{}, err
		}
	}

	var payload model.WebhookPayload
	if job.Status == model.JobStatusCompleted {
		payload = model.CompletedPayload(job, job.GitHubURL, job.GitHubRawURL)
	} else {
		payload = model.FailedPayload(job, job.Error)
	}
	res := e.notifier.Send(ctx, adapter.WebhookTarget{URL: job.WebhookURL, Secret: job.WebhookSecret}, payload)

	now := e.now()
	patch := model.JobPatch{
		NotifiedAt:        model.Ptr(now),
		WebhookAttempts:   model.Ptr(res.Attempts),
		WebhookDelivered:  model.Ptr(res.Delivered),
		WebhookLastStatus: model.Ptr(res.LastStatus),
	}
	if job.CurrentStep == len(Pipeline) && job.StepStartedAt != nil {
		patch.StepDurations = map[string]int64{StepNotify: elapsedMs(*job.StepStartedAt, now)}
	}
	if job.Status == model.JobStatusCompleted {
		patch.StepsCompleted = model.Ptr(len(Pipeline))
	}
	if _, err := e.jobs.Update(ctx, jobID, patch, job); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return res, nil
		}
		return res, err
	}
	if !res.Delivered {
		e.log.Warn().Str("job_id", jobID).Int("attempts", res.Attempts).Str("error", res.LastError).Msg("webhook not delivered")
	}
	return res, nil
}

// progress moves the job to step n (1-based) and folds the previous step's
// elapsed time into step_durations.
func (e *Explorer) progress(job *model.Job, n int) model.JobPatch {
	now := e.now()
	patch := model.JobPatch{
		CurrentStep:      model.Ptr(n),
		CurrentStepLabel: model.Ptr(Pipeline[n-1].label),
		StepsCompleted:   model.Ptr(n - 1),
		StepStartedAt:    model.Ptr(now),
	}
	if n > 1 && job.StepStartedAt != nil {
		patch.StepDurations = map[string]int64{Pipeline[n-2].name: elapsedMs(*job.StepStartedAt, now)}
	}
	return patch
}

func (e *Explorer) advance(ctx context.Context, job *model.Job, n int) {
	j, err := e.jobs.Update(ctx, job.ID, e.progress(job, n), nil)
	if err != nil {
		e.log.Warn().Err(err).Str("job_id", job.ID).Int("step", n).Msg("record progress")
		return
	}
	*job = *j
}

func elapsedMs(from, to time.Time) int64 {
	d := to.Sub(from).Milliseconds()
	if d < 0 {
		return 0
	}
	return d
}

func commitMessage(verb string, job *model.Job) string {
	idea := job.Idea
	if r := []rune(idea); len(r) > 60 {
		idea = string(r[:60]) + "..."
	}
	return fmt.Sprintf("%s research: %s (job %s)", verb, idea, job.ID)
}
