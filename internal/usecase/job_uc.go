// File: internal/usecase/job_uc.go
package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"idea-explorer/internal/domain"
	"idea-explorer/internal/domain/model"
	"idea-explorer/internal/domain/ports/repository"
	"idea-explorer/internal/infra/logging"
	"idea-explorer/internal/infra/metrics"
	"idea-explorer/internal/infra/security"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ JobUseCase = (*jobUC)(nil)

const maxIdeaLen = 10000

// Dispatcher starts background execution of a job.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// SubmitInput is an idea submission as it arrives at the boundary.
type SubmitInput struct {
	Idea          string `json:"idea"`
	Mode          string `json:"mode,omitempty"`
	Model         string `json:"model,omitempty"`
	Context       string `json:"context,omitempty"`
	Update        bool   `json:"update,omitempty"`
	ContinueFrom  string `json:"continue_from,omitempty"`
	WebhookURL    string `json:"webhook_url,omitempty"`
	WebhookSecret string `json:"webhook_secret,omitempty"`
}

// JobView is the externally visible status of a job.
type JobView struct {
	ID               string           `json:"id"`
	Idea             string           `json:"idea"`
	Mode             model.Mode       `json:"mode"`
	Model            string           `json:"model"`
	Status           model.JobStatus  `json:"status"`
	Update           bool             `json:"update,omitempty"`
	ContinueFrom     string           `json:"continue_from,omitempty"`
	GitHubURL        string           `json:"github_url,omitempty"`
	GitHubRawURL     string           `json:"github_raw_url,omitempty"`
	Error            string           `json:"error,omitempty"`
	Warnings         []string         `json:"warnings,omitempty"`
	CurrentStep      int              `json:"current_step"`
	CurrentStepLabel string           `json:"current_step_label,omitempty"`
	StepsCompleted   int              `json:"steps_completed"`
	StepsTotal       int              `json:"steps_total"`
	StepDurations    map[string]int64 `json:"step_durations,omitempty"`
	InputTokens      int              `json:"input_tokens,omitempty"`
	OutputTokens     int              `json:"output_tokens,omitempty"`
	WebhookDelivered bool             `json:"webhook_delivered,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	NotifiedAt       *time.Time       `json:"notified_at,omitempty"`
}

type JobListView struct {
	Jobs   []JobView `json:"jobs"`
	Total  int       `json:"total"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

type JobUseCase interface {
	Submit(ctx context.Context, in SubmitInput) (*model.Job, error)
	Status(ctx context.Context, id string) (*JobView, error)
	List(ctx context.Context, status, mode string, limit, offset int) (*JobListView, error)
}

type jobUC struct {
	jobs       repository.JobRepository
	dispatcher Dispatcher
	dev        bool
	log        *zerolog.Logger
}

type JobUseCaseOption func(*jobUC)

// WithDevLogging logs idea text in full instead of redacted.
func WithDevLogging(dev bool) JobUseCaseOption { return func(u *jobUC) { u.dev = dev } }

func NewJobUseCase(jobs repository.JobRepository, dispatcher Dispatcher, logger *zerolog.Logger, opts ...JobUseCaseOption) *jobUC {
	l := logger.With().Str("component", "JobUseCase").Logger()
	u := &jobUC{jobs: jobs, dispatcher: dispatcher, log: &l}
	for _, o := range opts {
		o(u)
	}
	return u
}

// Submit validates the request, persists a pending job and hands it to the
// dispatcher. Nothing is stored when validation fails.
func (u *jobUC) Submit(ctx context.Context, in SubmitInput) (*model.Job, error) {
	req, err := buildRequest(in)
	if err != nil {
		return nil, err
	}

	job, err := u.jobs.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	metrics.IncJobSubmitted(string(job.Mode))
	u.log.Info().
		Str("job_id", job.ID).
		Str("trace_id", logging.TraceIDFrom(ctx)).
		Str("idea", logging.Redact(job.Idea, u.dev)).
		Str("mode", string(job.Mode)).
		Str("intent", string(job.Intent.Kind())).
		Bool("webhook", job.WebhookURL != "").
		Msg("job submitted")

	if u.dispatcher != nil {
		if err := u.dispatcher.Dispatch(ctx, job.ID); err != nil {
			// The job stays pending; recovery picks it up.
			u.log.Error().Err(err).Str("job_id", job.ID).Msg("dispatch failed")
		}
	}
	return job, nil
}

func buildRequest(in SubmitInput) (model.JobRequest, error) {
	idea := strings.TrimSpace(in.Idea)
	if idea == "" {
		return model.JobRequest{}, fmt.Errorf("%w: idea is required", domain.ErrValidation)
	}
	if len(idea) > maxIdeaLen {
		return model.JobRequest{}, fmt.Errorf("%w: idea exceeds %d characters", domain.ErrValidation, maxIdeaLen)
	}
	mode, err := model.ParseMode(in.Mode)
	if err != nil {
		return model.JobRequest{}, err
	}
	modelName, err := model.ParseModel(in.Model)
	if err != nil {
		return model.JobRequest{}, err
	}
	intent, err := model.IntentFromFlags(in.Update, in.ContinueFrom)
	if err != nil {
		return model.JobRequest{}, err
	}
	hook := strings.TrimSpace(in.WebhookURL)
	if hook != "" {
		if err := security.ValidateDestination(hook); err != nil {
			return model.JobRequest{}, err
		}
	} else if in.WebhookSecret != "" {
		return model.JobRequest{}, fmt.Errorf("%w: webhook_secret requires webhook_url", domain.ErrValidation)
	}
	return model.JobRequest{
		Idea:          idea,
		Mode:          mode,
		Model:         modelName,
		Context:       strings.TrimSpace(in.Context),
		Intent:        intent,
		WebhookURL:    hook,
		WebhookSecret: in.WebhookSecret,
	}, nil
}

func (u *jobUC) Status(ctx context.Context, id string) (*JobView, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.ErrNotFound
	}
	job, err := u.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	v := ViewOf(job)
	return &v, nil
}

func (u *jobUC) List(ctx context.Context, status, mode string, limit, offset int) (*JobListView, error) {
	filter := model.JobFilter{}
	if status != "" {
		s := model.JobStatus(strings.ToLower(status))
		if !s.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, status)
		}
		filter.Status = s
	}
	if mode != "" {
		m, err := model.ParseMode(mode)
		if err != nil {
			return nil, err
		}
		filter.Mode = m
	}
	page, err := u.jobs.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, err
	}
	out := &JobListView{Jobs: make([]JobView, 0, len(page.Jobs)), Total: page.Total, Limit: limit, Offset: offset}
	for _, j := range page.Jobs {
		out.Jobs = append(out.Jobs, ViewOf(j))
	}
	return out, nil
}

// ViewOf derives the public view. The webhook secret never leaves the store.
func ViewOf(j *model.Job) JobView {
	v := JobView{
		ID:               j.ID,
		Idea:             j.Idea,
		Mode:             j.Mode,
		Model:            j.Model,
		Status:           j.Status,
		Update:           j.Intent.IsUpdate(),
		GitHubURL:        j.GitHubURL,
		GitHubRawURL:     j.GitHubRawURL,
		Error:            j.Error,
		Warnings:         j.Warnings,
		CurrentStep:      j.CurrentStep,
		CurrentStepLabel: j.CurrentStepLabel,
		StepsCompleted:   j.StepsCompleted,
		StepsTotal:       j.StepsTotal,
		StepDurations:    j.StepDurations,
		InputTokens:      j.InputTokens,
		OutputTokens:     j.OutputTokens,
		WebhookDelivered: j.WebhookDelivered,
		CreatedAt:        j.CreatedAt,
		UpdatedAt:        j.UpdatedAt,
		NotifiedAt:       j.NotifiedAt,
	}
	if id, ok := j.Intent.ContinueFrom(); ok {
		v.ContinueFrom = id
	}
	return v
}
