package model

import (
	"fmt"
	"time"

	"idea-explorer/internal/domain"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether a job in status s may move to next.
// Same-state moves are allowed so retried steps stay idempotent.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case JobStatusPending:
		return next == JobStatusRunning || next == JobStatusFailed
	case JobStatusRunning:
		return next == JobStatusCompleted || next == JobStatusFailed
	}
	return false
}

type Mode string

const (
	ModeBusiness    Mode = "business"
	ModeExploration Mode = "exploration"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeBusiness, nil
	case ModeBusiness, ModeExploration:
		return Mode(s), nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", domain.ErrValidation, s)
}

const DefaultModel = "gpt-4o-mini"

// KnownModels lists the model names accepted at submission.
var KnownModels = []string{
	"gpt-4o-mini",
	"gpt-4o",
	"gpt-4.1",
	"gemini-2.0-flash",
	"gemini-2.5-pro",
}

func ParseModel(s string) (string, error) {
	if s == "" {
		return DefaultModel, nil
	}
	for _, m := range KnownModels {
		if m == s {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: unknown model %q", domain.ErrValidation, s)
}

// Job is one idea-exploration request and its tracked lifecycle.
type Job struct {
	ID      string    `json:"id"`
	Idea    string    `json:"idea"`
	Mode    Mode      `json:"mode"`
	Model   string    `json:"model"`
	Status  JobStatus `json:"status"`
	Context string    `json:"context,omitempty"`
	Intent  Intent    `json:"intent"`

	WebhookURL    string `json:"webhook_url,omitempty"`
	WebhookSecret string `json:"webhook_secret,omitempty"`

	GitHubURL    string   `json:"github_url,omitempty"`
	GitHubRawURL string   `json:"github_raw_url,omitempty"`
	ResultPath   string   `json:"result_path,omitempty"`
	Error        string   `json:"error,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	NotifiedAt *time.Time `json:"notified_at,omitempty"`

	CurrentStep      int              `json:"current_step"`
	CurrentStepLabel string           `json:"current_step_label,omitempty"`
	StepsCompleted   int              `json:"steps_completed"`
	StepsTotal       int              `json:"steps_total"`
	StepStartedAt    *time.Time       `json:"step_started_at,omitempty"`
	StepDurations    map[string]int64 `json:"step_durations,omitempty"`

	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`

	WebhookAttempts   int  `json:"webhook_attempts,omitempty"`
	WebhookDelivered  bool `json:"webhook_delivered,omitempty"`
	WebhookLastStatus int  `json:"webhook_last_status,omitempty"`
}

// Projection returns the small queryable summary stored beside the record.
func (j *Job) Projection() JobMeta {
	return JobMeta{CreatedAt: j.CreatedAt, Status: j.Status, Mode: j.Mode}
}

// Notified reports whether the one-shot delivery gate has been passed.
func (j *Job) Notified() bool { return j.NotifiedAt != nil }

// JobMeta is the metadata projection used for filtered listing.
type JobMeta struct {
	CreatedAt time.Time `json:"created_at"`
	Status    JobStatus `json:"status"`
	Mode      Mode      `json:"mode"`
}

// JobRequest carries everything needed to create a job.
type JobRequest struct {
	Idea          string
	Mode          Mode
	Model         string
	Context       string
	Intent        Intent
	WebhookURL    string
	WebhookSecret string
}

type JobFilter struct {
	Status JobStatus
	Mode   Mode
}

func (f JobFilter) Match(m JobMeta) bool {
	if f.Status != "" && m.Status != f.Status {
		return false
	}
	if f.Mode != "" && m.Mode != f.Mode {
		return false
	}
	return true
}

type JobPage struct {
	Jobs  []*Job `json:"jobs"`
	Total int    `json:"total"`
}
