package model

import (
	"fmt"
	"time"

	"idea-explorer/internal/domain"
)

// JobPatch is a partial update. Nil fields are left untouched;
// StepDurations and Warnings are merged, never replaced.
type JobPatch struct {
	Status       *JobStatus
	GitHubURL    *string
	GitHubRawURL *string
	ResultPath   *string
	Error        *string
	Warnings     []string
	NotifiedAt   *time.Time

	CurrentStep      *int
	CurrentStepLabel *string
	StepsCompleted   *int
	StepStartedAt    *time.Time
	StepDurations    map[string]int64

	InputTokens  *int
	OutputTokens *int

	WebhookAttempts   *int
	WebhookDelivered  *bool
	WebhookLastStatus *int
}

// Apply merges p into j. It refuses to move a job out of a terminal
// status, refuses to rewrite the outcome of a terminal job and refuses
// to set notified_at twice.
func (p JobPatch) Apply(j *Job, now time.Time) error {
	if p.Status != nil && !j.Status.CanTransition(*p.Status) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, j.Status, *p.Status)
	}
	if j.Status.IsTerminal() {
		if field := p.outcomeChange(j); field != "" {
			return fmt.Errorf("%w: job %s is %s, %s is final", domain.ErrInvalidTransition, j.ID, j.Status, field)
		}
	}
	if p.NotifiedAt != nil && j.NotifiedAt != nil {
		return fmt.Errorf("%w: job %s already notified", domain.ErrInvalidTransition, j.ID)
	}

	if p.Status != nil {
		j.Status = *p.Status
	}
	if p.GitHubURL != nil {
		j.GitHubURL = *p.GitHubURL
	}
	if p.GitHubRawURL != nil {
		j.GitHubRawURL = *p.GitHubRawURL
	}
	if p.ResultPath != nil {
		j.ResultPath = *p.ResultPath
	}
	if p.Error != nil {
		j.Error = *p.Error
	}
	if len(p.Warnings) > 0 {
		j.Warnings = append(j.Warnings, p.Warnings...)
	}
	if p.NotifiedAt != nil {
		t := p.NotifiedAt.UTC()
		j.NotifiedAt = &t
	}
	if p.CurrentStep != nil {
		j.CurrentStep = *p.CurrentStep
	}
	if p.CurrentStepLabel != nil {
		j.CurrentStepLabel = *p.CurrentStepLabel
	}
	if p.StepsCompleted != nil {
		j.StepsCompleted = *p.StepsCompleted
	}
	if p.StepStartedAt != nil {
		t := p.StepStartedAt.UTC()
		j.StepStartedAt = &t
	}
	j.StepDurations = MergeDurations(j.StepDurations, p.StepDurations)
	if p.InputTokens != nil {
		j.InputTokens = *p.InputTokens
	}
	if p.OutputTokens != nil {
		j.OutputTokens = *p.OutputTokens
	}
	if p.WebhookAttempts != nil {
		j.WebhookAttempts = *p.WebhookAttempts
	}
	if p.WebhookDelivered != nil {
		j.WebhookDelivered = *p.WebhookDelivered
	}
	if p.WebhookLastStatus != nil {
		j.WebhookLastStatus = *p.WebhookLastStatus
	}
	j.UpdatedAt = now.UTC()
	return nil
}

// outcomeChange names the first outcome field p would change on j.
func (p JobPatch) outcomeChange(j *Job) string {
	switch {
	case p.Status != nil && *p.Status != j.Status:
		return "status"
	case p.GitHubURL != nil && *p.GitHubURL != j.GitHubURL:
		return "github_url"
	case p.GitHubRawURL != nil && *p.GitHubRawURL != j.GitHubRawURL:
		return "github_raw_url"
	case p.Error != nil && *p.Error != j.Error:
		return "error"
	}
	return ""
}

// MergeDurations adds keys from extra that are missing in base.
// Existing entries are kept as they are.
func MergeDurations(base, extra map[string]int64) map[string]int64 {
	if len(extra) == 0 {
		return base
	}
	if base == nil {
		base = make(map[string]int64, len(extra))
	}
	for k, v := range extra {
		if _, ok := base[k]; !ok {
			base[k] = v
		}
	}
	return base
}

func Ptr[T any](v T) *T { return &v }
