package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"idea-explorer/internal/domain"
)

type IntentKind string

const (
	IntentNew      IntentKind = "new"
	IntentUpdate   IntentKind = "update"
	IntentContinue IntentKind = "continue"
)

// Intent says how a job relates to earlier research: a fresh idea, an
// update of the latest matching research, or a continuation of a prior job.
// Only one kind can be held at a time.
type Intent struct {
	kind  IntentKind
	jobID string
}

func NewIdeaIntent() Intent { return Intent{kind: IntentNew} }

func UpdateIntent() Intent { return Intent{kind: IntentUpdate} }

func ContinueIntent(jobID string) Intent {
	return Intent{kind: IntentContinue, jobID: strings.TrimSpace(jobID)}
}

// IntentFromFlags maps the boundary flags onto an Intent. Both set is rejected.
func IntentFromFlags(update bool, continueFrom string) (Intent, error) {
	continueFrom = strings.TrimSpace(continueFrom)
	switch {
	case update && continueFrom != "":
		return Intent{}, fmt.Errorf("%w: update and continue_from are mutually exclusive", domain.ErrValidation)
	case update:
		return UpdateIntent(), nil
	case continueFrom != "":
		return ContinueIntent(continueFrom), nil
	}
	return NewIdeaIntent(), nil
}

func (i Intent) Kind() IntentKind {
	if i.kind == "" {
		return IntentNew
	}
	return i.kind
}

func (i Intent) IsUpdate() bool { return i.Kind() == IntentUpdate }

// ContinueFrom returns the prior job id for a continue intent.
func (i Intent) ContinueFrom() (string, bool) {
	if i.Kind() != IntentContinue {
		return "", false
	}
	return i.jobID, true
}

type intentJSON struct {
	Kind  IntentKind `json:"kind"`
	JobID string     `json:"job_id,omitempty"`
}

func (i Intent) MarshalJSON() ([]byte, error) {
	return json.Marshal(intentJSON{Kind: i.Kind(), JobID: i.jobID})
}

func (i *Intent) UnmarshalJSON(b []byte) error {
	var raw intentJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch raw.Kind {
	case "", IntentNew:
		*i = NewIdeaIntent()
	case IntentUpdate:
		*i = UpdateIntent()
	case IntentContinue:
		*i = ContinueIntent(raw.JobID)
	default:
		return fmt.Errorf("unknown intent kind %q", raw.Kind)
	}
	return nil
}
