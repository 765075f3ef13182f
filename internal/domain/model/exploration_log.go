package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ExplorationRun is one record in a research directory's exploration log.
type ExplorationRun struct {
	JobID        string     `json:"job_id"`
	RunAt        time.Time  `json:"run_at"`
	Mode         Mode       `json:"mode"`
	Model        string     `json:"model"`
	Intent       IntentKind `json:"intent"`
	ResearchPath string     `json:"research_path"`
	InputTokens  int        `json:"input_tokens"`
	OutputTokens int        `json:"output_tokens"`
}

// ExplorationLog is an append-only list of runs.
type ExplorationLog []ExplorationRun

// ParseExplorationLog decodes prior log content. Unusable content yields an
// empty log and a warning; it is never an error.
func ParseExplorationLog(raw string) (ExplorationLog, string) {
	if strings.TrimSpace(raw) == "" {
		return ExplorationLog{}, ""
	}
	var log ExplorationLog
	if err := json.Unmarshal([]byte(raw), &log); err != nil {
		return ExplorationLog{}, fmt.Sprintf("discarded unparseable exploration log: %v", err)
	}
	if log == nil {
		log = ExplorationLog{}
	}
	return log, ""
}

func (l ExplorationLog) Append(run ExplorationRun) ExplorationLog {
	return append(l, run)
}

// Has reports whether jobID already recorded a run.
func (l ExplorationLog) Has(jobID string) bool {
	for _, r := range l {
		if r.JobID == jobID {
			return true
		}
	}
	return false
}

func (l ExplorationLog) Encode() (string, error) {
	b, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b) + "\n", nil
}
