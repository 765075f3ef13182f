package model

const WebhookEventIdeaExplored = "idea_explored"

// WebhookPayload is the JSON body POSTed to a job's callback URL.
// Success payloads carry the GitHub URLs, failure payloads carry Error.
type WebhookPayload struct {
	Event         string           `json:"event"`
	Status        JobStatus        `json:"status"`
	JobID         string           `json:"job_id"`
	Idea          string           `json:"idea"`
	GitHubURL     string           `json:"github_url,omitempty"`
	GitHubRawURL  string           `json:"github_raw_url,omitempty"`
	Error         string           `json:"error,omitempty"`
	StepDurations map[string]int64 `json:"step_durations,omitempty"`
}

func CompletedPayload(j *Job, githubURL, rawURL string) WebhookPayload {
	return WebhookPayload{
		Event:         WebhookEventIdeaExplored,
		Status:        JobStatusCompleted,
		JobID:         j.ID,
		Idea:          j.Idea,
		GitHubURL:     githubURL,
		GitHubRawURL:  rawURL,
		StepDurations: j.StepDurations,
	}
}

func FailedPayload(j *Job, errMsg string) WebhookPayload {
	return WebhookPayload{
		Event:         WebhookEventIdeaExplored,
		Status:        JobStatusFailed,
		JobID:         j.ID,
		Idea:          j.Idea,
		Error:         errMsg,
		StepDurations: j.StepDurations,
	}
}
