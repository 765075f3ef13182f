package usecase_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"idea-explorer/internal/domain"
	"idea-explorer/internal/domain/model"
	"idea-explorer/internal/infra/step"
	"idea-explorer/internal/usecase"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)

type harness struct {
	jobs     *memJobs
	store    *memStore
	gen      *fakeGen
	notifier *fakeNotifier
	cps      *step.MemoryCheckpoints
	explorer *usecase.Explorer
}

func newHarness() *harness {
	now := func() time.Time { return fixedNow }
	logger := zerolog.Nop()
	h := &harness{
		jobs:     newMemJobs(now),
		store:    newMemStore(),
		gen:      &fakeGen{},
		notifier: &fakeNotifier{},
		cps:      step.NewMemoryCheckpoints(),
	}
	h.explorer = usecase.NewExplorer(h.jobs, h.gen, h.notifier, "ideas", &logger, usecase.WithExplorerClock(now))
	return h
}

func (h *harness) submit(t *testing.T, idea string, intent model.Intent) *model.Job {
	t.Helper()
	j, err := h.jobs.Create(context.Background(), model.JobRequest{
		Idea:       idea,
		Mode:       model.ModeBusiness,
		Model:      model.DefaultModel,
		Intent:     intent,
		WebhookURL: "https://hooks.example.org/cb",
	})
	require.NoError(t, err)
	return j
}

func (h *harness) run(jobID string) error {
	logger := zerolog.Nop()
	r := step.NewRunner(h.cps, jobID, &logger, step.WithSleep(func(context.Context, time.Duration) error { return nil }))
	return h.explorer.Run(context.Background(), jobID, h.store, r)
}

func (h *harness) get(t *testing.T, id string) *model.Job {
	t.Helper()
	j, err := h.jobs.Get(context.Background(), id)
	require.NoError(t, err)
	return j
}

func TestRun_NewIdeaCompletesAndNotifies(t *testing.T) {
	h := newHarness()
	job := h.submit(t, "Solar Kiosks!", model.NewIdeaIntent())

	require.NoError(t, h.run(job.ID))

	const research = "ideas/2026-01-10-solar-kiosks/research.md"
	assert.Equal(t, "NEW RESEARCH", h.store.files[research])

	got := h.get(t, job.ID)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, research, got.ResultPath)
	assert.Equal(t, "https://github.com/o/r/blob/main/"+research, got.GitHubURL)
	assert.Equal(t, "https://raw.githubusercontent.com/o/r/main/"+research, got.GitHubRawURL)
	assert.Empty(t, got.Error)
	require.NotNil(t, got.NotifiedAt)
	assert.Equal(t, 5, got.StepsCompleted)
	assert.Equal(t, 10, got.InputTokens)
	assert.Equal(t, 20, got.OutputTokens)
	assert.True(t, got.WebhookDelivered)
	assert.Equal(t, 1, got.WebhookAttempts)
	for _, name := range []string{"initialize", "check-existing", "generate", "write", "notify"} {
		assert.Contains(t, got.StepDurations, name)
	}

	require.Equal(t, 1, h.notifier.count())
	p := h.notifier.payloads[0]
	assert.Equal(t, model.WebhookEventIdeaExplored, p.Event)
	assert.Equal(t, model.JobStatusCompleted, p.Status)
	assert.Equal(t, got.GitHubURL, p.GitHubURL)
	assert.Empty(t, p.Error)

	var runs model.ExplorationLog
	require.NoError(t, json.Unmarshal([]byte(h.store.files["ideas/2026-01-10-solar-kiosks/exploration-log.json"]), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, job.ID, runs[0].JobID)
	assert.Equal(t, model.IntentNew, runs[0].Intent)
	assert.Equal(t, research, runs[0].ResearchPath)
}

func TestRun_UpdateAppendsToLatestMatchingDirectory(t *testing.T) {
	h := newHarness()
	h.store.seed("ideas/2026-01-01-foo/research.md", "FIRST")
	h.store.seed("ideas/2026-01-05-foo/research.md", "OLD")
	h.store.seed("ideas/2026-01-07-foobar/research.md", "OTHER")
	job := h.submit(t, "foo", model.UpdateIntent())

	require.NoError(t, h.run(job.ID))

	assert.Equal(t, "OLD\n\nNEW RESEARCH", h.store.files["ideas/2026-01-05-foo/research.md"])
	assert.Equal(t, "FIRST", h.store.files["ideas/2026-01-01-foo/research.md"])
	assert.Equal(t, "OTHER", h.store.files["ideas/2026-01-07-foobar/research.md"])
	require.Len(t, h.gen.reqs, 1)
	assert.Equal(t, "OLD", h.gen.reqs[0].ExistingContent)

	got := h.get(t, job.ID)
	assert.Equal(t, "ideas/2026-01-05-foo/research.md", got.ResultPath)
	assert.NotContains(t, h.store.files, "ideas/2026-01-10-foo/research.md")
}

func TestRun_RetriedUpdateDoesNotAppendTwice(t *testing.T) {
	h := newHarness()
	h.store.seed("ideas/2026-01-05-foo/research.md", "OLD")
	store := &flakyStore{memStore: h.store}
	job := h.submit(t, "foo", model.UpdateIntent())

	logger := zerolog.Nop()
	r := step.NewRunner(h.cps, job.ID, &logger, step.WithSleep(func(context.Context, time.Duration) error { return nil }))
	require.NoError(t, h.explorer.Run(context.Background(), job.ID, store, r))

	assert.True(t, store.failed)
	assert.Equal(t, "OLD\n\nNEW RESEARCH", h.store.files["ideas/2026-01-05-foo/research.md"])

	got := h.get(t, job.ID)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, "https://github.com/o/r/blob/main/ideas/2026-01-05-foo/research.md", got.GitHubURL)
	assert.Equal(t, "https://raw.githubusercontent.com/o/r/main/ideas/2026-01-05-foo/research.md", got.GitHubRawURL)

	var runs model.ExplorationLog
	require.NoError(t, json.Unmarshal([]byte(h.store.files["ideas/2026-01-05-foo/exploration-log.json"]), &runs))
	assert.Len(t, runs, 1)
}

func TestRun_CommitMessageTruncatesOnRuneBoundary(t *testing.T) {
	h := newHarness()
	store := &flakyStore{memStore: h.store}
	idea := strings.Repeat("日本", 40)
	job := h.submit(t, idea, model.NewIdeaIntent())

	logger := zerolog.Nop()
	r := step.NewRunner(h.cps, job.ID, &logger, step.WithSleep(func(context.Context, time.Duration) error { return nil }))
	require.NoError(t, h.explorer.Run(context.Background(), job.ID, store, r))

	require.NotEmpty(t, store.messages)
	want := "Add research: " + string([]rune(idea)[:60]) + "... (job " + job.ID + ")"
	assert.Equal(t, want, store.messages[0])
	for _, m := range store.messages {
		assert.True(t, utf8.ValidString(m), "commit message is not valid UTF-8: %q", m)
	}
}

func TestRun_UpdateWithoutMatchCreatesNew(t *testing.T) {
	h := newHarness()
	h.store.seed("ideas/2026-01-05-bar/research.md", "BAR")
	job := h.submit(t, "foo", model.UpdateIntent())

	require.NoError(t, h.run(job.ID))
	assert.Equal(t, "NEW RESEARCH", h.store.files["ideas/2026-01-10-foo/research.md"])
	assert.Empty(t, h.gen.reqs[0].ExistingContent)
}

func TestRun_UnparseableLogIsReplacedWithWarning(t *testing.T) {
	h := newHarness()
	h.store.seed("ideas/2026-01-05-foo/research.md", "OLD")
	h.store.seed("ideas/2026-01-05-foo/exploration-log.json", "{not json")
	job := h.submit(t, "foo", model.UpdateIntent())

	require.NoError(t, h.run(job.ID))

	var runs model.ExplorationLog
	require.NoError(t, json.Unmarshal([]byte(h.store.files["ideas/2026-01-05-foo/exploration-log.json"]), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, model.IntentUpdate, runs[0].Intent)

	got := h.get(t, job.ID)
	require.Len(t, got.Warnings, 1)
	assert.Contains(t, got.Warnings[0], "exploration log")
	assert.Equal(t, model.JobStatusCompleted, got.Status)
}

func TestRun_ExistingLogIsAppended(t *testing.T) {
	h := newHarness()
	h.store.seed("ideas/2026-01-05-foo/research.md", "OLD")
	prior, _ := model.ExplorationLog{{JobID: "earlier", Intent: model.IntentNew}}.Encode()
	h.store.seed("ideas/2026-01-05-foo/exploration-log.json", prior)
	job := h.submit(t, "foo", model.UpdateIntent())

	require.NoError(t, h.run(job.ID))

	var runs model.ExplorationLog
	require.NoError(t, json.Unmarshal([]byte(h.store.files["ideas/2026-01-05-foo/exploration-log.json"]), &runs))
	require.Len(t, runs, 2)
	assert.Equal(t, "earlier", runs[0].JobID)
	assert.Equal(t, job.ID, runs[1].JobID)
	assert.Empty(t, h.get(t, job.ID).Warnings)
}

func TestRun_GenerationFailureFailsAndNotifies(t *testing.T) {
	h := newHarness()
	h.gen.fail = errors.New("model overloaded")
	job := h.submit(t, "doomed", model.NewIdeaIntent())

	err := h.run(job.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
	assert.Equal(t, 3, h.gen.calls)

	got := h.get(t, job.ID)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Contains(t, got.Error, "model overloaded")
	assert.Empty(t, got.GitHubURL)
	assert.NotNil(t, got.NotifiedAt)
	assert.Empty(t, h.store.writes)

	require.Equal(t, 1, h.notifier.count())
	assert.Equal(t, model.JobStatusFailed, h.notifier.payloads[0].Status)
	assert.Contains(t, h.notifier.payloads[0].Error, "model overloaded")

	// A later invocation finds the job notified and does nothing.
	require.NoError(t, h.run(job.ID))
	assert.Equal(t, 1, h.notifier.count())
	assert.Equal(t, 3, h.gen.calls)
}

func TestRun_ReplayNotifiesOnce(t *testing.T) {
	h := newHarness()
	job := h.submit(t, "replay me", model.NewIdeaIntent())

	require.NoError(t, h.run(job.ID))
	require.NoError(t, h.run(job.ID))

	h.cps.Forget(job.ID, usecase.StepNotify)
	require.NoError(t, h.run(job.ID))

	_, err := h.explorer.CompleteAndNotify(context.Background(), job.ID, usecase.Outcome{Status: model.JobStatusCompleted})
	require.NoError(t, err)

	assert.Equal(t, 1, h.notifier.count())
	assert.Equal(t, 1, h.gen.calls)
}

func TestRun_TerminalJobIsNotifiedWithStoredOutcome(t *testing.T) {
	h := newHarness()
	job := h.submit(t, "half done", model.NewIdeaIntent())
	job.Status = model.JobStatusFailed
	job.Error = "worker crashed"
	h.jobs.put(job)

	require.NoError(t, h.run(job.ID))

	assert.Zero(t, h.gen.calls)
	require.Equal(t, 1, h.notifier.count())
	assert.Equal(t, model.JobStatusFailed, h.notifier.payloads[0].Status)
	assert.Equal(t, "worker crashed", h.notifier.payloads[0].Error)
	assert.NotNil(t, h.get(t, job.ID).NotifiedAt)
}

func TestCompleteAndNotify_KeepsStoredTerminalOutcome(t *testing.T) {
	h := newHarness()
	job := h.submit(t, "x", model.NewIdeaIntent())
	job.Status = model.JobStatusCompleted
	job.GitHubURL = "https://github.com/o/r/blob/main/ideas/x/research.md"
	h.jobs.put(job)

	_, err := h.explorer.CompleteAndNotify(context.Background(), job.ID, usecase.Outcome{Status: model.JobStatusFailed, Error: "late failure"})
	require.NoError(t, err)

	got := h.get(t, job.ID)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Empty(t, got.Error)
	assert.Equal(t, model.JobStatusCompleted, h.notifier.payloads[0].Status)
}

func TestCompleteAndNotify_RecordsUndeliveredWebhook(t *testing.T) {
	h := newHarness()
	h.notifier.result.Attempts = 3
	h.notifier.result.LastStatus = 500
	job := h.submit(t, "x", model.NewIdeaIntent())

	res, err := h.explorer.CompleteAndNotify(context.Background(), job.ID, usecase.Outcome{Status: model.JobStatusFailed, Error: "boom"})
	require.NoError(t, err)
	assert.False(t, res.Delivered)

	got := h.get(t, job.ID)
	assert.NotNil(t, got.NotifiedAt)
	assert.False(t, got.WebhookDelivered)
	assert.Equal(t, 3, got.WebhookAttempts)
	assert.Equal(t, 500, got.WebhookLastStatus)
}

func TestRun_ContinueUsesPriorResearch(t *testing.T) {
	h := newHarness()
	prior := h.submit(t, "origin", model.NewIdeaIntent())
	prior.Status = model.JobStatusCompleted
	prior.ResultPath = "ideas/2026-01-02-origin/research.md"
	h.jobs.put(prior)
	h.store.seed(prior.ResultPath, "PRIOR FINDINGS")

	job := h.submit(t, "origin", model.ContinueIntent(prior.ID))
	require.NoError(t, h.run(job.ID))

	assert.Equal(t, "PRIOR FINDINGS", h.gen.reqs[0].ExistingContent)
	assert.Equal(t, "PRIOR FINDINGS", h.store.files[prior.ResultPath])
	assert.Equal(t, "NEW RESEARCH", h.store.files["ideas/2026-01-10-origin/research.md"])
}

func TestRun_ContinueFromMissingOrPendingJobProceeds(t *testing.T) {
	h := newHarness()
	pending := h.submit(t, "unfinished", model.NewIdeaIntent())

	for _, id := range []string{"does-not-exist", pending.ID} {
		job := h.submit(t, "next", model.ContinueIntent(id))
		require.NoError(t, h.run(job.ID))
		assert.Equal(t, model.JobStatusCompleted, h.get(t, job.ID).Status)
	}
	for _, r := range h.gen.reqs {
		assert.Empty(t, r.ExistingContent)
	}
}

func TestRun_UnknownJob(t *testing.T) {
	h := newHarness()
	assert.ErrorIs(t, h.run("missing"), domain.ErrNotFound)
}
