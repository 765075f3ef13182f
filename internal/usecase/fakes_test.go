package usecase_test

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"idea-explorer/internal/domain"
	"idea-explorer/internal/domain/model"
	"idea-explorer/internal/domain/ports/adapter"
)

type memJobs struct {
	mu   sync.Mutex
	jobs map[string]*model.Job
	seq  int
	now  func() time.Time
}

func newMemJobs(now func() time.Time) *memJobs {
	return &memJobs{jobs: map[string]*model.Job{}, now: now}
}

func clone(j *model.Job) *model.Job {
	cp := *j
	cp.Warnings = append([]string(nil), j.Warnings...)
	if j.StepDurations != nil {
		cp.StepDurations = map[string]int64{}
		for k, v := range j.StepDurations {
			cp.StepDurations[k] = v
		}
	}
	return &cp
}

func (m *memJobs) Create(_ context.Context, req model.JobRequest) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	now := m.now().UTC()
	j := &model.Job{
		ID:            fmt.Sprintf("job-%d", m.seq),
		Idea:          req.Idea,
		Mode:          req.Mode,
		Model:         req.Model,
		Status:        model.JobStatusPending,
		Context:       req.Context,
		Intent:        req.Intent,
		WebhookURL:    req.WebhookURL,
		WebhookSecret: req.WebhookSecret,
		CreatedAt:     now,
		UpdatedAt:     now,
		StepsTotal:    5,
	}
	m.jobs[j.ID] = j
	return clone(j), nil
}

func (m *memJobs) put(j *model.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = clone(j)
}

func (m *memJobs) Get(_ context.Context, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(j), nil
}

func (m *memJobs) Update(_ context.Context, id string, patch model.JobPatch, _ *model.Job) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := clone(j)
	if err := patch.Apply(cp, m.now()); err != nil {
		return nil, err
	}
	m.jobs[id] = cp
	return clone(cp), nil
}

func (m *memJobs) List(_ context.Context, f model.JobFilter, limit, offset int) (*model.JobPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Job
	for _, j := range m.jobs {
		if f.Match(j.Projection()) {
			out = append(out, clone(j))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID > out[k].ID })
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return &model.JobPage{Jobs: out, Total: total}, nil
}

// memStore is an in-memory content store with sha-checked updates.
type memStore struct {
	mu      sync.Mutex
	files   map[string]string
	version map[string]int
	writes  []string
}

func newMemStore() *memStore {
	return &memStore{files: map[string]string{}, version: map[string]int{}}
}

func (s *memStore) sha(p string) string { return fmt.Sprintf("%s@%d", p, s.version[p]) }

func (s *memStore) seed(p, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[p] = content
	s.version[p]++
}

func (s *memStore) GetFile(_ context.Context, p string) (*adapter.FileContent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.files[p]
	if !ok {
		return nil, nil
	}
	return &adapter.FileContent{Path: p, Content: c, SHA: s.sha(p), HTMLURL: "https://github.com/o/r/blob/main/" + p}, nil
}

func (s *memStore) CreateFile(_ context.Context, p, content, _ string) (*adapter.FileRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[p] = content
	s.version[p]++
	s.writes = append(s.writes, p)
	return s.ref(p), nil
}

func (s *memStore) UpdateFile(_ context.Context, p, content, sha, _ string) (*adapter.FileRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[p]; !ok || s.sha(p) != sha {
		return nil, domain.ErrConflict
	}
	s.files[p] = content
	s.version[p]++
	s.writes = append(s.writes, p)
	return s.ref(p), nil
}

func (s *memStore) ref(p string) *adapter.FileRef {
	return &adapter.FileRef{Path: p, SHA: s.sha(p), HTMLURL: "https://github.com/o/r/blob/main/" + p, RawURL: s.RawURL(p)}
}

func (s *memStore) ListDirectory(_ context.Context, dir string) ([]adapter.DirectoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	out := []adapter.DirectoryEntry{}
	for p := range s.files {
		rest, ok := strings.CutPrefix(p, dir+"/")
		if !ok {
			continue
		}
		name, _, isDir := strings.Cut(rest, "/")
		if seen[name] {
			continue
		}
		seen[name] = true
		t := adapter.EntryFile
		if isDir {
			t = adapter.EntryDir
		}
		out = append(out, adapter.DirectoryEntry{Name: name, Path: dir + "/" + name, Type: t})
	}
	return out, nil
}

func (s *memStore) RawURL(p string) string {
	return "https://raw.githubusercontent.com/o/r/main/" + p
}

type fakeGen struct {
	mu    sync.Mutex
	calls int
	reqs  []adapter.GenerateRequest
	fail  error
	reply string
}

func (g *fakeGen) Generate(_ context.Context, req adapter.GenerateRequest) (adapter.GenerateResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.reqs = append(g.reqs, req)
	if g.fail != nil {
		return adapter.GenerateResult{}, g.fail
	}
	reply := g.reply
	if reply == "" {
		reply = "NEW RESEARCH"
	}
	return adapter.GenerateResult{Content: reply, InputTokens: 10, OutputTokens: 20}, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	payloads []model.WebhookPayload
	targets  []adapter.WebhookTarget
	result   adapter.DeliveryResult
}

func (n *fakeNotifier) Send(_ context.Context, t adapter.WebhookTarget, p model.WebhookPayload) adapter.DeliveryResult {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.targets = append(n.targets, t)
	n.payloads = append(n.payloads, p)
	if n.result == (adapter.DeliveryResult{}) {
		return adapter.DeliveryResult{Delivered: true, Attempts: 1, LastStatus: 200}
	}
	return n.result
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.payloads)
}

type fakeDispatcher struct {
	ids []string
	err error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, id string) error {
	d.ids = append(d.ids, id)
	return d.err
}

// flakyStore commits the first research update and then reports a failure,
// as a lost response from the API would. It records every commit message.
type flakyStore struct {
	*memStore
	failed   bool
	messages []string
}

func (s *flakyStore) CreateFile(ctx context.Context, p, content, msg string) (*adapter.FileRef, error) {
	s.messages = append(s.messages, msg)
	return s.memStore.CreateFile(ctx, p, content, msg)
}

func (s *flakyStore) UpdateFile(ctx context.Context, p, content, sha, msg string) (*adapter.FileRef, error) {
	s.messages = append(s.messages, msg)
	ref, err := s.memStore.UpdateFile(ctx, p, content, sha, msg)
	if err == nil && !s.failed && strings.HasSuffix(p, "/research.md") {
		s.failed = true
		return nil, fmt.Errorf("connection reset")
	}
	return ref, err
}
