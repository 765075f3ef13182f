// Package github implements the content store on the GitHub Contents API.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"idea-explorer/internal/config"
	"idea-explorer/internal/domain"
	"idea-explorer/internal/domain/ports/adapter"
	"idea-explorer/internal/infra/metrics"

	gh "github.com/google/go-github/v66/github"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const rawHost = "https://raw.githubusercontent.com"

var _ adapter.ContentStore = (*Store)(nil)

// Factory builds one Store per job run. All stores share a request limiter.
type Factory struct {
	cfg     config.GitHubConfig
	http    *http.Client
	limiter *rate.Limiter
	log     *zerolog.Logger
}

func NewFactory(cfg config.GitHubConfig, httpClient *http.Client, logger *zerolog.Logger) *Factory {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	l := logger.With().Str("component", "GitHubStore").Logger()
	return &Factory{cfg: cfg, http: httpClient, limiter: rate.NewLimiter(limit, 1), log: &l}
}

// New returns a store bound to jobID for logging.
func (f *Factory) New(jobID string) (*Store, error) {
	client := gh.NewClient(f.http)
	if f.cfg.Token != "" {
		client = client.WithAuthToken(f.cfg.Token)
	}
	if base := strings.TrimSpace(f.cfg.BaseURL); base != "" {
		u, err := url.Parse(strings.TrimSuffix(base, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("github base url: %w", err)
		}
		client.BaseURL = u
	}
	l := f.log.With().Str("job_id", jobID).Logger()
	return &Store{
		client:  client,
		owner:   f.cfg.Owner,
		repo:    f.cfg.Repo,
		branch:  f.cfg.Branch,
		limiter: f.limiter,
		log:     &l,
	}, nil
}

// Store reads and writes files on one branch of one repository.
type Store struct {
	client  *gh.Client
	owner   string
	repo    string
	branch  string
	limiter *rate.Limiter
	log     *zerolog.Logger
}

func (s *Store) GetFile(ctx context.Context, p string) (*adapter.FileContent, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	file, _, resp, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, p, s.ref())
	if err != nil {
		if statusOf(resp, err) == http.StatusNotFound {
			metrics.IncContentRequest("get", "absent")
			return nil, nil
		}
		metrics.IncContentRequest("get", "error")
		return nil, s.wrap("get", p, resp, err)
	}
	if file == nil {
		// Path is a directory.
		metrics.IncContentRequest("get", "absent")
		return nil, nil
	}
	content, err := file.GetContent()
	if err != nil {
		metrics.IncContentRequest("get", "error")
		return nil, fmt.Errorf("%w: decode %s: %v", domain.ErrContentStore, p, err)
	}
	metrics.IncContentRequest("get", "ok")
	return &adapter.FileContent{
		Path:    file.GetPath(),
		Content: content,
		SHA:     file.GetSHA(),
		HTMLURL: file.GetHTMLURL(),
	}, nil
}

// CreateFile creates p. When the file already exists it is re-fetched and
// replaced once using the fresh sha.
func (s *Store) CreateFile(ctx context.Context, p, content, message string) (*adapter.FileRef, error) {
	ref, err := s.put(ctx, "create", p, content, "", message)
	if err == nil || !errors.Is(err, domain.ErrConflict) {
		return ref, err
	}

	metrics.IncContentConflict()
	s.log.Info().Str("path", p).Msg("create conflicted; updating existing file")
	current, gErr := s.GetFile(ctx, p)
	if gErr != nil {
		return nil, gErr
	}
	if current == nil {
		return nil, err
	}
	return s.put(ctx, "update", p, content, current.SHA, message)
}

func (s *Store) UpdateFile(ctx context.Context, p, content, sha, message string) (*adapter.FileRef, error) {
	return s.put(ctx, "update", p, content, sha, message)
}

func (s *Store) put(ctx context.Context, op, p, content, sha, message string) (*adapter.FileRef, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	opts := &gh.RepositoryContentFileOptions{
		Message: gh.String(message),
		Content: []byte(content),
	}
	if s.branch != "" {
		opts.Branch = gh.String(s.branch)
	}
	var (
		res  *gh.RepositoryContentResponse
		resp *gh.Response
		err  error
	)
	if sha == "" {
		res, resp, err = s.client.Repositories.CreateFile(ctx, s.owner, s.repo, p, opts)
	} else {
		opts.SHA = gh.String(sha)
		res, resp, err = s.client.Repositories.UpdateFile(ctx, s.owner, s.repo, p, opts)
	}
	if err != nil {
		metrics.IncContentRequest(op, "error")
		return nil, s.wrap(op, p, resp, err)
	}
	metrics.IncContentRequest(op, "ok")

	ref := &adapter.FileRef{Path: p, RawURL: s.RawURL(p)}
	if res != nil && res.Content != nil {
		ref.SHA = res.Content.GetSHA()
		ref.HTMLURL = res.Content.GetHTMLURL()
	}
	if ref.HTMLURL == "" {
		ref.HTMLURL = s.htmlURL(p)
	}
	return ref, nil
}

func (s *Store) ListDirectory(ctx context.Context, p string) ([]adapter.DirectoryEntry, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	_, dir, resp, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, p, s.ref())
	if err != nil {
		if statusOf(resp, err) == http.StatusNotFound {
			metrics.IncContentRequest("list", "absent")
			return []adapter.DirectoryEntry{}, nil
		}
		metrics.IncContentRequest("list", "error")
		return nil, s.wrap("list", p, resp, err)
	}
	metrics.IncContentRequest("list", "ok")

	out := make([]adapter.DirectoryEntry, 0, len(dir))
	for _, e := range dir {
		t := adapter.EntryFile
		if e.GetType() == "dir" {
			t = adapter.EntryDir
		}
		out = append(out, adapter.DirectoryEntry{Name: e.GetName(), Path: e.GetPath(), Type: t})
	}
	return out, nil
}

func (s *Store) RawURL(p string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", rawHost, s.owner, s.repo, s.branchOrDefault(), strings.TrimPrefix(p, "/"))
}

func (s *Store) htmlURL(p string) string {
	return "https://github.com/" + path.Join(s.owner, s.repo, "blob", s.branchOrDefault(), p)
}

func (s *Store) branchOrDefault() string {
	if s.branch == "" {
		return "main"
	}
	return s.branch
}

func (s *Store) ref() *gh.RepositoryContentGetOptions {
	if s.branch == "" {
		return nil
	}
	return &gh.RepositoryContentGetOptions{Ref: s.branch}
}

func (s *Store) wrap(op, p string, resp *gh.Response, err error) error {
	code := statusOf(resp, err)
	switch code {
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s %s: status %d", domain.ErrConflict, op, p, code)
	case 0:
		return fmt.Errorf("%w: %s %s: %v", domain.ErrContentStore, op, p, err)
	default:
		s.log.Warn().Int("status", code).Str("op", op).Str("path", p).Msg("github request failed")
		return fmt.Errorf("%w: %s %s: status %d: %v", domain.ErrContentStore, op, p, code, err)
	}
}

func statusOf(resp *gh.Response, err error) int {
	var er *gh.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		return er.Response.StatusCode
	}
	if resp != nil && resp.Response != nil {
		return resp.StatusCode
	}
	return 0
}
