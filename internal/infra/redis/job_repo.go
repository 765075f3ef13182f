package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"idea-explorer/internal/domain"
	"idea-explorer/internal/domain/model"
	"idea-explorer/internal/domain/ports/repository"

	"github.com/go-redis/redis/v8"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

const (
	jobIndexKey     = "jobs:index"
	defaultPageSize = 20
	maxPageSize     = 100
	pipelineSteps   = 5
)

// SecretSealer protects webhook secrets inside persisted records.
type SecretSealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

var _ repository.JobRepository = (*JobRepo)(nil)

// JobRepo stores each job as a JSON record plus a small metadata projection
// used for filtered listing. Ids are indexed in a sorted set by creation time.
type JobRepo struct {
	client RedisClient
	sealer SecretSealer
	ttl    time.Duration
	now    func() time.Time
	log    *zerolog.Logger
}

type JobRepoOption func(*JobRepo)

func WithSealer(s SecretSealer) JobRepoOption { return func(r *JobRepo) { r.sealer = s } }

func WithJobTTL(ttl time.Duration) JobRepoOption { return func(r *JobRepo) { r.ttl = ttl } }

func WithClock(now func() time.Time) JobRepoOption { return func(r *JobRepo) { r.now = now } }

func NewJobRepo(client RedisClient, logger *zerolog.Logger, opts ...JobRepoOption) *JobRepo {
	l := logger.With().Str("component", "JobRepo").Logger()
	r := &JobRepo{client: client, now: time.Now, log: &l}
	for _, o := range opts {
		o(r)
	}
	return r
}

func jobKey(id string) string  { return "job:" + id }
func metaKey(id string) string { return "job:" + id + ":meta" }

func (r *JobRepo) Create(ctx context.Context, req model.JobRequest) (*model.Job, error) {
	now := r.now().UTC()
	mode := req.Mode
	if mode == "" {
		mode = model.ModeBusiness
	}
	modelName := req.Model
	if modelName == "" {
		modelName = model.DefaultModel
	}
	job := &model.Job{
		ID:            ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Idea:          strings.TrimSpace(req.Idea),
		Mode:          mode,
		Model:         modelName,
		Status:        model.JobStatusPending,
		Context:       req.Context,
		Intent:        req.Intent,
		WebhookURL:    req.WebhookURL,
		WebhookSecret: req.WebhookSecret,
		CreatedAt:     now,
		UpdatedAt:     now,
		StepsTotal:    pipelineSteps,
		StepDurations: map[string]int64{},
	}
	if err := r.persist(ctx, job, true); err != nil {
		return nil, err
	}
	return job, nil
}

func (r *JobRepo) Get(ctx context.Context, id string) (*model.Job, error) {
	raw, err := r.client.Get(ctx, jobKey(id))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: get job %s: %v", domain.ErrStorage, id, err)
	}
	return r.decode(id, raw)
}

func (r *JobRepo) Update(ctx context.Context, id string, patch model.JobPatch, known *model.Job) (*model.Job, error) {
	var job *model.Job
	if known != nil && known.ID == id {
		ok, err := r.client.Exists(ctx, jobKey(id))
		if err != nil {
			return nil, fmt.Errorf("%w: check job %s: %v", domain.ErrStorage, id, err)
		}
		if !ok {
			return nil, domain.ErrNotFound
		}
		cp := *known
		cp.StepDurations = copyDurations(known.StepDurations)
		cp.Warnings = append([]string(nil), known.Warnings...)
		job = &cp
	} else {
		current, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		job = current
	}

	if err := patch.Apply(job, r.now()); err != nil {
		return nil, err
	}
	if err := r.persist(ctx, job, false); err != nil {
		return nil, err
	}
	return job, nil
}

func (r *JobRepo) List(ctx context.Context, filter model.JobFilter, limit, offset int) (*model.JobPage, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	ids, err := r.client.ZRevRange(ctx, jobIndexKey, 0, -1)
	if err != nil {
		return nil, fmt.Errorf("%w: read job index: %v", domain.ErrStorage, err)
	}
	if len(ids) == 0 {
		return &model.JobPage{Jobs: []*model.Job{}, Total: 0}, nil
	}

	metaKeys := make([]string, len(ids))
	for i, id := range ids {
		metaKeys[i] = metaKey(id)
	}
	metas, err := r.client.MGet(ctx, metaKeys...)
	if err != nil {
		return nil, fmt.Errorf("%w: read job projections: %v", domain.ErrStorage, err)
	}

	type candidate struct {
		id   string
		meta model.JobMeta
		full *model.Job // set for legacy records resolved through the fallback
	}
	matched := make([]candidate, 0, len(ids))
	var stale []interface{}
	for i, id := range ids {
		var c candidate
		c.id = id
		if s, ok := metas[i].(string); ok && json.Unmarshal([]byte(s), &c.meta) == nil {
			if filter.Match(c.meta) {
				matched = append(matched, c)
			}
			continue
		}

		// No projection: legacy record, resolve the full body.
		job, err := r.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				stale = append(stale, id)
				continue
			}
			r.log.Warn().Err(err).Str("job_id", id).Msg("skipping unreadable job in listing")
			continue
		}
		c.meta = job.Projection()
		c.full = job
		r.backfillProjection(ctx, job)
		if filter.Match(c.meta) {
			matched = append(matched, c)
		}
	}
	if len(stale) > 0 {
		if err := r.client.ZRem(ctx, jobIndexKey, stale...); err != nil {
			r.log.Debug().Err(err).Msg("prune stale job ids")
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i].meta.CreatedAt, matched[j].meta.CreatedAt
		if !a.Equal(b) {
			return a.After(b)
		}
		return matched[i].id > matched[j].id
	})

	page := &model.JobPage{Jobs: []*model.Job{}, Total: len(matched)}
	if offset >= len(matched) {
		return page, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	window := matched[offset:end]

	var bodyKeys []string
	for _, c := range window {
		if c.full == nil {
			bodyKeys = append(bodyKeys, jobKey(c.id))
		}
	}
	bodies, err := r.client.MGet(ctx, bodyKeys...)
	if err != nil {
		return nil, fmt.Errorf("%w: read job records: %v", domain.ErrStorage, err)
	}

	next := 0
	for _, c := range window {
		if c.full != nil {
			page.Jobs = append(page.Jobs, c.full)
			continue
		}
		raw, _ := bodies[next].(string)
		next++
		if raw == "" {
			continue
		}
		job, err := r.decode(c.id, raw)
		if err != nil {
			r.log.Warn().Err(err).Str("job_id", c.id).Msg("skipping unreadable job in listing")
			continue
		}
		page.Jobs = append(page.Jobs, job)
	}
	return page, nil
}

func (r *JobRepo) persist(ctx context.Context, job *model.Job, create bool) error {
	stored := *job
	if r.sealer != nil && stored.WebhookSecret != "" {
		sealed, err := r.sealer.Seal(stored.WebhookSecret)
		if err != nil {
			return fmt.Errorf("%w: seal webhook secret: %v", domain.ErrStorage, err)
		}
		stored.WebhookSecret = sealed
	}
	body, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("%w: encode job: %v", domain.ErrStorage, err)
	}
	meta, err := json.Marshal(job.Projection())
	if err != nil {
		return fmt.Errorf("%w: encode projection: %v", domain.ErrStorage, err)
	}

	err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, jobKey(job.ID), body, r.ttl)
		p.Set(ctx, metaKey(job.ID), meta, r.ttl)
		if create {
			p.ZAdd(ctx, jobIndexKey, &redis.Z{Score: float64(job.CreatedAt.UnixMilli()), Member: job.ID})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: write job %s: %v", domain.ErrStorage, job.ID, err)
	}
	return nil
}

func (r *JobRepo) decode(id, raw string) (*model.Job, error) {
	var job model.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("%w: job %s: %v", domain.ErrParse, id, err)
	}
	if r.sealer != nil && job.WebhookSecret != "" {
		plain, err := r.sealer.Open(job.WebhookSecret)
		if err != nil {
			return nil, fmt.Errorf("%w: job %s webhook secret: %v", domain.ErrParse, id, err)
		}
		job.WebhookSecret = plain
	}
	return &job, nil
}

func (r *JobRepo) backfillProjection(ctx context.Context, job *model.Job) {
	meta, err := json.Marshal(job.Projection())
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, metaKey(job.ID), meta, r.ttl); err != nil {
		r.log.Debug().Err(err).Str("job_id", job.ID).Msg("backfill projection")
	}
}

func copyDurations(in map[string]int64) map[string]int64 {
	if in == nil {
		return nil
	}
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
