package repository

import (
	"context"

	"idea-explorer/internal/domain/model"
)

type JobRepository interface {
	// Create seeds defaults (id, pending status, timestamps) and persists the
	// record together with its metadata projection.
	Create(ctx context.Context, req model.JobRequest) (*model.Job, error)
	// Get returns domain.ErrNotFound for a missing job and domain.ErrParse
	// when the stored record cannot be decoded.
	Get(ctx context.Context, id string) (*model.Job, error)
	// Update merges patch into known (or the stored record when known is nil)
	// and re-persists record and projection.
	Update(ctx context.Context, id string, patch model.JobPatch, known *model.Job) (*model.Job, error)
	// List filters and orders by the projection (created_at desc) and only
	// resolves full bodies for the requested page.
	List(ctx context.Context, filter model.JobFilter, limit, offset int) (*model.JobPage, error)
}
