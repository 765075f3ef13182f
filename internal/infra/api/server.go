package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"idea-explorer/internal/domain"
	"idea-explorer/internal/infra/logging"
	"idea-explorer/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 64 << 10

// Options configure the HTTP surface.
type Options struct {
	RequestTimeout  time.Duration
	Auth            *TokenAuth
	Limiter         Limiter
	SubmitPerMinute int
	SubmitKey       func(client string) string
	// Health reports backing store health; nil means always healthy.
	Health func(ctx context.Context) error
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// Server exposes idea submission and job status over HTTP.
type Server struct {
	jobs usecase.JobUseCase
	opts Options
	log  *zerolog.Logger
}

func NewServer(jobs usecase.JobUseCase, opts Options, logger *zerolog.Logger) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if opts.SubmitKey == nil {
		opts.SubmitKey = func(c string) string { return "rate_limit:submit:" + c }
	}
	l := logger.With().Str("component", "API").Logger()
	return &Server{jobs: jobs, opts: opts, log: &l}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log), Timeout(s.opts.RequestTimeout))

	r.Get("/health", s.handleHealth)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RequireToken(s.opts.Auth))
		r.With(RateLimit(s.opts.Limiter, s.opts.SubmitPerMinute, s.opts.SubmitKey, s.log)).
			Post("/ideas", s.handleSubmit)
		r.Get("/jobs", s.handleList)
		r.Get("/jobs/{id}", s.handleStatus)
	})
	return r
}

type submitResponse struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	StatusURL string `json:"status_url"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var in usecase.SubmitInput
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	job, err := s.jobs.Submit(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, submitResponse{
		JobID:     job.ID,
		Status:    string(job.Status),
		StatusURL: "/api/v1/jobs/" + job.ID,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	v, err := s.jobs.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}
	page, err := s.jobs.List(r.Context(), q.Get("status"), q.Get("mode"), limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		if err := s.opts.Health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	default:
		logging.With(r.Context(), s.log).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
