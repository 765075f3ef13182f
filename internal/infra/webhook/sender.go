// Package webhook delivers signed job notifications.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"idea-explorer/internal/domain/model"
	"idea-explorer/internal/domain/ports/adapter"
	"idea-explorer/internal/infra/metrics"
	"idea-explorer/internal/infra/security"

	"github.com/rs/zerolog"
)

// MaxAttempts bounds delivery attempts per notification.
const MaxAttempts = 3

// Backoff is the fixed wait before each retry.
var Backoff = []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second}

var _ adapter.WebhookNotifier = (*Sender)(nil)

type Sender struct {
	client *http.Client
	sleep  func(ctx context.Context, d time.Duration) error
	log    *zerolog.Logger
}

type Option func(*Sender)

// WithHTTPClient replaces the transport. Redirects are still not followed.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Sender) {
		cp := *c
		s.client = &cp
	}
}

// WithSleep replaces the wait between attempts (tests).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Sender) { s.sleep = fn }
}

// WithDialGuard refuses connections to blocked address ranges at dial time.
func WithDialGuard(timeout time.Duration) Option {
	return func(s *Sender) {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.DialContext = security.GuardedDialer(timeout).DialContext
		tr.Proxy = nil
		s.client.Transport = tr
	}
}

func NewSender(attemptTimeout time.Duration, logger *zerolog.Logger, opts ...Option) *Sender {
	l := logger.With().Str("component", "WebhookSender").Logger()
	s := &Sender{
		client: &http.Client{Timeout: attemptTimeout},
		sleep:  sleepCtx,
		log:    &l,
	}
	for _, o := range opts {
		o(s)
	}
	s.client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return s
}

// Send POSTs payload to target. It never returns an error: the outcome
// is reported in the DeliveryResult.
func (s *Sender) Send(ctx context.Context, target adapter.WebhookTarget, payload model.WebhookPayload) adapter.DeliveryResult {
	if strings.TrimSpace(target.URL) == "" {
		metrics.ObserveWebhook("skipped", 0)
		return adapter.DeliveryResult{Delivered: true}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		metrics.ObserveWebhook("failed", 0)
		return adapter.DeliveryResult{LastError: fmt.Sprintf("encode payload: %v", err)}
	}
	var signature string
	if target.Secret != "" {
		signature = Sign(target.Secret, body)
	}

	log := s.log.With().Str("job_id", payload.JobID).Logger()
	res := adapter.DeliveryResult{}
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := s.sleep(ctx, Backoff[attempt-2]); err != nil {
				res.LastError = err.Error()
				break
			}
		}
		res.Attempts = attempt
		status, err := s.post(ctx, target.URL, body, signature)
		res.LastStatus = status
		if err == nil && status >= 200 && status < 300 {
			res.Delivered = true
			res.LastError = ""
			break
		}
		if err != nil {
			res.LastError = err.Error()
		} else {
			res.LastError = fmt.Sprintf("unexpected status %d", status)
		}
		log.Warn().Int("attempt", attempt).Int("status", status).Str("error", res.LastError).Msg("webhook attempt failed")
	}

	if res.Delivered {
		metrics.ObserveWebhook("delivered", res.Attempts)
		log.Info().Int("attempts", res.Attempts).Msg("webhook delivered")
	} else {
		metrics.ObserveWebhook("failed", res.Attempts)
		log.Error().Int("attempts", res.Attempts).Int("status", res.LastStatus).Msg("webhook delivery exhausted")
	}
	return res
}

func (s *Sender) post(ctx context.Context, url string, body []byte, signature string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "idea-explorer-webhook/1")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
