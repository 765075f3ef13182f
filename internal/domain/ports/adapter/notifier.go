package adapter

import (
	"context"

	"idea-explorer/internal/domain/model"
)

type WebhookTarget struct {
	URL    string
	Secret string
}

// DeliveryResult reports how a webhook delivery went. Failure is data, not an error.
type DeliveryResult struct {
	Delivered  bool
	Attempts   int
	LastStatus int
	LastError  string
}

type WebhookNotifier interface {
	Send(ctx context.Context, target WebhookTarget, payload model.WebhookPayload) DeliveryResult
}
