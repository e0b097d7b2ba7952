package domain

import (
	"context"
	"net/http"
)

// Processor executes charges against a provider. Implementations must
// honor the context deadline; the collector treats a deadline error as
// processor_error.
type Processor interface {
	Provider() string
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}

// WebhookAdapter verifies and parses inbound provider webhooks.
type WebhookAdapter interface {
	Provider() string
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*ProcessorEvent, error)
}

type AdapterConfig struct {
	APIKey        string
	WebhookSecret string
	BaseURL       string
}
