package payment

import (
	"context"
	"net/http"

	"github.com/amara-dev/backend-soko/internal/pricing"
)

// Outcome is a gateway-neutral transaction result, produced by both the
// synchronous verify path and webhook parsing so reconciliation treats them
// identically.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeExpired   Outcome = "expired"
)

// InitiateRequest carries what a gateway client needs to open a charge.
type InitiateRequest struct {
	Reference     string
	Amount        pricing.Money
	Currency      string
	Method        Method
	CustomerPhone string
	CustomerEmail string
	Description   string
	CallbackURL   string
}

// Instructions tells the customer how to complete a payment that needs user
// action (USSD prompt, redirect, bank transfer details).
type Instructions struct {
	Method      Method
	Steps       []string
	USSDCode    string
	RedirectURL string
}

// InitiateResult is the normalised response to opening a charge.
type InitiateResult struct {
	GatewayRef   string
	Instructions *Instructions
	ExpiresAtSec int64
}

// RefundResult is the normalised response to a refund request.
type RefundResult struct {
	GatewayRef string
	Amount     pricing.Money
}

// WebhookEvent is a parsed, signature-checked gateway notification. Valid is
// false when the signature does not verify; Reference then carries nothing
// trustworthy and callers must not mutate any state from it. Amount is in
// minor units: parsers convert whatever denomination the gateway reports.
type WebhookEvent struct {
	Valid     bool
	Reference string
	Outcome   Outcome
	Amount    pricing.Money
	Raw       []byte
	Err       error
}

// Client abstracts one upstream payment provider.
type Client interface {
	Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error)
	Verify(ctx context.Context, reference string) (Outcome, error)
	Refund(ctx context.Context, reference string, amount pricing.Money) (RefundResult, error)
	ParseWebhook(r *http.Request, body []byte) (WebhookEvent, error)
}
