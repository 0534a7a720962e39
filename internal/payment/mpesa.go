package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/amara-dev/backend-soko/internal/pricing"
)

// Mpesa implements the Client interface for Safaricom M-Pesa STK push flows.
type Mpesa struct {
	ConsumerKey   string
	WebhookSecret string
	ShortCode     string
	BaseURL       string
	Sandbox       bool
}

// Initiate opens an STK push without performing a network call. The real
// implementation should call the Daraja API; for integration tests we
// synthesise a deterministic checkout request id to drive the rest of the
// flow.
func (m Mpesa) Initiate(_ context.Context, req InitiateRequest) (InitiateResult, error) {
	if strings.TrimSpace(req.Reference) == "" {
		return InitiateResult{}, errors.New("reference is required")
	}
	if strings.TrimSpace(req.CustomerPhone) == "" {
		return InitiateResult{}, &GatewayError{
			Gateway: "mpesa", Op: "initiate",
			Err: errors.New("customer phone is required for STK push"),
		}
	}
	checkoutID := fmt.Sprintf("ws_CO_%s", req.Reference)
	return InitiateResult{
		GatewayRef: checkoutID,
		Instructions: &Instructions{
			Method: MethodMobileMoney,
			Steps: []string{
				"Check your phone for the M-Pesa payment prompt",
				"Enter your M-Pesa PIN to authorise the payment",
				fmt.Sprintf("You will receive an SMS confirmation for %s", req.Reference),
			},
			USSDCode: fmt.Sprintf("*334*1*%s#", m.ShortCode),
		},
	}, nil
}

// Verify queries the transaction status. Offline it reports pending so the
// caller keeps waiting for the callback.
func (m Mpesa) Verify(_ context.Context, reference string) (Outcome, error) {
	if strings.TrimSpace(reference) == "" {
		return OutcomePending, errors.New("reference is required")
	}
	return OutcomePending, nil
}

// Refund issues a reversal request.
func (m Mpesa) Refund(_ context.Context, reference string, amount pricing.Money) (RefundResult, error) {
	if strings.TrimSpace(reference) == "" {
		return RefundResult{}, errors.New("reference is required")
	}
	if amount <= 0 {
		return RefundResult{}, errors.New("refund amount must be positive")
	}
	return RefundResult{GatewayRef: "rev_" + reference, Amount: amount}, nil
}

// ParseWebhook validates the callback signature and normalises the STK
// result payload. An invalid signature yields Valid=false without error so
// the handler can reject without leaking verifier details.
func (m Mpesa) ParseWebhook(r *http.Request, body []byte) (WebhookEvent, error) {
	provided := strings.TrimSpace(r.Header.Get("X-Callback-Signature"))
	expected := m.computeSignature(body)
	if expected == "" || provided == "" || !hmac.Equal([]byte(expected), []byte(provided)) {
		return WebhookEvent{Valid: false, Err: errors.New("invalid signature")}, nil
	}

	var payload struct {
		Body struct {
			StkCallback struct {
				MerchantRequestID string `json:"MerchantRequestID"`
				CheckoutRequestID string `json:"CheckoutRequestID"`
				ResultCode        int    `json:"ResultCode"`
				ResultDesc        string `json:"ResultDesc"`
				AccountReference  string `json:"AccountReference"`
				CallbackMetadata  struct {
					Item []struct {
						Name  string  `json:"Name"`
						Value float64 `json:"Value"`
					} `json:"Item"`
				} `json:"CallbackMetadata"`
			} `json:"stkCallback"`
		} `json:"Body"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookEvent{Valid: false, Err: err}, nil
	}
	cb := payload.Body.StkCallback
	if cb.AccountReference == "" {
		return WebhookEvent{Valid: false, Err: errors.New("missing account reference")}, nil
	}

	// Daraja reports whole currency units; transactions carry minor units.
	var amount pricing.Money
	for _, item := range cb.CallbackMetadata.Item {
		if item.Name == "Amount" {
			amount = pricing.Money(math.Round(item.Value * 100))
		}
	}
	return WebhookEvent{
		Valid:     true,
		Reference: cb.AccountReference,
		Outcome:   mpesaOutcome(cb.ResultCode),
		Amount:    amount,
		Raw:       body,
	}, nil
}

func (m Mpesa) computeSignature(body []byte) string {
	key := strings.TrimSpace(m.WebhookSecret)
	if key == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Daraja result codes: 0 success, 1032 cancelled by user, 1037 prompt timed
// out. Everything else is a hard failure.
func mpesaOutcome(resultCode int) Outcome {
	switch resultCode {
	case 0:
		return OutcomeSuccess
	case 1032:
		return OutcomeCancelled
	case 1037:
		return OutcomeExpired
	default:
		return OutcomeFailed
	}
}
