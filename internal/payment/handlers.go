package payment

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/amara-dev/backend-soko/internal/common"
	"github.com/amara-dev/backend-soko/internal/order"
	"github.com/amara-dev/backend-soko/internal/pricing"
)

// Handler exposes payment initiation, verification and refunds over HTTP.
// The webhook endpoint lives separately in Webhook because it authenticates
// with gateway signatures instead of bearer tokens.
type Handler struct {
	Orchestrator *Orchestrator
}

type initiatePayload struct {
	OrderID       string `json:"orderId"`
	Method        string `json:"method"`
	Country       string `json:"country"`
	CustomerPhone string `json:"customerPhone"`
	CustomerEmail string `json:"customerEmail"`
	Description   string `json:"description"`
	CallbackURL   string `json:"callbackUrl"`
}

// Initiate opens (or resumes) a payment for an order.
func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	var payload initiatePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	orderID, err := uuid.Parse(payload.OrderID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id", nil)
		return
	}
	out, err := h.Orchestrator.Initiate(r.Context(), InitiateCommand{
		OrderID:       orderID,
		Method:        Method(payload.Method),
		Country:       payload.Country,
		CustomerPhone: payload.CustomerPhone,
		CustomerEmail: payload.CustomerEmail,
		Description:   payload.Description,
		CallbackURL:   payload.CallbackURL,
	})
	if err != nil {
		writePaymentError(w, err)
		return
	}
	status := http.StatusCreated
	if out.Reused {
		status = http.StatusOK
	}
	common.JSON(w, status, map[string]any{
		"transaction":  transactionJSON(out.Transaction),
		"instructions": out.Instructions,
		"reused":       out.Reused,
	})
}

// Verify polls the gateway for the transaction's current outcome. Covers
// gateways whose callbacks get lost.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	tx, err := h.Orchestrator.Verify(r.Context(), reference)
	if err != nil {
		writePaymentError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, transactionJSON(tx))
}

type refundPayload struct {
	Amount int64 `json:"amount"` // 0 refunds the full remaining balance
}

// Refund issues a full or partial refund against a settled transaction.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	var payload refundPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	tx, err := h.Orchestrator.Refund(r.Context(), reference, pricing.Money(payload.Amount))
	if err != nil {
		writePaymentError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, transactionJSON(tx))
}

func writePaymentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTransactionNotFound), errors.Is(err, order.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "transaction not found", nil)
	case errors.Is(err, ErrOrderAlreadyPaid):
		common.JSONError(w, http.StatusConflict, "ALREADY_PAID", "order is already paid", nil)
	case errors.Is(err, ErrNoGateway):
		common.JSONError(w, http.StatusUnprocessableEntity, "NO_GATEWAY", err.Error(), nil)
	case errors.Is(err, ErrNotRefundable):
		common.JSONError(w, http.StatusConflict, "NOT_REFUNDABLE", "transaction is not refundable", nil)
	case errors.Is(err, ErrRefundExceedsPaid):
		common.JSONError(w, http.StatusUnprocessableEntity, "REFUND_EXCEEDS_PAID", "refund exceeds the refundable balance", nil)
	case errors.Is(err, order.ErrIllegalTransition):
		common.JSONError(w, http.StatusConflict, "ILLEGAL_TRANSITION", err.Error(), nil)
	case IsTransientGatewayError(err):
		common.JSONError(w, http.StatusBadGateway, "GATEWAY_UNAVAILABLE", "payment gateway is unavailable, retry later", nil)
	default:
		var gwErr *GatewayError
		if errors.As(err, &gwErr) {
			common.JSONError(w, http.StatusBadGateway, "GATEWAY_ERROR", gwErr.Error(), nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "operation failed", nil)
	}
}

func transactionJSON(tx Transaction) map[string]any {
	out := map[string]any{
		"id":         tx.ID,
		"orderId":    tx.OrderID,
		"gateway":    tx.Gateway,
		"method":     tx.Method,
		"status":     tx.Status,
		"amount":     tx.Amount,
		"currency":   tx.Currency,
		"feeAmount":  tx.FeeAmount,
		"netAmount":  tx.NetAmount,
		"refunded":   tx.Refunded,
		"reference":  tx.Reference,
		"gatewayRef": tx.GatewayRef,
		"expiresAt":  tx.ExpiresAt,
		"createdAt":  tx.CreatedAt,
	}
	if tx.ProcessedAt != nil {
		out["processedAt"] = tx.ProcessedAt
	}
	if tx.FailedAt != nil {
		out["failedAt"] = tx.FailedAt
	}
	return out
}
