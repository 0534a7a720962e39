package payment

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"

	"github.com/amara-dev/backend-soko/internal/common"
)

// Webhook handles gateway callbacks. The signature is verified before any
// state is touched; raw-body replays are short-circuited in redis so a
// redelivering gateway never reaches reconciliation twice with the same
// payload.
type Webhook struct {
	Orchestrator *Orchestrator
	Replay       *redis.Client
	ReplayTTL    time.Duration
}

// Handle processes a callback for the gateway named in the URL.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Orchestrator == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	gatewayKey := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "gateway")))
	client, ok := h.Orchestrator.Clients[gatewayKey]
	if !ok {
		common.JSONError(w, http.StatusNotFound, "GATEWAY_NOT_SUPPORTED", "unknown gateway", nil)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	event, err := client.ParseWebhook(r, body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "WEBHOOK_INVALID", err.Error(), nil)
		return
	}
	if !event.Valid {
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
		return
	}

	if h.Replay != nil && h.ReplayTTL > 0 {
		key := fmt.Sprintf("wh:%s:%s", gatewayKey, common.Sha256Hex(string(body)))
		fresh, err := h.Replay.SetNX(r.Context(), key, "1", h.ReplayTTL).Result()
		if err != nil {
			common.JSONError(w, http.StatusInternalServerError, "REPLAY_STORE_ERROR", err.Error(), nil)
			return
		}
		if !fresh {
			// Identical payload already accepted; acknowledge so the gateway
			// stops redelivering.
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}

	if _, err := h.Orchestrator.ReconcileWebhook(r.Context(), gatewayKey, event); err != nil {
		switch {
		case errors.Is(err, ErrInvalidSignature):
			common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
		case errors.Is(err, ErrTransactionNotFound):
			common.JSONError(w, http.StatusNotFound, "TRANSACTION_NOT_FOUND", "unknown reference", nil)
		default:
			common.JSONError(w, http.StatusInternalServerError, "WEBHOOK_PROCESSING_ERROR", err.Error(), nil)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
