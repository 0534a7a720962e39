package inventory

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/amara-dev/backend-soko/internal/audit"
	"github.com/amara-dev/backend-soko/internal/common"
)

// Handler exposes the stock ledger to back-office callers. ADJUSTMENT
// overrides discard ledger history, so they are written to the audit trail
// with the before and after quantities.
type Handler struct {
	Service *Service
	Audit   *audit.Service
}

// Get returns the stock record for a variant.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	variantID, err := uuid.Parse(chi.URLParam(r, "variantId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid variant id", nil)
		return
	}
	rec, err := h.Service.Store.Get(r.Context(), variantID)
	if err != nil {
		writeInventoryError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, recordJSON(rec))
}

type adjustPayload struct {
	Reason   string `json:"reason"`
	Quantity int64  `json:"quantity"`
}

// Adjust applies one reason-coded delta to a variant's stock.
func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	variantID, err := uuid.Parse(chi.URLParam(r, "variantId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid variant id", nil)
		return
	}
	var payload adjustPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	if payload.Quantity < 0 {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "quantity must be a positive magnitude", nil)
		return
	}
	upd := Update{Reason: Reason(payload.Reason), Quantity: payload.Quantity}

	var before Record
	if upd.Reason == ReasonAdjustment {
		if before, err = h.Service.Store.Get(r.Context(), variantID); err != nil {
			writeInventoryError(w, err)
			return
		}
	}
	rec, err := h.Service.Adjust(r.Context(), variantID, upd)
	if err != nil {
		writeInventoryError(w, err)
		return
	}
	if upd.Reason == ReasonAdjustment {
		actorID, _ := common.UserID(r.Context())
		h.Audit.Record(r.Context(), actorID, "inventory.adjustment_override", "variant", variantID.String(), map[string]any{
			"before": before.Quantity,
			"after":  rec.Quantity,
		})
	}
	common.JSON(w, http.StatusOK, recordJSON(rec))
}

// History returns the audit trail of absolute overrides for a variant.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	variantID, err := uuid.Parse(chi.URLParam(r, "variantId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid variant id", nil)
		return
	}
	entries, err := h.Audit.List(r.Context(), "variant", variantID.String(), 50)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load audit trail", nil)
		return
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"id":      e.ID,
			"actorId": e.ActorID,
			"action":  e.Action,
			"detail":  json.RawMessage(e.Detail),
			"at":      e.At,
		})
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}

func writeInventoryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "variant not found", nil)
	case errors.Is(err, ErrInsufficientStock):
		common.JSONError(w, http.StatusConflict, "INSUFFICIENT_STOCK", "insufficient stock for this change", nil)
	case errors.Is(err, ErrTrackingDisabled):
		common.JSONError(w, http.StatusConflict, "TRACKING_DISABLED", "variant does not track inventory", nil)
	case errors.Is(err, ErrUnknownReason):
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown adjustment reason", nil)
	case errors.Is(err, common.ErrVersionConflict):
		common.JSONError(w, http.StatusConflict, "CONFLICT", "stock was modified concurrently, retry", nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "operation failed", nil)
	}
}

func recordJSON(rec Record) map[string]any {
	return map[string]any{
		"variantId":         rec.VariantID,
		"quantity":          rec.Quantity,
		"lowStockThreshold": rec.LowStockThreshold,
		"trackInventory":    rec.TrackInventory,
		"allowBackorder":    rec.AllowBackorder,
		"lowStock":          rec.LowStock(),
	}
}
