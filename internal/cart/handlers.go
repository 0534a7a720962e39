package cart

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/amara-dev/backend-soko/internal/common"
	"github.com/amara-dev/backend-soko/internal/coupon"
	"github.com/amara-dev/backend-soko/internal/tenant"
)

// Handler exposes the session cart over HTTP. Guests shop by session id;
// an authenticated customer id is attached when present.
type Handler struct {
	Service *Service
}

type ensurePayload struct {
	SessionID string `json:"sessionId"`
	Currency  string `json:"currency"`
}

// Ensure returns the session's active cart, creating one when none exists.
// The storefront comes from the resolver middleware, never from the body.
func (h *Handler) Ensure(w http.ResponseWriter, r *http.Request) {
	var payload ensurePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	storeID, ok := tenant.StoreFromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "store not resolved", nil)
		return
	}
	customerID := uuid.Nil
	if userID, ok := common.UserID(r.Context()); ok {
		if parsed, err := uuid.Parse(userID); err == nil {
			customerID = parsed
		}
	}
	c, err := h.Service.EnsureCart(r.Context(), storeID, customerID, payload.SessionID, payload.Currency)
	if err != nil {
		writeCartError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, cartJSON(c))
}

type addItemPayload struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
	Qty       int    `json:"qty"`
}

// AddItem appends a line (or merges into an existing one).
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	cartID, err := uuid.Parse(chi.URLParam(r, "cartId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid cart id", nil)
		return
	}
	var payload addItemPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	productID, err := uuid.Parse(payload.ProductID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid product id", nil)
		return
	}
	variantID := uuid.Nil
	if payload.VariantID != "" {
		if variantID, err = uuid.Parse(payload.VariantID); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid variant id", nil)
			return
		}
	}
	c, err := h.Service.AddItem(r.Context(), cartID, productID, variantID, payload.Qty)
	if err != nil {
		writeCartError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, cartJSON(c))
}

type qtyPayload struct {
	Qty int `json:"qty"`
}

// UpdateQty sets a line's quantity; zero removes the line.
func (h *Handler) UpdateQty(w http.ResponseWriter, r *http.Request) {
	cartID, itemID, ok := cartItemIDs(w, r)
	if !ok {
		return
	}
	var payload qtyPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	c, err := h.Service.UpdateQty(r.Context(), cartID, itemID, payload.Qty)
	if err != nil {
		writeCartError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, cartJSON(c))
}

// RemoveItem drops a line from the cart.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	cartID, itemID, ok := cartItemIDs(w, r)
	if !ok {
		return
	}
	c, err := h.Service.RemoveItem(r.Context(), cartID, itemID)
	if err != nil {
		writeCartError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, cartJSON(c))
}

// Clear empties the cart but keeps it open.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	cartID, err := uuid.Parse(chi.URLParam(r, "cartId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid cart id", nil)
		return
	}
	c, err := h.Service.Clear(r.Context(), cartID)
	if err != nil {
		writeCartError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, cartJSON(c))
}

type couponPayload struct {
	Code string `json:"code"`
}

// ApplyCoupon previews a coupon against the cart and pins the code.
func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	cartID, err := uuid.Parse(chi.URLParam(r, "cartId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid cart id", nil)
		return
	}
	var payload couponPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	c, result, err := h.Service.ApplyCoupon(r.Context(), cartID, payload.Code)
	if err != nil {
		writeCartError(w, err)
		return
	}
	out := cartJSON(c)
	out["discountPreview"] = result.Discount
	out["shippingWaived"] = result.ShippingWaived
	common.JSON(w, http.StatusOK, out)
}

// Totals prices the cart as it stands.
func (h *Handler) Totals(w http.ResponseWriter, r *http.Request) {
	cartID, err := uuid.Parse(chi.URLParam(r, "cartId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid cart id", nil)
		return
	}
	summary, err := h.Service.Totals(r.Context(), cartID)
	if err != nil {
		writeCartError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"subtotal": summary.Subtotal,
		"discount": summary.Discount,
		"tax":      summary.Tax,
		"shipping": summary.Shipping,
		"total":    summary.Total,
	})
}

func cartItemIDs(w http.ResponseWriter, r *http.Request) (cartID, itemID uuid.UUID, ok bool) {
	cartID, err := uuid.Parse(chi.URLParam(r, "cartId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid cart id", nil)
		return uuid.Nil, uuid.Nil, false
	}
	itemID, err = uuid.Parse(chi.URLParam(r, "itemId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid item id", nil)
		return uuid.Nil, uuid.Nil, false
	}
	return cartID, itemID, true
}

func writeCartError(w http.ResponseWriter, err error) {
	if fieldErrs, ok := common.AsFieldErrors(err); ok {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "validation failed", fieldErrs)
		return
	}
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "cart not found", nil)
	case errors.Is(err, coupon.ErrNotFound):
		common.JSONError(w, http.StatusUnprocessableEntity, "COUPON_INVALID", "coupon is not applicable", nil)
	case errors.Is(err, ErrExpired):
		common.JSONError(w, http.StatusConflict, "CART_EXPIRED", "cart has expired", nil)
	case errors.Is(err, ErrInvalidInput):
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	case errors.Is(err, common.ErrVersionConflict):
		common.JSONError(w, http.StatusConflict, "CONFLICT", "cart was modified concurrently, retry", nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "operation failed", nil)
	}
}

func cartJSON(c Cart) map[string]any {
	items := make([]map[string]any, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, map[string]any{
			"id":        it.ID,
			"productId": it.ProductID,
			"variantId": it.VariantID,
			"qty":       it.Qty,
			"unitPrice": it.UnitPrice,
			"lineTotal": it.LineTotal(),
		})
	}
	return map[string]any{
		"id":         c.ID,
		"storeId":    c.StoreID,
		"currency":   c.Currency,
		"items":      items,
		"itemCount":  c.ItemCount(),
		"couponCode": c.CouponCode,
		"expiresAt":  c.ExpiresAt,
	}
}
