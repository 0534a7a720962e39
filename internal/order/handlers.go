package order

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/amara-dev/backend-soko/internal/cart"
	"github.com/amara-dev/backend-soko/internal/common"
	"github.com/amara-dev/backend-soko/internal/pricing"
)

// Handler exposes the customer-facing order surface over HTTP. Authorization
// happens in the router middleware; by the time a request lands here the
// actor already cleared the command gate.
type Handler struct {
	Service *Service
}

type addressPayload struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Company   string `json:"company"`
	Line1     string `json:"line1"`
	Line2     string `json:"line2"`
	City      string `json:"city"`
	Region    string `json:"region"`
	Postcode  string `json:"postcode"`
	Country   string `json:"country"`
	Phone     string `json:"phone"`
}

func (p addressPayload) toAddress() Address {
	return Address{
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Company:   p.Company,
		Line1:     p.Line1,
		Line2:     p.Line2,
		City:      p.City,
		Region:    p.Region,
		Postcode:  p.Postcode,
		Country:   p.Country,
		Phone:     p.Phone,
	}
}

type createPayload struct {
	CartID          string          `json:"cartId"`
	ShippingAddress addressPayload  `json:"shippingAddress"`
	BillingAddress  *addressPayload `json:"billingAddress"`
	ShippingAmount  int64           `json:"shippingAmount"`
	Channel         string          `json:"channel"`
}

// Create freezes the caller's cart into an order.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID, _ := common.UserID(r.Context())
	customerID, err := uuid.Parse(userID)
	if err != nil {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	var payload createPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	cartID, err := uuid.Parse(payload.CartID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid cart id", nil)
		return
	}
	req := CreateRequest{
		CartID:          cartID,
		CustomerID:      customerID,
		ShippingAddress: payload.ShippingAddress.toAddress(),
		ShippingAmount:  pricing.Money(payload.ShippingAmount),
		Channel:         payload.Channel,
	}
	if payload.BillingAddress != nil {
		req.BillingAddress = payload.BillingAddress.toAddress()
	}
	ord, err := h.Service.CreateFromCart(r.Context(), req)
	if err != nil {
		writeOrderError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, orderJSON(ord))
}

// Get returns one of the caller's orders.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id", nil)
		return
	}
	ord, err := h.Service.Get(r.Context(), orderID)
	if err != nil {
		writeOrderError(w, err)
		return
	}
	if !callerOwns(r, ord) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
		return
	}
	common.JSON(w, http.StatusOK, orderJSON(ord))
}

// List returns the caller's orders, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, _ := common.UserID(r.Context())
	customerID, err := uuid.Parse(userID)
	if err != nil {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	f := Filter{
		CustomerID: customerID,
		Limit:      queryInt32(r, "limit", 20),
		Offset:     queryInt32(r, "offset", 0),
	}
	orders, err := h.Service.List(r.Context(), f)
	if err != nil {
		writeOrderError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(orders))
	for _, ord := range orders {
		out = append(out, orderJSON(ord))
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}

// Cancel cancels one of the caller's orders when the lifecycle still allows it.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id", nil)
		return
	}
	ord, err := h.Service.Get(r.Context(), orderID)
	if err != nil {
		writeOrderError(w, err)
		return
	}
	if !callerOwns(r, ord) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
		return
	}
	cancelled, err := h.Service.Cancel(r.Context(), orderID)
	if err != nil {
		writeOrderError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, orderJSON(cancelled))
}

func callerOwns(r *http.Request, ord Order) bool {
	userID, ok := common.UserID(r.Context())
	if !ok {
		return false
	}
	id, err := uuid.Parse(userID)
	if err != nil {
		return false
	}
	return ord.CustomerID == id
}

func writeOrderError(w http.ResponseWriter, err error) {
	if fieldErrs, ok := common.AsFieldErrors(err); ok {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "validation failed", fieldErrs)
		return
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, cart.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "order not found", nil)
	case errors.Is(err, cart.ErrExpired):
		common.JSONError(w, http.StatusConflict, "CART_EXPIRED", "cart has expired", nil)
	case errors.Is(err, ErrIllegalTransition):
		common.JSONError(w, http.StatusConflict, "ILLEGAL_TRANSITION", err.Error(), nil)
	case errors.Is(err, common.ErrVersionConflict):
		common.JSONError(w, http.StatusConflict, "CONFLICT", "order was modified concurrently, retry", nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "operation failed", nil)
	}
}

func orderJSON(o Order) map[string]any {
	items := make([]map[string]any, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, map[string]any{
			"id":               it.ID,
			"productId":        it.ProductID,
			"variantId":        it.VariantID,
			"name":             it.Name,
			"qty":              it.Qty,
			"unitPrice":        it.UnitPrice,
			"tax":              it.Tax,
			"discount":         it.Discount,
			"lineTotal":        it.LineTotal(),
			"requiresShipping": it.RequiresShipping,
		})
	}
	out := map[string]any{
		"id":                  o.ID,
		"number":              o.Number,
		"status":              o.Status,
		"payStatus":           o.PayStatus,
		"fulfillment":         o.Fulfillment,
		"currency":            o.Currency,
		"subtotal":            o.Subtotal,
		"tax":                 o.Tax,
		"shipping":            o.Shipping,
		"discount":            o.Discount,
		"total":               o.Total,
		"items":               items,
		"shippingWeightGrams": o.ShippingWeightGrams(),
		"couponCode":          o.CouponCode,
		"channel":             o.Channel,
		"createdAt":           o.CreatedAt.Format(time.RFC3339),
		"updatedAt":           o.UpdatedAt.Format(time.RFC3339),
	}
	if o.ProcessedAt != nil {
		out["processedAt"] = o.ProcessedAt.Format(time.RFC3339)
	}
	if o.CancelledAt != nil {
		out["cancelledAt"] = o.CancelledAt.Format(time.RFC3339)
	}
	return out
}

func queryInt32(r *http.Request, key string, fallback int32) int32 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || n < 0 {
		return fallback
	}
	return int32(n)
}
