package order

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/amara-dev/backend-soko/internal/common"
	"github.com/amara-dev/backend-soko/internal/pricing"
)

// AdminHandler is the back-office order surface: cross-customer listing with
// the full structured filter set.
type AdminHandler struct {
	Service *Service
}

// List searches orders. Every filter arrives as a query parameter and is
// bound as a statement argument by the store.
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := Filter{
		Status:      Status(q.Get("status")),
		PayStatus:   PaymentStatus(q.Get("payStatus")),
		Fulfillment: FulfillmentStatus(q.Get("fulfillment")),
		NumberLike:  q.Get("q"),
		Limit:       queryInt32(r, "limit", 20),
		Offset:      queryInt32(r, "offset", 0),
	}
	if raw := q.Get("storeId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid store id", nil)
			return
		}
		f.StoreID = id
	}
	if raw := q.Get("customerId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid customer id", nil)
			return
		}
		f.CustomerID = id
	}
	if raw := q.Get("from"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "from must be RFC3339", nil)
			return
		}
		f.CreatedFrom = ts
	}
	if raw := q.Get("to"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "to must be RFC3339", nil)
			return
		}
		f.CreatedTo = ts
	}
	f.TotalMin = pricing.Money(queryInt32(r, "totalMin", 0))
	f.TotalMax = pricing.Money(queryInt32(r, "totalMax", 0))

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
