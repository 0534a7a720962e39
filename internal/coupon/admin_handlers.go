package coupon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/amara-dev/backend-soko/internal/common"
	"github.com/amara-dev/backend-soko/internal/pricing"
)

// ErrCodeTaken is returned when a coupon code already exists.
var ErrCodeTaken = errors.New("coupon code already exists")

// AdminStore is the management surface over coupon rules. The engine and the
// redemption path only ever read and bump usage; this store also writes rules.
type AdminStore interface {
	Insert(ctx context.Context, c Coupon) error
	// UpdateRule replaces the mutable rule fields of the coupon with the
	// given code. Usage count and version are not touched.
	UpdateRule(ctx context.Context, c Coupon) error
}

// AdminHandler exposes administrative coupon management endpoints.
type AdminHandler struct {
	Store   AdminStore
	Service *Service
}

type couponPayload struct {
	Code        string     `json:"code"`
	Kind        string     `json:"kind"`
	Value       int64      `json:"value"`
	PercentBps  int32      `json:"percentBps"`
	MinSpend    int64      `json:"minSpend"`
	MaxDiscount int64      `json:"maxDiscount"`
	UsageLimit  *int32     `json:"usageLimit"`
	ValidFrom   *time.Time `json:"validFrom"`
	ValidTo     *time.Time `json:"validTo"`
	Active      *bool      `json:"active"`
}

type previewPayload struct {
	Code     string `json:"code"`
	Subtotal int64  `json:"subtotal"`
}

// Create inserts a new coupon rule.
func (h *AdminHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "coupon store unavailable", nil)
		return
	}
	var payload couponPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	c, err := couponFromPayload(payload)
	if err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	c.ID = uuid.New()
	if err := h.Store.Insert(r.Context(), c); err != nil {
		if errors.Is(err, ErrCodeTaken) {
			common.JSONError(w, http.StatusConflict, "CONFLICT", "coupon code already exists", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to create coupon", nil)
		return
	}
	common.JSON(w, http.StatusCreated, couponJSON(c))
}

// Update replaces the rule fields of the coupon identified by code.
func (h *AdminHandler) Update(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "coupon store unavailable", nil)
		return
	}
	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if code == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "code is required", nil)
		return
	}
	var payload couponPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	payload.Code = code
	c, err := couponFromPayload(payload)
	if err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	if err := h.Store.UpdateRule(r.Context(), c); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "coupon not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to update coupon", nil)
		return
	}
	common.JSON(w, http.StatusOK, couponJSON(c))
}

// Preview evaluates a coupon against a subtotal without mutating anything.
func (h *AdminHandler) Preview(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "coupon service unavailable", nil)
		return
	}
	var payload previewPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	result, err := h.Service.Preview(r.Context(), payload.Code, pricing.Money(payload.Subtotal))
	if err != nil {
		common.JSON(w, http.StatusOK, map[string]any{
			"eligible": false,
			"reason":   err.Error(),
		})
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"eligible":       true,
		"discount":       result.Discount,
		"shippingWaived": result.ShippingWaived,
	})
}

func couponFromPayload(p couponPayload) (Coupon, error) {
	code := strings.ToUpper(strings.TrimSpace(p.Code))
	if code == "" {
		return Coupon{}, errors.New("code is required")
	}
	kind := strings.ToLower(strings.TrimSpace(p.Kind))
	switch kind {
	case KindPercentage:
		if p.PercentBps <= 0 || p.PercentBps > 10_000 {
			return Coupon{}, errors.New("percentBps must be between 1 and 10000")
		}
	case KindFixedAmount:
		if p.Value <= 0 {
			return Coupon{}, errors.New("value must be positive for fixed_amount coupons")
		}
	case KindFreeShipping:
	default:
		return Coupon{}, fmt.Errorf("unknown coupon kind %q", p.Kind)
	}
	if p.MinSpend < 0 || p.MaxDiscount < 0 {
		return Coupon{}, errors.New("minSpend and maxDiscount must not be negative")
	}
	if p.UsageLimit != nil && *p.UsageLimit < 0 {
		return Coupon{}, errors.New("usageLimit must not be negative")
	}
	validFrom := time.Time{}
	if p.ValidFrom != nil {
		validFrom = p.ValidFrom.UTC()
	}
	var validTo *time.Time
	if p.ValidTo != nil {
		t := p.ValidTo.UTC()
		if !validFrom.IsZero() && t.Before(validFrom) {
			return Coupon{}, errors.New("validTo must not precede validFrom")
		}
		validTo = &t
	}
	active := true
	if p.Active != nil {
		active = *p.Active
	}
	return Coupon{
		Code:        code,
		Kind:        kind,
		Value:       pricing.Money(p.Value),
		PercentBps:  p.PercentBps,
		MinSpend:    pricing.Money(p.MinSpend),
		MaxDiscount: pricing.Money(p.MaxDiscount),
		UsageLimit:  p.UsageLimit,
		ValidFrom:   validFrom,
		ValidTo:     validTo,
		Active:      active,
	}, nil
}

func couponJSON(c Coupon) map[string]any {
	return map[string]any{
		"id":          c.ID,
		"code":        c.Code,
		"kind":        c.Kind,
		"value":       c.Value,
		"percentBps":  c.PercentBps,
		"minSpend":    c.MinSpend,
		"maxDiscount": c.MaxDiscount,
		"usageLimit":  c.UsageLimit,
		"validFrom":   c.ValidFrom,
		"validTo":     c.ValidTo,
		"active":      c.Active,
	}
}
