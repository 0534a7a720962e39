package coupon

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/amara-dev/backend-soko/internal/pricing"
)

var (
	// ErrNotFound is returned when no coupon exists for the provided code.
	ErrNotFound = errors.New("coupon not found")
	// ErrInactive is returned when the coupon has been switched off.
	ErrInactive = errors.New("coupon not active")
	// ErrNotYetValid is returned before the validity window opens.
	ErrNotYetValid = errors.New("coupon not yet valid")
	// ErrExpired is returned after the validity window closes.
	ErrExpired = errors.New("coupon expired")
	// ErrUsageLimitReached indicates the coupon exhausted its usage quota.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrMinSpendUnmet indicates the subtotal did not meet the coupon requirement.
	ErrMinSpendUnmet = errors.New("coupon minimum spend not met")
)

// Discount kinds supported by the engine.
const (
	KindPercentage   = "percentage"
	KindFixedAmount  = "fixed_amount"
	KindFreeShipping = "free_shipping"
)

// Coupon captures a discount code and its runtime constraints.
type Coupon struct {
	ID          uuid.UUID
	Code        string
	Kind        string
	Value       pricing.Money // fixed amount in minor units
	PercentBps  int32         // percentage expressed in basis points
	MinSpend    pricing.Money
	MaxDiscount pricing.Money // 0 means uncapped
	UsageLimit  *int32        // nil means unlimited
	UsedCount   int32
	ValidFrom   time.Time
	ValidTo     *time.Time // nil means open ended
	Active      bool
	Version     int64
}

// Result is the outcome of evaluating a coupon against an order context.
// ShippingWaived resolves the free-shipping coupling explicitly: the engine
// contributes zero to the line-item discount and the caller zeroes the
// shipping charge when the flag is set.
type Result struct {
	Discount       pricing.Money
	ShippingWaived bool
}

// Eligible checks the coupon's constraints in a fixed order; the first
// failing rule is returned so callers can surface the exact reason.
func (c Coupon) Eligible(now time.Time, subtotal pricing.Money) error {
	if !c.Active {
		return ErrInactive
	}
	if now.Before(c.ValidFrom) {
		return ErrNotYetValid
	}
	if c.ValidTo != nil && now.After(*c.ValidTo) {
		return ErrExpired
	}
	if c.UsageLimit != nil && *c.UsageLimit >= 0 && c.UsedCount >= *c.UsageLimit {
		return ErrUsageLimitReached
	}
	if subtotal < c.MinSpend {
		return ErrMinSpendUnmet
	}
	return nil
}

// Apply evaluates eligibility and computes the bounded discount. The engine
// never mutates usage counters; redemption is recorded at order settlement.
func Apply(c Coupon, subtotal pricing.Money, now time.Time) (Result, error) {
	if err := c.Eligible(now, subtotal); err != nil {
		return Result{}, err
	}
	var discount pricing.Money
	switch c.Kind {
	case KindPercentage:
		if c.PercentBps > 0 {
			discount = pricing.RoundHalfAway(subtotal*pricing.Money(c.PercentBps), 10_000)
		}
	case KindFixedAmount:
		discount = c.Value
	case KindFreeShipping:
		return Result{ShippingWaived: true}, nil
	}
	if c.MaxDiscount > 0 && discount > c.MaxDiscount {
		discount = c.MaxDiscount
	}
	if discount > subtotal {
		discount = subtotal
	}
	if discount < 0 {
		discount = 0
	}
	return Result{Discount: discount}, nil
}
