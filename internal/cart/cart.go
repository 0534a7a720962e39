package cart

import (
	"time"

	"github.com/google/uuid"

	"github.com/amara-dev/backend-soko/internal/common"
	"github.com/amara-dev/backend-soko/internal/pricing"
)

// MaxLineQty caps the quantity a single cart line may hold.
const MaxLineQty = 99

// Item is a cart line with the unit price snapshotted at add time.
type Item struct {
	ID        uuid.UUID
	ProductID uuid.UUID
	VariantID uuid.UUID // uuid.Nil for the base product
	Qty       int
	UnitPrice pricing.Money
	AddedAt   time.Time
}

// LineTotal returns quantity times the snapshotted unit price.
func (it Item) LineTotal() pricing.Money {
	return pricing.Money(it.Qty) * it.UnitPrice
}

// Cart is a session-scoped accumulation of items. Mutations are modelled as
// value updates: every operation returns a new Cart derived from the old one,
// so no caller ever holds a mutable reference into another's state. Totals
// are always derived from items plus coupon, never stored independently.
type Cart struct {
	ID         uuid.UUID
	StoreID    uuid.UUID
	CustomerID uuid.UUID // uuid.Nil for guests
	SessionID  string
	Currency   string
	Items      []Item
	CouponCode string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ExpiresAt  time.Time
	Version    int64
}

// Expired reports whether the cart passed its TTL.
func (c Cart) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// ItemCount returns the total quantity across all lines.
func (c Cart) ItemCount() int {
	count := 0
	for _, it := range c.Items {
		count += it.Qty
	}
	return count
}

// FindItem locates a line by product/variant pair.
func (c Cart) FindItem(productID, variantID uuid.UUID) (Item, bool) {
	for _, it := range c.Items {
		if it.ProductID == productID && it.VariantID == variantID {
			return it, true
		}
	}
	return Item{}, false
}

// PricingItems converts cart lines into pricing engine inputs.
func (c Cart) PricingItems() []pricing.Item {
	items := make([]pricing.Item, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, pricing.Item{Qty: it.Qty, UnitPrice: it.UnitPrice})
	}
	return items
}

// Subtotal derives the pre-discount item total.
func (c Cart) Subtotal() pricing.Money {
	var subtotal pricing.Money
	for _, it := range c.Items {
		subtotal += it.LineTotal()
	}
	return subtotal
}

// WithItemAdded returns a cart with the quantity merged into an existing
// matching line or appended as a new one.
func (c Cart) WithItemAdded(productID, variantID uuid.UUID, qty int, unitPrice pricing.Money, now time.Time) Cart {
	out := c.clone(now)
	for i, it := range out.Items {
		if it.ProductID == productID && it.VariantID == variantID {
			it.Qty += qty
			out.Items[i] = it
			return out
		}
	}
	out.Items = append(out.Items, Item{
		ID:        uuid.New(),
		ProductID: productID,
		VariantID: variantID,
		Qty:       qty,
		UnitPrice: unitPrice,
		AddedAt:   now,
	})
	return out
}

// WithItemQty returns a cart with the line set to the given quantity; a
// non-positive quantity removes the line.
func (c Cart) WithItemQty(itemID uuid.UUID, qty int, now time.Time) Cart {
	if qty <= 0 {
		return c.WithoutItem(itemID, now)
	}
	out := c.clone(now)
	for i, it := range out.Items {
		if it.ID == itemID {
			it.Qty = qty
			out.Items[i] = it
			break
		}
	}
	return out
}

// WithoutItem returns a cart with the line removed.
func (c Cart) WithoutItem(itemID uuid.UUID, now time.Time) Cart {
	out := c.clone(now)
	items := out.Items[:0]
	for _, it := range out.Items {
		if it.ID != itemID {
			items = append(items, it)
		}
	}
	out.Items = items
	return out
}

// Cleared returns an empty cart retaining identity and session scope.
func (c Cart) Cleared(now time.Time) Cart {
	out := c.clone(now)
	out.Items = nil
	out.CouponCode = ""
	return out
}

// WithCoupon returns a cart carrying the coupon code.
func (c Cart) WithCoupon(code string, now time.Time) Cart {
	out := c.clone(now)
	out.CouponCode = code
	return out
}

// ValidateForCheckout accumulates every checkout precondition failure
// instead of stopping at the first.
func (c Cart) ValidateForCheckout(now time.Time) common.FieldErrors {
	var errs common.FieldErrors
	if len(c.Items) == 0 {
		errs.Add("items", "cart is empty")
	}
	if c.Expired(now) {
		errs.Add("cart", "cart has expired")
	}
	for i, it := range c.Items {
		if it.Qty <= 0 {
			errs.Addf("items", "item %d: quantity must be greater than 0", i+1)
		}
	}
	return errs
}

// clone copies the cart and its item slice so the receiver stays untouched.
func (c Cart) clone(now time.Time) Cart {
	out := c
	out.Items = append([]Item(nil), c.Items...)
	out.UpdatedAt = now
	return out
}
