package cart

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestWithItemAddedMergesMatchingLine(t *testing.T) {
	now := time.Now()
	productID := uuid.New()
	c := Cart{ID: uuid.New()}

	c2 := c.WithItemAdded(productID, uuid.Nil, 2, 1_000, now)
	c3 := c2.WithItemAdded(productID, uuid.Nil, 3, 1_000, now)

	if len(c.Items) != 0 {
		t.Fatal("original cart must stay untouched")
	}
	if len(c3.Items) != 1 || c3.Items[0].Qty != 5 {
		t.Fatalf("expected one merged line with qty 5, got %+v", c3.Items)
	}
	if c3.Items[0].LineTotal() != 5_000 {
		t.Fatalf("expected line total 5000, got %d", c3.Items[0].LineTotal())
	}
}

func TestWithItemAddedKeepsVariantsSeparate(t *testing.T) {
	now := time.Now()
	productID := uuid.New()
	c := Cart{}.
		WithItemAdded(productID, uuid.New(), 1, 500, now).
		WithItemAdded(productID, uuid.New(), 1, 600, now)
	if len(c.Items) != 2 {
		t.Fatalf("expected two variant lines, got %d", len(c.Items))
	}
}

func TestWithItemQtyZeroRemovesLine(t *testing.T) {
	now := time.Now()
	c := Cart{}.WithItemAdded(uuid.New(), uuid.Nil, 2, 1_000, now)
	itemID := c.Items[0].ID

	c2 := c.WithItemQty(itemID, 0, now)
	if len(c2.Items) != 0 {
		t.Fatalf("expected line removed, got %+v", c2.Items)
	}
	if len(c.Items) != 1 {
		t.Fatal("original cart must stay untouched")
	}
}

func TestClearedDropsItemsAndCoupon(t *testing.T) {
	now := time.Now()
	c := Cart{CouponCode: "PROMO"}.WithItemAdded(uuid.New(), uuid.Nil, 1, 100, now)
	c2 := c.Cleared(now)
	if len(c2.Items) != 0 || c2.CouponCode != "" {
		t.Fatalf("expected empty cart, got %+v", c2)
	}
}

func TestItemCount(t *testing.T) {
	now := time.Now()
	c := Cart{}.
		WithItemAdded(uuid.New(), uuid.Nil, 2, 100, now).
		WithItemAdded(uuid.New(), uuid.Nil, 3, 100, now)
	if got := c.ItemCount(); got != 5 {
		t.Fatalf("expected item count 5, got %d", got)
	}
}

func TestValidateForCheckoutAccumulates(t *testing.T) {
	now := time.Now()
	c := Cart{
		ExpiresAt: now.Add(-time.Minute),
		Items:     []Item{{ID: uuid.New(), Qty: 0, UnitPrice: 100}},
	}
	errs := c.ValidateForCheckout(now)
	if len(errs) != 2 {
		t.Fatalf("expected expired + invalid qty errors, got %v", errs)
	}
}

func TestExpired(t *testing.T) {
	now := time.Now()
	c := Cart{ExpiresAt: now.Add(time.Minute)}
	if c.Expired(now) {
		t.Fatal("cart should still be live")
	}
	if !c.Expired(now.Add(2 * time.Minute)) {
		t.Fatal("cart should be expired")
	}
}
