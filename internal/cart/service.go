package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/amara-dev/backend-soko/internal/common"
	"github.com/amara-dev/backend-soko/internal/coupon"
	"github.com/amara-dev/backend-soko/internal/pricing"
)

// ErrNotFound indicates the requested cart could not be located.
var ErrNotFound = errors.New("cart not found")

// ErrInvalidInput is returned when the provided payload is invalid.
var ErrInvalidInput = errors.New("invalid input")

// ErrExpired is returned when operating on a cart past its TTL.
var ErrExpired = errors.New("cart expired")

// Store defines the persistence operations required by the cart service.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (Cart, error)
	GetActiveBySession(ctx context.Context, storeID uuid.UUID, sessionID string) (Cart, error)
	Save(ctx context.Context, c Cart) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// PriceSource resolves the live unit price snapshotted onto a cart line.
type PriceSource interface {
	UnitPrice(ctx context.Context, productID, variantID uuid.UUID) (pricing.Money, error)
}

// Service encapsulates cart domain operations.
type Service struct {
	Store   Store
	Prices  PriceSource
	Coupons *coupon.Service
	TaxBps  int
	TTL     time.Duration
	Now     func() time.Time
}

func (s *Service) ttl() time.Duration {
	if s == nil || s.TTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return s.TTL
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// EnsureCart loads the active session cart or creates a fresh one.
func (s *Service) EnsureCart(ctx context.Context, storeID uuid.UUID, customerID uuid.UUID, sessionID, currency string) (Cart, error) {
	if s == nil || s.Store == nil {
		return Cart{}, errors.New("cart service not configured")
	}
	if sessionID == "" {
		return Cart{}, fmt.Errorf("session id is required: %w", ErrInvalidInput)
	}
	now := s.now()
	existing, err := s.Store.GetActiveBySession(ctx, storeID, sessionID)
	if err == nil && !existing.Expired(now) {
		return existing, nil
	}
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return Cart{}, err
	}
	c := Cart{
		ID:         uuid.New(),
		StoreID:    storeID,
		CustomerID: customerID,
		SessionID:  sessionID,
		Currency:   currency,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(s.ttl()),
	}
	if err := s.Store.Save(ctx, c); err != nil {
		return Cart{}, err
	}
	return c, nil
}

// AddItem snapshots the current unit price and merges the quantity into the cart.
func (s *Service) AddItem(ctx context.Context, cartID, productID, variantID uuid.UUID, qty int) (Cart, error) {
	if qty <= 0 {
		return Cart{}, fmt.Errorf("qty must be positive: %w", ErrInvalidInput)
	}
	if qty > MaxLineQty {
		return Cart{}, fmt.Errorf("qty must not exceed %d: %w", MaxLineQty, ErrInvalidInput)
	}
	c, err := s.load(ctx, cartID)
	if err != nil {
		return Cart{}, err
	}
	if existing, ok := c.FindItem(productID, variantID); ok && existing.Qty+qty > MaxLineQty {
		return Cart{}, fmt.Errorf("line qty must not exceed %d: %w", MaxLineQty, ErrInvalidInput)
	}
	unitPrice, err := s.Prices.UnitPrice(ctx, productID, variantID)
	if err != nil {
		return Cart{}, fmt.Errorf("resolve unit price: %w", err)
	}
	next := c.WithItemAdded(productID, variantID, qty, unitPrice, s.now())
	next.ExpiresAt = s.now().Add(s.ttl())
	if err := s.Store.Save(ctx, next); err != nil {
		return Cart{}, err
	}
	return next, nil
}

// UpdateQty sets the quantity for a cart line; non-positive removes it.
func (s *Service) UpdateQty(ctx context.Context, cartID, itemID uuid.UUID, qty int) (Cart, error) {
	if qty > MaxLineQty {
		return Cart{}, fmt.Errorf("qty must not exceed %d: %w", MaxLineQty, ErrInvalidInput)
	}
	c, err := s.load(ctx, cartID)
	if err != nil {
		return Cart{}, err
	}
	next := c.WithItemQty(itemID, qty, s.now())
	if err := s.Store.Save(ctx, next); err != nil {
		return Cart{}, err
	}
	return next, nil
}

// RemoveItem drops a line from the cart.
func (s *Service) RemoveItem(ctx context.Context, cartID, itemID uuid.UUID) (Cart, error) {
	c, err := s.load(ctx, cartID)
	if err != nil {
		return Cart{}, err
	}
	next := c.WithoutItem(itemID, s.now())
	if err := s.Store.Save(ctx, next); err != nil {
		return Cart{}, err
	}
	return next, nil
}

// Clear empties the cart while keeping it alive for the session.
func (s *Service) Clear(ctx context.Context, cartID uuid.UUID) (Cart, error) {
	c, err := s.load(ctx, cartID)
	if err != nil {
		return Cart{}, err
	}
	next := c.Cleared(s.now())
	if err := s.Store.Save(ctx, next); err != nil {
		return Cart{}, err
	}
	return next, nil
}

// ApplyCoupon previews the coupon against the cart subtotal and, when
// eligible, stores the code on the cart. Usage is not counted here; that
// happens at order settlement.
func (s *Service) ApplyCoupon(ctx context.Context, cartID uuid.UUID, code string) (Cart, coupon.Result, error) {
	if s.Coupons == nil {
		return Cart{}, coupon.Result{}, errors.New("coupon service not configured")
	}
	c, err := s.load(ctx, cartID)
	if err != nil {
		return Cart{}, coupon.Result{}, err
	}
	res, err := s.Coupons.Preview(ctx, code, c.Subtotal())
	if err != nil {
		return Cart{}, coupon.Result{}, err
	}
	next := c.WithCoupon(code, s.now())
	if err := s.Store.Save(ctx, next); err != nil {
		return Cart{}, coupon.Result{}, err
	}
	return next, res, nil
}

// Totals derives the cart summary, evaluating the attached coupon if any.
func (s *Service) Totals(ctx context.Context, cartID uuid.UUID) (pricing.Summary, error) {
	c, err := s.load(ctx, cartID)
	if err != nil {
		return pricing.Summary{}, err
	}
	var discount pricing.Money
	if c.CouponCode != "" && s.Coupons != nil {
		res, err := s.Coupons.Preview(ctx, c.CouponCode, c.Subtotal())
		if err == nil {
			discount = res.Discount
		}
	}
	return pricing.ComputeCart(c.PricingItems(), s.TaxBps, discount), nil
}

func (s *Service) load(ctx context.Context, cartID uuid.UUID) (Cart, error) {
	if s == nil || s.Store == nil {
		return Cart{}, errors.New("cart service not configured")
	}
	c, err := s.Store.Get(ctx, cartID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return Cart{}, ErrNotFound
		}
		return Cart{}, err
	}
	if c.Expired(s.now()) {
		return Cart{}, ErrExpired
	}
	return c, nil
}
