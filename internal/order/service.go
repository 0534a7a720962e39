package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/amara-dev/backend-soko/internal/cart"
	"github.com/amara-dev/backend-soko/internal/common"
	"github.com/amara-dev/backend-soko/internal/coupon"
	"github.com/amara-dev/backend-soko/internal/events"
	"github.com/amara-dev/backend-soko/internal/inventory"
	"github.com/amara-dev/backend-soko/internal/obs"
	"github.com/amara-dev/backend-soko/internal/pricing"
)

var (
	// ErrNotFound is returned when no order exists for the given identity.
	ErrNotFound = errors.New("order not found")
	// ErrNumberTaken is reported by the store when an insert collides on the
	// order number unique constraint. Callers regenerate and retry.
	ErrNumberTaken = errors.New("order number already taken")
)

const (
	numberAttempts = 5
	updateAttempts = 3
)

// Store defines the persistence operations the order service depends on.
// Update applies only when the stored version matches and returns
// common.ErrVersionConflict otherwise.
type Store interface {
	Insert(ctx context.Context, o Order) error
	Get(ctx context.Context, id uuid.UUID) (Order, error)
	GetByNumber(ctx context.Context, storeID uuid.UUID, number string) (Order, error)
	Update(ctx context.Context, o Order) error
	List(ctx context.Context, f Filter) ([]Order, error)
}

// ShippingInfo describes the physical attributes of a purchasable unit.
type ShippingInfo struct {
	WeightGrams      int64
	RequiresShipping bool
}

// ShippingInfoSource resolves physical attributes from the catalog so order
// lines can snapshot their shipping weight alongside the price.
type ShippingInfoSource interface {
	ShippingInfo(ctx context.Context, productID, variantID uuid.UUID) (ShippingInfo, error)
}

// CreateRequest carries everything checkout needs to freeze a cart into an
// order. BillingAddress may be left zero to reuse the shipping address.
type CreateRequest struct {
	CartID          uuid.UUID
	CustomerID      uuid.UUID
	ShippingAddress Address
	BillingAddress  Address
	ShippingAmount  pricing.Money
	Channel         string
}

// Service owns the order lifecycle: creation from carts, cancellation, and
// the payment-driven transitions the orchestrator reports.
type Service struct {
	Store     Store
	Carts     cart.Store
	Coupons   *coupon.Service
	Inventory *inventory.Service
	Events    *events.Bus
	Shipping  ShippingInfoSource
	Validate  *validator.Validate
	Log       zerolog.Logger
	TaxBps    int
	Now       func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// CreateFromCart validates the cart and freezes it into a pending order.
// Validation failures accumulate: the returned common.FieldErrors lists every
// failing field, not just the first one.
func (s *Service) CreateFromCart(ctx context.Context, req CreateRequest) (Order, error) {
	ctx, span := otel.Tracer("order.Service").Start(ctx, "OrderService.CreateFromCart")
	defer span.End()
	span.SetAttributes(attribute.String("cart.id", req.CartID.String()))

	c, err := s.Carts.Get(ctx, req.CartID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return Order{}, cart.ErrNotFound
		}
		return Order{}, fmt.Errorf("load cart: %w", err)
	}

	now := s.now()
	errs := c.ValidateForCheckout(now)
	s.validateAddress("shipping_address", req.ShippingAddress, &errs)
	billing := req.BillingAddress
	if billing == (Address{}) {
		billing = req.ShippingAddress
	} else {
		s.validateAddress("billing_address", billing, &errs)
	}
	if req.ShippingAmount < 0 {
		errs.Add("shipping_amount", "must not be negative")
	}
	if len(c.Currency) != 3 {
		errs.Add("currency", "must be a 3-letter currency code")
	}

	var discount pricing.Money
	var shippingWaived bool
	if c.CouponCode != "" {
		res, couponErr := s.Coupons.Preview(ctx, c.CouponCode, c.Subtotal())
		if couponErr != nil {
			errs.Addf("coupon_code", "coupon %q is not applicable: %v", c.CouponCode, couponErr)
		} else {
			discount = res.Discount
			shippingWaived = res.ShippingWaived
		}
	}
	if !errs.Empty() {
		return Order{}, errs
	}

	shipping := req.ShippingAmount
	if shippingWaived {
		shipping = 0
	}
	summary := pricing.ComputeOrder(c.PricingItems(), s.TaxBps, discount, shipping)

	customerID := req.CustomerID
	if customerID == uuid.Nil {
		customerID = c.CustomerID
	}
	o := Order{
		ID:              uuid.New(),
		StoreID:         c.StoreID,
		CustomerID:      customerID,
		Status:          StatusPending,
		PayStatus:       PaymentPending,
		Fulfillment:     FulfillmentUnfulfilled,
		Currency:        c.Currency,
		Subtotal:        summary.Subtotal,
		Tax:             summary.Tax,
		Shipping:        summary.Shipping,
		Discount:        summary.Discount,
		Total:           summary.Total,
		Items:           s.snapshotItems(ctx, c.Items, summary),
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  billing,
		CouponCode:      c.CouponCode,
		Channel:         req.Channel,
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}

	inserted := false
	for attempt := 0; attempt < numberAttempts; attempt++ {
		o.Number = GenerateNumber(o.StoreID, s.now())
		insertErr := s.Store.Insert(ctx, o)
		if insertErr == nil {
			inserted = true
			break
		}
		if !errors.Is(insertErr, ErrNumberTaken) {
			return Order{}, fmt.Errorf("insert order: %w", insertErr)
		}
		s.Log.Warn().Str("order_number", o.Number).Int("attempt", attempt+1).
			Msg("order number collision, regenerating")
	}
	if !inserted {
		return Order{}, fmt.Errorf("exhausted %d order number attempts for store %s", numberAttempts, o.StoreID)
	}

	if err := s.Carts.Delete(ctx, c.ID); err != nil {
		s.Log.Error().Err(err).Str("cart_id", c.ID.String()).Msg("close cart after checkout")
	}
	if s.Events != nil {
		if _, err := s.Events.Emit(ctx, events.TopicOrderCreated, o.ID, map[string]any{
			"order_number": o.Number,
			"store_id":     o.StoreID,
			"total":        o.Total,
			"currency":     o.Currency,
		}); err != nil {
			s.Log.Error().Err(err).Str("order_id", o.ID.String()).Msg("emit order created")
		}
	}
	if obs.OrderCreatedTotal != nil {
		obs.OrderCreatedTotal.Inc()
	}
	span.SetAttributes(attribute.String("order.number", o.Number))
	s.Log.Info().Str("order_id", o.ID.String()).Str("order_number", o.Number).
		Int64("total", int64(o.Total)).Msg("order created")
	return o, nil
}

// Cancel marks the order cancelled. It succeeds only while the order is
// pending or confirmed, unpaid, and unfulfilled.
func (s *Service) Cancel(ctx context.Context, orderID uuid.UUID) (Order, error) {
	ctx, span := otel.Tracer("order.Service").Start(ctx, "OrderService.Cancel")
	defer span.End()

	var out Order
	err := s.withRetry(ctx, orderID, func(o Order) (Order, error) {
		if !o.CanCancel() {
			return o, fmt.Errorf("%w: cancel order in status=%s payment=%s fulfillment=%s",
				ErrIllegalTransition, o.Status, o.PayStatus, o.Fulfillment)
		}
		o, err := o.WithStatus(StatusCancelled)
		if err != nil {
			return o, err
		}
		if o.PayStatus == PaymentPending || o.PayStatus == PaymentAuthorized {
			if o, err = o.WithPayStatus(PaymentCancelled); err != nil {
				return o, err
			}
		}
		if o, err = o.WithFulfillment(FulfillmentCancelled); err != nil {
			return o, err
		}
		now := s.now()
		o.CancelledAt = &now
		out = o
		return o, nil
	})
	if err != nil {
		return Order{}, err
	}

	if s.Events != nil {
		if _, err := s.Events.Emit(ctx, events.TopicOrderCanceled, out.ID, map[string]any{
			"order_number": out.Number,
		}); err != nil {
			s.Log.Error().Err(err).Str("order_id", out.ID.String()).Msg("emit order canceled")
		}
	}
	if obs.OrderCanceledTotal != nil {
		obs.OrderCanceledTotal.Inc()
	}
	s.Log.Info().Str("order_id", out.ID.String()).Str("order_number", out.Number).Msg("order cancelled")
	return out, nil
}

// MarkPaid is invoked by the payment orchestrator exactly once per settled
// transaction. It confirms the order, decrements stock for every line, and
// records coupon usage.
func (s *Service) MarkPaid(ctx context.Context, orderID uuid.UUID) (Order, error) {
	ctx, span := otel.Tracer("order.Service").Start(ctx, "OrderService.MarkPaid")
	defer span.End()

	var out Order
	err := s.withRetry(ctx, orderID, func(o Order) (Order, error) {
		o, err := o.WithPayStatus(PaymentPaid)
		if err != nil {
			return o, err
		}
		if o.Status == StatusPending {
			if o, err = o.WithStatus(StatusConfirmed); err != nil {
				return o, err
			}
		}
		now := s.now()
		o.ProcessedAt = &now
		out = o
		return o, nil
	})
	if err != nil {
		return Order{}, err
	}

	s.decrementStock(ctx, out)
	if out.CouponCode != "" && s.Coupons != nil {
		if err := s.Coupons.Redeem(ctx, out.CouponCode, out.ID, out.Discount); err != nil {
			s.Log.Error().Err(err).Str("order_id", out.ID.String()).
				Str("coupon_code", out.CouponCode).Msg("record coupon redemption")
		}
	}
	if s.Events != nil {
		if _, err := s.Events.Emit(ctx, events.TopicOrderConfirmed, out.ID, map[string]any{
			"order_number": out.Number,
			"total":        out.Total,
		}); err != nil {
			s.Log.Error().Err(err).Str("order_id", out.ID.String()).Msg("emit order confirmed")
		}
	}
	return out, nil
}

// MarkPaymentFailed records a terminal payment failure on the order.
func (s *Service) MarkPaymentFailed(ctx context.Context, orderID uuid.UUID) (Order, error) {
	var out Order
	err := s.withRetry(ctx, orderID, func(o Order) (Order, error) {
		o, err := o.WithPayStatus(PaymentFailed)
		if err != nil {
			return o, err
		}
		out = o
		return o, nil
	})
	return out, err
}

// MarkRefunded moves the order's payment status after a refund settles. A
// full refund also moves the order status to refunded where the state
// machine permits, and returns every line's stock to the ledger.
func (s *Service) MarkRefunded(ctx context.Context, orderID uuid.UUID, full bool) (Order, error) {
	ctx, span := otel.Tracer("order.Service").Start(ctx, "OrderService.MarkRefunded")
	defer span.End()

	var out Order
	err := s.withRetry(ctx, orderID, func(o Order) (Order, error) {
		if !o.CanRefund() {
			return o, fmt.Errorf("%w: refund order with payment status %s", ErrIllegalTransition, o.PayStatus)
		}
		target := PaymentPartiallyRefunded
		if full {
			target = PaymentRefunded
		}
		o, err := o.WithPayStatus(target)
		if err != nil {
			return o, err
		}
		if full {
			if next, statusErr := o.WithStatus(StatusRefunded); statusErr == nil {
				o = next
			}
		}
		out = o
		return o, nil
	})
	if err != nil {
		return Order{}, err
	}

	if full {
		s.restock(ctx, out)
	}
	if s.Events != nil {
		if _, err := s.Events.Emit(ctx, events.TopicRefundIssued, out.ID, map[string]any{
			"order_number": out.Number,
			"full":         full,
		}); err != nil {
			s.Log.Error().Err(err).Str("order_id", out.ID.String()).Msg("emit refund issued")
		}
	}
	return out, nil
}

// Get loads a single order.
func (s *Service) Get(ctx context.Context, orderID uuid.UUID) (Order, error) {
	o, err := s.Store.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	return o, nil
}

// List returns orders matching the structured filter.
func (s *Service) List(ctx context.Context, f Filter) ([]Order, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	return s.Store.List(ctx, f)
}

// withRetry loads the order, applies fn, and performs a version-checked
// update, retrying with fresh state on conflict up to updateAttempts times.
func (s *Service) withRetry(ctx context.Context, orderID uuid.UUID, fn func(Order) (Order, error)) error {
	for attempt := 0; attempt < updateAttempts; attempt++ {
		o, err := s.Get(ctx, orderID)
		if err != nil {
			return err
		}
		next, err := fn(o)
		if err != nil {
			return err
		}
		next.UpdatedAt = s.now()
		err = s.Store.Update(ctx, next)
		if err == nil {
			return nil
		}
		if !errors.Is(err, common.ErrVersionConflict) {
			return fmt.Errorf("update order: %w", err)
		}
	}
	return fmt.Errorf("update order %s: %w", orderID, common.ErrVersionConflict)
}

func (s *Service) decrementStock(ctx context.Context, o Order) {
	if s.Inventory == nil {
		return
	}
	for _, it := range o.Items {
		if _, err := s.Inventory.Adjust(ctx, ledgerKey(it), inventory.Update{
			Reason:   inventory.ReasonSale,
			Quantity: int64(it.Qty),
		}); err != nil {
			// Settlement already happened; an oversold line is an operational
			// problem to surface, not a reason to unwind the payment.
			s.Log.Error().Err(err).Str("order_id", o.ID.String()).
				Str("variant_id", ledgerKey(it).String()).Msg("decrement stock after settlement")
		}
	}
}

func (s *Service) restock(ctx context.Context, o Order) {
	if s.Inventory == nil {
		return
	}
	for _, it := range o.Items {
		if _, err := s.Inventory.Adjust(ctx, ledgerKey(it), inventory.Update{
			Reason:   inventory.ReasonReturn,
			Quantity: int64(it.Qty),
		}); err != nil {
			s.Log.Error().Err(err).Str("order_id", o.ID.String()).
				Str("variant_id", ledgerKey(it).String()).Msg("restock after refund")
		}
	}
}

func ledgerKey(it Item) uuid.UUID {
	if it.VariantID != uuid.Nil {
		return it.VariantID
	}
	return it.ProductID
}

func (s *Service) validateAddress(prefix string, addr Address, errs *common.FieldErrors) {
	v := s.Validate
	if v == nil {
		v = validator.New()
	}
	err := v.Struct(addr)
	if err == nil {
		return
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		errs.Add(prefix, "is invalid")
		return
	}
	for _, fe := range fieldErrs {
		field := fmt.Sprintf("%s.%s", prefix, strings.ToLower(fe.Field()))
		switch fe.Tag() {
		case "required", "min":
			errs.Add(field, "is required")
		case "iso3166_1_alpha2":
			errs.Add(field, "must be a 2-letter country code")
		case "e164":
			errs.Add(field, "must be an E.164 phone number")
		default:
			errs.Addf(field, "fails %s validation", fe.Tag())
		}
	}
}

func (s *Service) snapshotItems(ctx context.Context, items []cart.Item, summary pricing.Summary) []Item {
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = Item{
			ID:               uuid.New(),
			ProductID:        it.ProductID,
			VariantID:        it.VariantID,
			Qty:              it.Qty,
			UnitPrice:        it.UnitPrice,
			RequiresShipping: true,
		}
		if s.Shipping != nil {
			info, err := s.Shipping.ShippingInfo(ctx, it.ProductID, it.VariantID)
			if err != nil {
				s.Log.Warn().Err(err).Str("variant_id", it.VariantID.String()).
					Msg("resolve shipping info, assuming physical line")
			} else {
				out[i].RequiresShipping = info.RequiresShipping
				out[i].WeightGrams = info.WeightGrams
			}
		}
	}
	taxShares := allocate(summary.Tax, out)
	discountShares := allocate(summary.Discount, out)
	for i := range out {
		out[i].Tax = taxShares[i]
		out[i].Discount = discountShares[i]
	}
	return out
}
