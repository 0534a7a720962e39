package order

import (
	"time"

	"github.com/google/uuid"

	"github.com/amara-dev/backend-soko/internal/pricing"
)

// Status is the order-level lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
	StatusReturned   Status = "returned"
)

// PaymentStatus tracks how much of the order has settled.
type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentAuthorized        PaymentStatus = "authorized"
	PaymentPaid              PaymentStatus = "paid"
	PaymentPartiallyPaid     PaymentStatus = "partially_paid"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
	PaymentFailed            PaymentStatus = "failed"
	PaymentCancelled         PaymentStatus = "cancelled"
)

// FulfillmentStatus tracks physical fulfilment progress.
type FulfillmentStatus string

const (
	FulfillmentUnfulfilled        FulfillmentStatus = "unfulfilled"
	FulfillmentPartiallyFulfilled FulfillmentStatus = "partially_fulfilled"
	FulfillmentFulfilled          FulfillmentStatus = "fulfilled"
	FulfillmentReturned           FulfillmentStatus = "returned"
	FulfillmentCancelled          FulfillmentStatus = "cancelled"
)

// Address is an immutable shipping/billing snapshot taken at order time.
type Address struct {
	FirstName string `validate:"required,min=1"`
	LastName  string `validate:"required,min=1"`
	Company   string `validate:"omitempty,max=120"`
	Line1     string `validate:"required,min=1"`
	Line2     string `validate:"omitempty"`
	City      string `validate:"required,min=1"`
	Region    string `validate:"omitempty"`
	Postcode  string `validate:"omitempty,max=16"`
	Country   string `validate:"required,iso3166_1_alpha2"`
	Phone     string `validate:"omitempty,e164"`
}

// Item is a price-snapshotted order line. It is never re-derived from live
// product data and never mutated after the order is created. Tax and
// discount carry this line's share of the order-level amounts.
type Item struct {
	ID               uuid.UUID
	ProductID        uuid.UUID
	VariantID        uuid.UUID
	Name             string
	Qty              int
	UnitPrice        pricing.Money
	Tax              pricing.Money
	Discount         pricing.Money
	RequiresShipping bool
	WeightGrams      int64
}

// LineTotal returns quantity times the snapshotted unit price.
func (it Item) LineTotal() pricing.Money {
	return pricing.Money(it.Qty) * it.UnitPrice
}

// Order is the frozen result of a checkout. Everything except the three
// status fields and their timestamps is immutable after creation.
type Order struct {
	ID          uuid.UUID
	Number      string
	StoreID     uuid.UUID
	CustomerID  uuid.UUID
	Status      Status
	PayStatus   PaymentStatus
	Fulfillment FulfillmentStatus

	Currency string
	Subtotal pricing.Money
	Tax      pricing.Money
	Shipping pricing.Money
	Discount pricing.Money
	Total    pricing.Money

	Items           []Item
	ShippingAddress Address
	BillingAddress  Address
	CouponCode      string
	Channel         string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	ProcessedAt *time.Time
	CancelledAt *time.Time
	FulfilledAt *time.Time

	Version int64
}

// ShippingWeightGrams sums item weights over the lines that need physical
// fulfilment. Digital lines contribute nothing regardless of weight.
func (o Order) ShippingWeightGrams() int64 {
	var total int64
	for _, it := range o.Items {
		if !it.RequiresShipping {
			continue
		}
		total += it.WeightGrams * int64(it.Qty)
	}
	return total
}

// ItemCount returns the total unit count across all lines.
func (o Order) ItemCount() int {
	total := 0
	for _, it := range o.Items {
		total += it.Qty
	}
	return total
}

// Filter is a structured listing filter. Every field maps to a bound query
// parameter in the repository; no caller-supplied value is ever interpolated
// into SQL text.
type Filter struct {
	StoreID     uuid.UUID
	CustomerID  uuid.UUID
	Status      Status
	PayStatus   PaymentStatus
	Fulfillment FulfillmentStatus
	NumberLike  string
	CreatedFrom time.Time
	CreatedTo   time.Time
	TotalMin    pricing.Money
	TotalMax    pricing.Money // 0 means unbounded
	Limit       int32
	Offset      int32
}

// allocate splits a whole-order amount across lines in proportion to their
// line totals. Rounding remainders land on the last line so the shares
// always sum to the original amount.
func allocate(amount pricing.Money, items []Item) []pricing.Money {
	shares := make([]pricing.Money, len(items))
	if amount == 0 || len(items) == 0 {
		return shares
	}
	var subtotal pricing.Money
	for _, it := range items {
		subtotal += it.LineTotal()
	}
	if subtotal <= 0 {
		return shares
	}
	var assigned pricing.Money
	for i, it := range items {
		if i == len(items)-1 {
			shares[i] = amount - assigned
			break
		}
		shares[i] = pricing.RoundHalfAway(amount*it.LineTotal(), subtotal)
		assigned += shares[i]
	}
	return shares
}
