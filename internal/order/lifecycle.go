package order

import (
	"errors"
	"fmt"
)

// ErrIllegalTransition is returned when a requested status change violates
// the lifecycle state machine. It indicates a caller bug, never a condition
// to coerce silently.
var ErrIllegalTransition = errors.New("illegal order transition")

var statusNext = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusRefunded, StatusCancelled},
	StatusShipped:    {StatusDelivered, StatusReturned},
	StatusDelivered:  {StatusRefunded, StatusReturned},
}

var payStatusNext = map[PaymentStatus][]PaymentStatus{
	PaymentPending:       {PaymentAuthorized, PaymentPaid, PaymentPartiallyPaid, PaymentFailed, PaymentCancelled},
	PaymentAuthorized:    {PaymentPaid, PaymentPartiallyPaid, PaymentFailed, PaymentCancelled},
	PaymentPartiallyPaid: {PaymentPaid, PaymentRefunded, PaymentPartiallyRefunded, PaymentFailed},
	PaymentPaid:          {PaymentRefunded, PaymentPartiallyRefunded},
	// Further partial refunds stay in the same state until fully refunded.
	PaymentPartiallyRefunded: {PaymentRefunded, PaymentPartiallyRefunded},
}

var fulfillmentNext = map[FulfillmentStatus][]FulfillmentStatus{
	FulfillmentUnfulfilled:        {FulfillmentPartiallyFulfilled, FulfillmentFulfilled, FulfillmentCancelled},
	FulfillmentPartiallyFulfilled: {FulfillmentFulfilled, FulfillmentReturned, FulfillmentCancelled},
	FulfillmentFulfilled:          {FulfillmentReturned},
}

func transitionAllowed[S comparable](table map[S][]S, from, to S) bool {
	if from == to {
		return true
	}
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}

// WithStatus returns a copy of the order in the requested status, or
// ErrIllegalTransition when the state machine forbids the move. Same-state
// requests are accepted unchanged so idempotent callers need no special case.
func (o Order) WithStatus(to Status) (Order, error) {
	if !transitionAllowed(statusNext, o.Status, to) {
		return o, fmt.Errorf("%w: status %s -> %s", ErrIllegalTransition, o.Status, to)
	}
	o.Status = to
	return o, nil
}

// WithPayStatus returns a copy of the order with the payment status advanced.
func (o Order) WithPayStatus(to PaymentStatus) (Order, error) {
	if !transitionAllowed(payStatusNext, o.PayStatus, to) {
		return o, fmt.Errorf("%w: payment status %s -> %s", ErrIllegalTransition, o.PayStatus, to)
	}
	o.PayStatus = to
	return o, nil
}

// WithFulfillment returns a copy of the order with the fulfilment status advanced.
func (o Order) WithFulfillment(to FulfillmentStatus) (Order, error) {
	if !transitionAllowed(fulfillmentNext, o.Fulfillment, to) {
		return o, fmt.Errorf("%w: fulfillment %s -> %s", ErrIllegalTransition, o.Fulfillment, to)
	}
	o.Fulfillment = to
	return o, nil
}

// CanCancel reports whether cancellation is permitted: the order must still
// be pending or confirmed, nothing may have settled, and nothing may have
// shipped.
func (o Order) CanCancel() bool {
	if o.Status != StatusPending && o.Status != StatusConfirmed {
		return false
	}
	if o.PayStatus == PaymentPaid || o.PayStatus == PaymentPartiallyPaid {
		return false
	}
	return o.Fulfillment == FulfillmentUnfulfilled
}

// CanRefund reports whether any money has settled to refund.
func (o Order) CanRefund() bool {
	return o.PayStatus == PaymentPaid || o.PayStatus == PaymentPartiallyPaid ||
		o.PayStatus == PaymentPartiallyRefunded
}
