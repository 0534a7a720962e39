package payment

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/amara-dev/backend-soko/internal/order"
	"github.com/amara-dev/backend-soko/internal/pricing"
)

// TxStatus is a payment transaction state. Transitions are monotonic: once a
// transaction reaches a terminal state, only the refund branch out of
// success remains.
type TxStatus string

const (
	TxPending           TxStatus = "pending"
	TxProcessing        TxStatus = "processing"
	TxSuccess           TxStatus = "success"
	TxFailed            TxStatus = "failed"
	TxCancelled         TxStatus = "cancelled"
	TxExpired           TxStatus = "expired"
	TxRefunded          TxStatus = "refunded"
	TxPartiallyRefunded TxStatus = "partially_refunded"
)

var txNext = map[TxStatus][]TxStatus{
	TxPending:    {TxProcessing, TxSuccess, TxFailed, TxCancelled, TxExpired},
	TxProcessing: {TxSuccess, TxFailed, TxCancelled, TxExpired},
	TxSuccess:    {TxRefunded, TxPartiallyRefunded},
	// Repeat partial refunds stay in place until the full amount is returned.
	TxPartiallyRefunded: {TxRefunded, TxPartiallyRefunded},
}

// Terminal reports whether no payment-outcome transition remains; the refund
// branch out of success does not count.
func (s TxStatus) Terminal() bool {
	switch s {
	case TxSuccess, TxFailed, TxCancelled, TxExpired, TxRefunded, TxPartiallyRefunded:
		return true
	}
	return false
}

// Transaction records one payment attempt against an order.
type Transaction struct {
	ID         uuid.UUID
	OrderID    uuid.UUID
	Gateway    string
	Method     Method
	Status     TxStatus
	Amount     pricing.Money
	Currency   string
	FeeAmount  pricing.Money
	NetAmount  pricing.Money
	Refunded   pricing.Money
	Reference  string
	GatewayRef string

	CustomerPhone string
	CustomerEmail string
	Description   string

	InitiatedAt time.Time
	ProcessedAt *time.Time
	FailedAt    *time.Time
	ExpiresAt   time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

// WithStatus returns a copy of the transaction in the requested status, or
// order.ErrIllegalTransition when the state machine forbids the move.
func (t Transaction) WithStatus(to TxStatus) (Transaction, error) {
	if t.Status == to {
		return t, nil
	}
	for _, next := range txNext[t.Status] {
		if next == to {
			t.Status = to
			return t, nil
		}
	}
	return t, fmt.Errorf("%w: transaction %s -> %s", order.ErrIllegalTransition, t.Status, to)
}

// RemainingRefundable returns how much of the settled amount can still be
// refunded.
func (t Transaction) RemainingRefundable() pricing.Money {
	remaining := t.Amount - t.Refunded
	if remaining < 0 {
		return 0
	}
	return remaining
}
