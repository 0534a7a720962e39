package payment

import (
	"errors"
	"fmt"
)

var (
	// ErrTransactionNotFound is returned when no transaction matches the
	// given reference.
	ErrTransactionNotFound = errors.New("payment transaction not found")
	// ErrInvalidSignature is returned when a webhook fails authenticity
	// verification. No transaction state is touched in that case.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrNoGateway is returned when no active gateway supports the
	// requested currency, country and method combination.
	ErrNoGateway = errors.New("no eligible payment gateway")
	// ErrOrderAlreadyPaid rejects initiation against an order whose latest
	// transaction already settled.
	ErrOrderAlreadyPaid = errors.New("order already paid")
	// ErrPendingExists is reported by the store when another pending
	// transaction for the same order won the insert race.
	ErrPendingExists = errors.New("pending transaction already exists for order")
	// ErrNotRefundable is returned when a refund is requested against a
	// transaction that never settled.
	ErrNotRefundable = errors.New("transaction is not refundable")
	// ErrRefundExceedsPaid guards the cumulative refund cap.
	ErrRefundExceedsPaid = errors.New("refund exceeds settled amount")
)

// GatewayError wraps a failure from an upstream provider. Transient failures
// (network, timeout, open breaker) are eligible for bounded retry; permanent
// ones (declined, bad credentials) surface immediately.
type GatewayError struct {
	Gateway   string
	Op        string
	Transient bool
	Err       error
}

func (e *GatewayError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("gateway %s: %s: %s failure: %v", e.Gateway, e.Op, kind, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// IsTransientGatewayError reports whether err is a retryable gateway failure.
func IsTransientGatewayError(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.Transient
}
