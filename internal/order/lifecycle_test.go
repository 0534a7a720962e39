package order

import (
	"errors"
	"testing"
)

func TestWithStatusAllowsDefinedTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusConfirmed, StatusProcessing, true},
		{StatusProcessing, StatusShipped, true},
		{StatusShipped, StatusDelivered, true},
		{StatusShipped, StatusReturned, true},
		{StatusDelivered, StatusRefunded, true},
		{StatusPending, StatusShipped, false},
		{StatusDelivered, StatusPending, false},
		{StatusCancelled, StatusConfirmed, false},
		{StatusRefunded, StatusPending, false},
		// Same-state request is an idempotent no-op.
		{StatusConfirmed, StatusConfirmed, true},
	}
	for _, tc := range cases {
		o := Order{Status: tc.from}
		got, err := o.WithStatus(tc.to)
		if tc.ok {
			if err != nil {
				t.Errorf("%s -> %s: unexpected error %v", tc.from, tc.to, err)
			} else if got.Status != tc.to {
				t.Errorf("%s -> %s: status not applied", tc.from, tc.to)
			}
			continue
		}
		if !errors.Is(err, ErrIllegalTransition) {
			t.Errorf("%s -> %s: expected ErrIllegalTransition, got %v", tc.from, tc.to, err)
		}
	}
}

func TestWithPayStatusTerminalStates(t *testing.T) {
	for _, terminal := range []PaymentStatus{PaymentFailed, PaymentCancelled, PaymentRefunded} {
		o := Order{PayStatus: terminal}
		if _, err := o.WithPayStatus(PaymentPaid); !errors.Is(err, ErrIllegalTransition) {
			t.Errorf("expected %s to be terminal, got %v", terminal, err)
		}
	}
	o := Order{PayStatus: PaymentPartiallyRefunded}
	if _, err := o.WithPayStatus(PaymentPartiallyRefunded); err != nil {
		t.Fatalf("further partial refunds should be allowed: %v", err)
	}
	if _, err := o.WithPayStatus(PaymentRefunded); err != nil {
		t.Fatalf("partially refunded should reach refunded: %v", err)
	}
}

func TestCanCancelPreconditions(t *testing.T) {
	base := Order{Status: StatusConfirmed, PayStatus: PaymentPending, Fulfillment: FulfillmentUnfulfilled}
	if !base.CanCancel() {
		t.Fatal("confirmed/pending/unfulfilled order should be cancellable")
	}

	paid := base
	paid.PayStatus = PaymentPaid
	if paid.CanCancel() {
		t.Fatal("paid order must not be cancellable")
	}

	partiallyPaid := base
	partiallyPaid.PayStatus = PaymentPartiallyPaid
	if partiallyPaid.CanCancel() {
		t.Fatal("partially paid order must not be cancellable")
	}

	shipped := base
	shipped.Status = StatusShipped
	if shipped.CanCancel() {
		t.Fatal("shipped order must not be cancellable")
	}

	fulfilled := base
	fulfilled.Fulfillment = FulfillmentFulfilled
	if fulfilled.CanCancel() {
		t.Fatal("fulfilled order must not be cancellable")
	}
}

func TestCanRefund(t *testing.T) {
	for status, want := range map[PaymentStatus]bool{
		PaymentPaid:              true,
		PaymentPartiallyPaid:     true,
		PaymentPartiallyRefunded: true,
		PaymentPending:           false,
		PaymentFailed:            false,
		PaymentRefunded:          false,
	} {
		o := Order{PayStatus: status}
		if o.CanRefund() != want {
			t.Errorf("CanRefund with payment status %s: expected %v", status, want)
		}
	}
}

func TestAllocateSharesSumToAmount(t *testing.T) {
	items := []Item{
		{Qty: 2, UnitPrice: 1_000},
		{Qty: 1, UnitPrice: 500},
		{Qty: 3, UnitPrice: 333},
	}
	shares := allocate(188, items)
	var sum int64
	for _, s := range shares {
		if s < 0 {
			t.Fatalf("negative share: %v", shares)
		}
		sum += int64(s)
	}
	if sum != 188 {
		t.Fatalf("shares %v sum to %d, expected 188", shares, sum)
	}
}

func TestAllocateZeroAmount(t *testing.T) {
	shares := allocate(0, []Item{{Qty: 1, UnitPrice: 100}})
	if shares[0] != 0 {
		t.Fatalf("expected zero share, got %v", shares)
	}
}

func TestShippingWeightSkipsDigitalLines(t *testing.T) {
	o := Order{Items: []Item{
		{Qty: 2, WeightGrams: 380, RequiresShipping: true},
		{Qty: 1, WeightGrams: 600, RequiresShipping: true},
		{Qty: 5, WeightGrams: 999, RequiresShipping: false},
	}}
	if got := o.ShippingWeightGrams(); got != 1360 {
		t.Fatalf("expected 1360g, got %d", got)
	}
}
