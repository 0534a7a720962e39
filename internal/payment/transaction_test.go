package payment

import (
	"errors"
	"testing"

	"github.com/amara-dev/backend-soko/internal/order"
)

func TestTransactionTransitions(t *testing.T) {
	cases := []struct {
		from, to TxStatus
		ok       bool
	}{
		{TxPending, TxProcessing, true},
		{TxPending, TxSuccess, true},
		{TxPending, TxExpired, true},
		{TxProcessing, TxSuccess, true},
		{TxProcessing, TxFailed, true},
		{TxSuccess, TxRefunded, true},
		{TxSuccess, TxPartiallyRefunded, true},
		{TxPartiallyRefunded, TxRefunded, true},
		{TxPartiallyRefunded, TxPartiallyRefunded, true},
		{TxFailed, TxSuccess, false},
		{TxExpired, TxSuccess, false},
		{TxCancelled, TxProcessing, false},
		{TxRefunded, TxPartiallyRefunded, false},
		{TxSuccess, TxPending, false},
	}
	for _, tc := range cases {
		tx := Transaction{Status: tc.from}
		got, err := tx.WithStatus(tc.to)
		if tc.ok {
			if err != nil {
				t.Errorf("%s -> %s: unexpected error %v", tc.from, tc.to, err)
			} else if got.Status != tc.to {
				t.Errorf("%s -> %s: status not applied", tc.from, tc.to)
			}
			continue
		}
		if !errors.Is(err, order.ErrIllegalTransition) {
			t.Errorf("%s -> %s: expected ErrIllegalTransition, got %v", tc.from, tc.to, err)
		}
	}
}

func TestTerminal(t *testing.T) {
	for status, want := range map[TxStatus]bool{
		TxPending:           false,
		TxProcessing:        false,
		TxSuccess:           true,
		TxFailed:            true,
		TxCancelled:         true,
		TxExpired:           true,
		TxRefunded:          true,
		TxPartiallyRefunded: true,
	} {
		if status.Terminal() != want {
			t.Errorf("Terminal(%s): expected %v", status, want)
		}
	}
}

func TestRemainingRefundable(t *testing.T) {
	tx := Transaction{Amount: 1_000, Refunded: 300}
	if got := tx.RemainingRefundable(); got != 700 {
		t.Fatalf("expected 700, got %d", got)
	}
	tx.Refunded = 1_000
	if got := tx.RemainingRefundable(); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}
