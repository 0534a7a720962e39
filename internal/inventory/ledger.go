package inventory

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrInsufficientStock is returned when a delta would take a tracked
	// record negative and backorders are not allowed. The record is left
	// untouched; callers abort the triggering sale instead of selling
	// stock that does not exist.
	ErrInsufficientStock = errors.New("insufficient inventory")
	// ErrTrackingDisabled is returned for records that do not track inventory.
	ErrTrackingDisabled = errors.New("inventory tracking disabled")
	// ErrUnknownReason is returned for deltas with an unrecognised reason code.
	ErrUnknownReason = errors.New("unknown inventory update reason")
)

// Reason codes a quantity change so the ledger stays auditable.
type Reason string

const (
	ReasonSale       Reason = "SALE"
	ReasonRestock    Reason = "RESTOCK"
	ReasonReturn     Reason = "RETURN"
	ReasonDamage     Reason = "DAMAGE"
	ReasonTransfer   Reason = "TRANSFER"
	ReasonAdjustment Reason = "ADJUSTMENT"
)

// Record is the per-variant stock-keeping state.
type Record struct {
	VariantID         uuid.UUID
	Quantity          int64
	LowStockThreshold int64
	TrackInventory    bool
	AllowBackorder    bool
	Version           int64
}

// Update is a reason-coded ledger delta. Quantity is always supplied as a
// positive magnitude; the reason determines the sign. ADJUSTMENT replaces
// the quantity absolutely and discards prior ledger history.
type Update struct {
	Reason   Reason
	Quantity int64
}

// Apply computes the record that results from the update. It is pure: the
// input record is never mutated, and an error leaves it logically unchanged.
func Apply(rec Record, upd Update) (Record, error) {
	if !rec.TrackInventory {
		return Record{}, fmt.Errorf("variant %s: %w", rec.VariantID, ErrTrackingDisabled)
	}
	next := rec.Quantity
	switch upd.Reason {
	case ReasonSale, ReasonDamage, ReasonTransfer:
		next -= upd.Quantity
	case ReasonRestock, ReasonReturn:
		next += upd.Quantity
	case ReasonAdjustment:
		next = upd.Quantity
	default:
		return Record{}, fmt.Errorf("%q: %w", upd.Reason, ErrUnknownReason)
	}
	if next < 0 && !rec.AllowBackorder {
		return Record{}, fmt.Errorf("variant %s: need %d, have %d: %w",
			rec.VariantID, upd.Quantity, rec.Quantity, ErrInsufficientStock)
	}
	out := rec
	out.Quantity = next
	return out, nil
}

// LowStock reports whether the record sits at or below its threshold.
func (r Record) LowStock() bool {
	return r.TrackInventory && r.LowStockThreshold > 0 && r.Quantity <= r.LowStockThreshold
}
