package pricing

// Money represents a monetary value stored in minor units.
type Money = int64

// Item describes a line item used for pricing calculation.
type Item struct {
	Qty       int
	UnitPrice Money
}

// LineTotal returns quantity times the snapshotted unit price.
func (it Item) LineTotal() Money {
	if it.Qty <= 0 {
		return 0
	}
	return Money(it.Qty) * it.UnitPrice
}

// Summary aggregates computed pricing components.
type Summary struct {
	Subtotal Money
	Discount Money
	Tax      Money
	Shipping Money
	Total    Money
}

// ComputeCart calculates cart totals. Carts carry no shipping charge; shipping
// is only known once a fulfilment option is chosen at checkout.
func ComputeCart(items []Item, taxBps int, discount Money) Summary {
	return compute(items, taxBps, discount, 0)
}

// ComputeOrder calculates order totals including the shipping charge.
func ComputeOrder(items []Item, taxBps int, discount Money, shipping Money) Summary {
	if shipping < 0 {
		shipping = 0
	}
	return compute(items, taxBps, discount, shipping)
}

// compute is a pure function: no I/O, deterministic for the given inputs.
// Tax is derived from the discounted subtotal and rounded half away from
// zero exactly once; no other derived value re-rounds an already rounded
// intermediate.
func compute(items []Item, taxBps int, discount, shipping Money) Summary {
	var subtotal Money
	for _, it := range items {
		subtotal += it.LineTotal()
	}
	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	taxable := subtotal - discount
	if taxable < 0 {
		taxable = 0
	}
	var tax Money
	if taxBps > 0 {
		tax = roundedBps(taxable, taxBps)
	}
	total := subtotal + tax + shipping - discount
	return Summary{
		Subtotal: subtotal,
		Discount: discount,
		Tax:      tax,
		Shipping: shipping,
		Total:    total,
	}
}

// roundedBps multiplies amount by a basis-point rate and rounds half away
// from zero to the nearest minor unit.
func roundedBps(amount Money, bps int) Money {
	return RoundHalfAway(amount*Money(bps), 10_000)
}

// RoundHalfAway divides num by denom rounding halves away from zero.
// denom must be positive.
func RoundHalfAway(num, denom Money) Money {
	if denom <= 0 {
		return 0
	}
	if num >= 0 {
		return (2*num + denom) / (2 * denom)
	}
	return -((-2*num + denom) / (2 * denom))
}
