package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/amara-dev/backend-soko/internal/catalog"
	"github.com/amara-dev/backend-soko/internal/order"
	"github.com/amara-dev/backend-soko/internal/pricing"
)

// PriceStore reads unit prices from the catalog tables. Variant prices win
// over the base product price when a variant is specified.
type PriceStore struct {
	DB DB
}

var (
	_ catalog.PriceStore       = (*PriceStore)(nil)
	_ order.ShippingInfoSource = (*PriceStore)(nil)
)

func (s *PriceStore) UnitPrice(ctx context.Context, productID, variantID uuid.UUID) (pricing.Money, error) {
	var price pricing.Money
	if variantID != uuid.Nil {
		err := s.DB.QueryRow(ctx, `
			SELECT price FROM product_variants WHERE id = $1 AND active`, variantID).Scan(&price)
		if err != nil {
			return 0, mapNoRows(err)
		}
		return price, nil
	}
	err := s.DB.QueryRow(ctx, `
		SELECT price FROM products WHERE id = $1 AND active`, productID).Scan(&price)
	if err != nil {
		return 0, mapNoRows(err)
	}
	return price, nil
}

// ShippingInfo reads the physical attributes snapshotted onto order lines.
// Variant attributes win over the base product's when a variant is specified.
func (s *PriceStore) ShippingInfo(ctx context.Context, productID, variantID uuid.UUID) (order.ShippingInfo, error) {
	var info order.ShippingInfo
	if variantID != uuid.Nil {
		err := s.DB.QueryRow(ctx, `
			SELECT weight_grams, requires_shipping FROM product_variants WHERE id = $1`, variantID).
			Scan(&info.WeightGrams, &info.RequiresShipping)
		if err != nil {
			return order.ShippingInfo{}, mapNoRows(err)
		}
		return info, nil
	}
	err := s.DB.QueryRow(ctx, `
		SELECT weight_grams, requires_shipping FROM products WHERE id = $1`, productID).
		Scan(&info.WeightGrams, &info.RequiresShipping)
	if err != nil {
		return order.ShippingInfo{}, mapNoRows(err)
	}
	return info, nil
}
