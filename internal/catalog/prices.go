package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amara-dev/backend-soko/internal/pricing"
)

// PriceStore resolves the current unit price from the catalog tables.
type PriceStore interface {
	UnitPrice(ctx context.Context, productID, variantID uuid.UUID) (pricing.Money, error)
}

// PriceSource answers cart price lookups, caching hits in Redis so a busy
// cart does not hammer the catalog on every line change. Cache failures fall
// through to the store; a stale price is worse than a slow one.
type PriceSource struct {
	Store PriceStore
	Cache *Cache
	Log   zerolog.Logger
}

type cachedPrice struct {
	Amount int64 `json:"amount"`
}

// UnitPrice returns the live unit price for a product or variant.
func (s *PriceSource) UnitPrice(ctx context.Context, productID, variantID uuid.UUID) (pricing.Money, error) {
	key := priceKey(productID, variantID)
	var cached cachedPrice
	hit, err := s.Cache.GetJSON(ctx, key, &cached)
	if err != nil {
		s.Log.Warn().Err(err).Str("key", key).Msg("price cache read failed")
	} else if hit {
		return pricing.Money(cached.Amount), nil
	}

	price, err := s.Store.UnitPrice(ctx, productID, variantID)
	if err != nil {
		return 0, err
	}
	if err := s.Cache.SetJSON(ctx, key, cachedPrice{Amount: int64(price)}); err != nil {
		s.Log.Warn().Err(err).Str("key", key).Msg("price cache write failed")
	}
	return price, nil
}

func priceKey(productID, variantID uuid.UUID) string {
	if variantID != uuid.Nil {
		return fmt.Sprintf("price:v:%s", variantID)
	}
	return fmt.Sprintf("price:p:%s", productID)
}
