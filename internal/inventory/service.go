package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amara-dev/backend-soko/internal/common"
	"github.com/amara-dev/backend-soko/internal/events"
	"github.com/amara-dev/backend-soko/internal/obs"
)

// defaultAttempts bounds the optimistic-concurrency retry loop.
const defaultAttempts = 5

// Store defines the persistence operations required by the inventory service.
type Store interface {
	Get(ctx context.Context, variantID uuid.UUID) (Record, error)
	// SetQuantity writes the new quantity only when the stored version still
	// matches; a concurrent writer yields common.ErrVersionConflict.
	SetQuantity(ctx context.Context, variantID uuid.UUID, quantity, version int64) error
}

// Service applies ledger updates through a version-checked read-modify-write
// loop so concurrent sales against the same variant cannot oversell.
type Service struct {
	Store    Store
	Events   *events.Bus
	Log      zerolog.Logger
	Attempts int
}

// Adjust applies the update and returns the resulting record. Version
// conflicts are retried with fresh state up to the attempt budget.
func (s *Service) Adjust(ctx context.Context, variantID uuid.UUID, upd Update) (Record, error) {
	if s == nil || s.Store == nil {
		return Record{}, errors.New("inventory service not configured")
	}
	attempts := s.Attempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		rec, err := s.Store.Get(ctx, variantID)
		if err != nil {
			return Record{}, err
		}
		next, err := Apply(rec, upd)
		if err != nil {
			return Record{}, err
		}
		if err := s.Store.SetQuantity(ctx, variantID, next.Quantity, rec.Version); err != nil {
			if errors.Is(err, common.ErrVersionConflict) {
				lastErr = err
				if obs.InventoryConflictTotal != nil {
					obs.InventoryConflictTotal.Inc()
				}
				continue
			}
			return Record{}, err
		}
		next.Version = rec.Version + 1
		s.afterApply(ctx, rec, next, upd)
		return next, nil
	}
	return Record{}, fmt.Errorf("adjust variant %s: %w", variantID, lastErr)
}

func (s *Service) afterApply(ctx context.Context, before, after Record, upd Update) {
	if upd.Reason == ReasonAdjustment {
		// Absolute overrides discard ledger history and need their own trail.
		s.Log.Warn().
			Str("variant_id", after.VariantID.String()).
			Int64("before", before.Quantity).
			Int64("after", after.Quantity).
			Msg("inventory adjustment override applied")
	}
	if s.Events != nil && after.LowStock() && !before.LowStock() {
		_, _ = s.Events.Emit(ctx, events.TopicInventoryLowStock, after.VariantID, map[string]any{
			"variantId": after.VariantID.String(),
			"quantity":  after.Quantity,
			"threshold": after.LowStockThreshold,
		})
	}
}
