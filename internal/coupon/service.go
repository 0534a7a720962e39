package coupon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/amara-dev/backend-soko/internal/common"
	"github.com/amara-dev/backend-soko/internal/pricing"
)

// redeemAttempts bounds retries when the version check loses a race.
const redeemAttempts = 3

// Store defines the persistence operations required by the coupon service.
type Store interface {
	GetByCode(ctx context.Context, code string) (Coupon, error)
	// IncrementUsage bumps the usage counter only when the stored version
	// still matches; a concurrent increment yields common.ErrVersionConflict.
	IncrementUsage(ctx context.Context, id uuid.UUID, version int64) error
	// HasRedemption reports whether the coupon was already redeemed for the order.
	HasRedemption(ctx context.Context, couponID, orderID uuid.UUID) (bool, error)
	InsertRedemption(ctx context.Context, couponID, orderID uuid.UUID, amount pricing.Money) error
}

// Service evaluates coupons and records redemptions at order settlement.
type Service struct {
	Store Store
	Now   func() time.Time
}

// Preview evaluates a coupon without mutating any state.
func (s *Service) Preview(ctx context.Context, code string, subtotal pricing.Money) (Result, error) {
	if s == nil || s.Store == nil {
		return Result{}, errors.New("coupon service not configured")
	}
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return Result{}, fmt.Errorf("code is required: %w", ErrNotFound)
	}
	c, err := s.Store.GetByCode(ctx, trimmed)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return Result{}, ErrNotFound
		}
		return Result{}, err
	}
	return Apply(c, subtotal, s.now())
}

// Redeem records coupon usage for a settled order. The operation is
// idempotent per order and increments the usage counter through a
// version-checked update so concurrent checkouts cannot blow past the
// usage limit. Retries are bounded; the conflict surfaces to the caller
// once the attempt budget is spent.
func (s *Service) Redeem(ctx context.Context, code string, orderID uuid.UUID, amount pricing.Money) error {
	if s == nil || s.Store == nil {
		return errors.New("coupon service not configured")
	}
	trimmed := strings.TrimSpace(code)
	if trimmed == "" || orderID == uuid.Nil {
		return nil
	}
	if amount < 0 {
		amount = 0
	}
	var lastErr error
	for attempt := 0; attempt < redeemAttempts; attempt++ {
		c, err := s.Store.GetByCode(ctx, trimmed)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return nil
			}
			return err
		}
		done, err := s.Store.HasRedemption(ctx, c.ID, orderID)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if c.UsageLimit != nil && *c.UsageLimit >= 0 && c.UsedCount >= *c.UsageLimit {
			return ErrUsageLimitReached
		}
		if err := s.Store.IncrementUsage(ctx, c.ID, c.Version); err != nil {
			if errors.Is(err, common.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return err
		}
		return s.Store.InsertRedemption(ctx, c.ID, orderID, amount)
	}
	return fmt.Errorf("redeem %s: %w", trimmed, lastErr)
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
