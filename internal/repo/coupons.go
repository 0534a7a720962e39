package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/amara-dev/backend-soko/internal/common"
	"github.com/amara-dev/backend-soko/internal/coupon"
	"github.com/amara-dev/backend-soko/internal/pricing"
)

// CouponStore persists coupons and their per-order redemptions. The
// redemptions table carries a unique (coupon_id, order_id) index so a
// replayed settlement cannot double-redeem.
type CouponStore struct {
	DB DB
}

var (
	_ coupon.Store      = (*CouponStore)(nil)
	_ coupon.AdminStore = (*CouponStore)(nil)
)

// Insert creates a new coupon rule. Codes are unique case-insensitively.
func (s *CouponStore) Insert(ctx context.Context, c coupon.Coupon) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO coupons (id, code, kind, value, percent_bps, min_spend, max_discount,
		                     usage_limit, used_count, valid_from, valid_to, active, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $10, $11, 1, now(), now())`,
		c.ID, c.Code, c.Kind, c.Value, c.PercentBps, c.MinSpend, c.MaxDiscount,
		c.UsageLimit, c.ValidFrom, c.ValidTo, c.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return coupon.ErrCodeTaken
		}
		return fmt.Errorf("insert coupon: %w", err)
	}
	return nil
}

// UpdateRule replaces the mutable rule fields of the coupon with the given
// code. Usage count and version stay untouched so the redemption path keeps
// its optimistic check.
func (s *CouponStore) UpdateRule(ctx context.Context, c coupon.Coupon) error {
	tag, err := s.DB.Exec(ctx, `
		UPDATE coupons
		SET kind = $2, value = $3, percent_bps = $4, min_spend = $5, max_discount = $6,
		    usage_limit = $7, valid_from = $8, valid_to = $9, active = $10, updated_at = now()
		WHERE lower(code) = lower($1)`,
		c.Code, c.Kind, c.Value, c.PercentBps, c.MinSpend, c.MaxDiscount,
		c.UsageLimit, c.ValidFrom, c.ValidTo, c.Active)
	if err != nil {
		return fmt.Errorf("update coupon: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (s *CouponStore) GetByCode(ctx context.Context, code string) (coupon.Coupon, error) {
	var c coupon.Coupon
	err := s.DB.QueryRow(ctx, `
		SELECT id, code, kind, value, percent_bps, min_spend, max_discount,
		       usage_limit, used_count, valid_from, valid_to, active, version
		FROM coupons
		WHERE lower(code) = lower($1)`, strings.TrimSpace(code)).
		Scan(&c.ID, &c.Code, &c.Kind, &c.Value, &c.PercentBps, &c.MinSpend, &c.MaxDiscount,
			&c.UsageLimit, &c.UsedCount, &c.ValidFrom, &c.ValidTo, &c.Active, &c.Version)
	if err != nil {
		return coupon.Coupon{}, mapNoRows(err)
	}
	return c, nil
}

func (s *CouponStore) IncrementUsage(ctx context.Context, id uuid.UUID, version int64) error {
	tag, err := s.DB.Exec(ctx, `
		UPDATE coupons
		SET used_count = used_count + 1, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2`, id, version)
	if err != nil {
		return fmt.Errorf("increment coupon usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.DB.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM coupons WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check coupon existence: %w", err)
		}
		if !exists {
			return common.ErrNotFound
		}
		return common.ErrVersionConflict
	}
	return nil
}

func (s *CouponStore) HasRedemption(ctx context.Context, couponID, orderID uuid.UUID) (bool, error) {
	var exists bool
	err := s.DB.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM coupon_redemptions WHERE coupon_id = $1 AND order_id = $2)`,
		couponID, orderID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check coupon redemption: %w", err)
	}
	return exists, nil
}

func (s *CouponStore) InsertRedemption(ctx context.Context, couponID, orderID uuid.UUID, amount pricing.Money) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO coupon_redemptions (id, coupon_id, order_id, amount, redeemed_at)
		VALUES ($1, $2, $3, $4, now())`,
		uuid.New(), couponID, orderID, amount)
	if err != nil {
		if isUniqueViolation(err) {
			// Already recorded for this order; the redeem path treats that
			// as done.
			return nil
		}
		return fmt.Errorf("insert coupon redemption: %w", err)
	}
	return nil
}
