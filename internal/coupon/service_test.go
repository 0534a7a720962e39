package coupon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/amara-dev/backend-soko/internal/common"
	"github.com/amara-dev/backend-soko/internal/pricing"
)

type stubStore struct {
	coupon      Coupon
	redeemed    map[uuid.UUID]bool
	conflicts   int
	increments  int
	redemptions int
}

func (s *stubStore) GetByCode(ctx context.Context, code string) (Coupon, error) {
	if s.coupon.Code != code {
		return Coupon{}, common.ErrNotFound
	}
	return s.coupon, nil
}

func (s *stubStore) IncrementUsage(ctx context.Context, id uuid.UUID, version int64) error {
	if s.conflicts > 0 {
		s.conflicts--
		s.coupon.Version++
		return common.ErrVersionConflict
	}
	s.increments++
	s.coupon.UsedCount++
	s.coupon.Version++
	return nil
}

func (s *stubStore) HasRedemption(ctx context.Context, couponID, orderID uuid.UUID) (bool, error) {
	return s.redeemed[orderID], nil
}

func (s *stubStore) InsertRedemption(ctx context.Context, couponID, orderID uuid.UUID, amount pricing.Money) error {
	if s.redeemed == nil {
		s.redeemed = map[uuid.UUID]bool{}
	}
	s.redeemed[orderID] = true
	s.redemptions++
	return nil
}

func testCoupon() Coupon {
	return Coupon{
		ID:        uuid.New(),
		Code:      "PROMO",
		Kind:      KindFixedAmount,
		Value:     1_000,
		Active:    true,
		ValidFrom: time.Now().Add(-time.Hour),
	}
}

func TestRedeemIdempotentPerOrder(t *testing.T) {
	store := &stubStore{coupon: testCoupon()}
	svc := &Service{Store: store}
	orderID := uuid.New()

	if err := svc.Redeem(context.Background(), "PROMO", orderID, 500); err != nil {
		t.Fatalf("first redemption failed: %v", err)
	}
	if err := svc.Redeem(context.Background(), "PROMO", orderID, 500); err != nil {
		t.Fatalf("second redemption failed: %v", err)
	}
	if store.increments != 1 || store.redemptions != 1 {
		t.Fatalf("expected exactly one increment and redemption, got %d/%d", store.increments, store.redemptions)
	}
}

func TestRedeemRetriesVersionConflict(t *testing.T) {
	store := &stubStore{coupon: testCoupon(), conflicts: 2}
	svc := &Service{Store: store}

	if err := svc.Redeem(context.Background(), "PROMO", uuid.New(), 500); err != nil {
		t.Fatalf("redeem should retry through conflicts: %v", err)
	}
	if store.increments != 1 {
		t.Fatalf("expected one successful increment, got %d", store.increments)
	}
}

func TestRedeemSurfacesExhaustedRetries(t *testing.T) {
	store := &stubStore{coupon: testCoupon(), conflicts: redeemAttempts}
	svc := &Service{Store: store}

	err := svc.Redeem(context.Background(), "PROMO", uuid.New(), 500)
	if !errors.Is(err, common.ErrVersionConflict) {
		t.Fatalf("expected version conflict after retry budget, got %v", err)
	}
}

func TestRedeemHonoursUsageLimit(t *testing.T) {
	limit := int32(1)
	c := testCoupon()
	c.UsageLimit = &limit
	c.UsedCount = 1
	store := &stubStore{coupon: c}
	svc := &Service{Store: store}

	err := svc.Redeem(context.Background(), "PROMO", uuid.New(), 500)
	if !errors.Is(err, ErrUsageLimitReached) {
		t.Fatalf("expected usage limit error, got %v", err)
	}
	if store.increments != 0 {
		t.Fatalf("exhausted coupon must not be incremented")
	}
}

func TestPreviewUnknownCode(t *testing.T) {
	svc := &Service{Store: &stubStore{coupon: testCoupon()}}
	_, err := svc.Preview(context.Background(), "NOPE", 5_000)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
