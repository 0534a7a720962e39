package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/amara-dev/backend-soko/internal/pricing"
)

type stubPriceStore struct {
	price pricing.Money
	err   error
	calls int
}

func (s *stubPriceStore) UnitPrice(context.Context, uuid.UUID, uuid.UUID) (pricing.Money, error) {
	s.calls++
	return s.price, s.err
}

func newPriceSource(t *testing.T, store *stubPriceStore) *PriceSource {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &PriceSource{
		Store: store,
		Cache: NewCache(client, time.Minute),
		Log:   zerolog.Nop(),
	}
}

func TestUnitPriceCachesLookups(t *testing.T) {
	store := &stubPriceStore{price: 2500}
	src := newPriceSource(t, store)
	productID := uuid.New()

	for i := 0; i < 3; i++ {
		price, err := src.UnitPrice(context.Background(), productID, uuid.Nil)
		if err != nil {
			t.Fatalf("UnitPrice: %v", err)
		}
		if price != 2500 {
			t.Fatalf("price = %d, want 2500", price)
		}
	}
	if store.calls != 1 {
		t.Fatalf("store calls = %d, want 1", store.calls)
	}
}

func TestUnitPriceVariantAndProductKeysDiffer(t *testing.T) {
	store := &stubPriceStore{price: 900}
	src := newPriceSource(t, store)
	productID := uuid.New()
	variantID := uuid.New()

	if _, err := src.UnitPrice(context.Background(), productID, uuid.Nil); err != nil {
		t.Fatalf("product price: %v", err)
	}
	if _, err := src.UnitPrice(context.Background(), productID, variantID); err != nil {
		t.Fatalf("variant price: %v", err)
	}
	if store.calls != 2 {
		t.Fatalf("store calls = %d, want 2 (distinct cache keys)", store.calls)
	}
}

func TestUnitPriceStoreErrorPropagates(t *testing.T) {
	store := &stubPriceStore{err: errors.New("catalog down")}
	src := newPriceSource(t, store)
	if _, err := src.UnitPrice(context.Background(), uuid.New(), uuid.Nil); err == nil {
		t.Fatal("expected error from store")
	}
}
