package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amara-dev/backend-soko/internal/common"
)

type stubStore struct {
	rec       Record
	conflicts int
	writes    int
}

func (s *stubStore) Get(ctx context.Context, variantID uuid.UUID) (Record, error) {
	if variantID != s.rec.VariantID {
		return Record{}, common.ErrNotFound
	}
	return s.rec, nil
}

func (s *stubStore) SetQuantity(ctx context.Context, variantID uuid.UUID, quantity, version int64) error {
	if s.conflicts > 0 {
		s.conflicts--
		s.rec.Version++
		return common.ErrVersionConflict
	}
	if version != s.rec.Version {
		return common.ErrVersionConflict
	}
	s.rec.Quantity = quantity
	s.rec.Version++
	s.writes++
	return nil
}

func newService(store *stubStore) *Service {
	return &Service{Store: store, Log: zerolog.Nop()}
}

func TestAdjustAppliesDelta(t *testing.T) {
	store := &stubStore{rec: Record{VariantID: uuid.New(), Quantity: 10, TrackInventory: true}}
	svc := newService(store)

	got, err := svc.Adjust(context.Background(), store.rec.VariantID, Update{Reason: ReasonSale, Quantity: 4})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if got.Quantity != 6 || store.rec.Quantity != 6 {
		t.Fatalf("expected quantity 6, got %d (stored %d)", got.Quantity, store.rec.Quantity)
	}
}

func TestAdjustRetriesOnConflict(t *testing.T) {
	store := &stubStore{
		rec:       Record{VariantID: uuid.New(), Quantity: 10, TrackInventory: true},
		conflicts: 2,
	}
	svc := newService(store)

	if _, err := svc.Adjust(context.Background(), store.rec.VariantID, Update{Reason: ReasonSale, Quantity: 1}); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if store.writes != 1 {
		t.Fatalf("expected one committed write, got %d", store.writes)
	}
}

func TestAdjustBoundedRetries(t *testing.T) {
	store := &stubStore{
		rec:       Record{VariantID: uuid.New(), Quantity: 10, TrackInventory: true},
		conflicts: 100,
	}
	svc := newService(store)
	svc.Attempts = 3

	_, err := svc.Adjust(context.Background(), store.rec.VariantID, Update{Reason: ReasonSale, Quantity: 1})
	if !errors.Is(err, common.ErrVersionConflict) {
		t.Fatalf("expected conflict after attempt budget, got %v", err)
	}
}

func TestAdjustRejectsOversellBeforeWriting(t *testing.T) {
	store := &stubStore{rec: Record{VariantID: uuid.New(), Quantity: 5, TrackInventory: true}}
	svc := newService(store)

	_, err := svc.Adjust(context.Background(), store.rec.VariantID, Update{Reason: ReasonSale, Quantity: 7})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if store.writes != 0 || store.rec.Quantity != 5 {
		t.Fatal("failed adjustment must not write")
	}
}
