package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/amara-dev/backend-soko/internal/events"
	"github.com/amara-dev/backend-soko/internal/notify"
	"github.com/amara-dev/backend-soko/internal/order"
	"github.com/amara-dev/backend-soko/internal/payment"
)

type jobTxStore struct {
	mu  sync.Mutex
	txs map[uuid.UUID]payment.Transaction
}

func (s *jobTxStore) Insert(_ context.Context, tx payment.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs[tx.ID] = tx
	return nil
}

func (s *jobTxStore) Get(_ context.Context, id uuid.UUID) (payment.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		return payment.Transaction{}, payment.ErrTransactionNotFound
	}
	return tx, nil
}

func (s *jobTxStore) GetByReference(_ context.Context, ref string) (payment.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.txs {
		if tx.Reference == ref {
			return tx, nil
		}
	}
	return payment.Transaction{}, payment.ErrTransactionNotFound
}

func (s *jobTxStore) LatestByOrder(_ context.Context, orderID uuid.UUID) (payment.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.txs {
		if tx.OrderID == orderID {
			return tx, nil
		}
	}
	return payment.Transaction{}, payment.ErrTransactionNotFound
}

func (s *jobTxStore) Update(_ context.Context, tx payment.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx.Version++
	s.txs[tx.ID] = tx
	return nil
}

func (s *jobTxStore) ListExpired(_ context.Context, cutoff time.Time, limit int32) ([]payment.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []payment.Transaction
	for _, tx := range s.txs {
		if tx.Status == payment.TxPending && !tx.ExpiresAt.IsZero() && tx.ExpiresAt.Before(cutoff) {
			out = append(out, tx)
		}
		if int32(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

type jobLifecycle struct {
	failed []uuid.UUID
}

func (l *jobLifecycle) Get(_ context.Context, orderID uuid.UUID) (order.Order, error) {
	return order.Order{ID: orderID}, nil
}

func (l *jobLifecycle) MarkPaid(_ context.Context, orderID uuid.UUID) (order.Order, error) {
	return order.Order{ID: orderID}, nil
}

func (l *jobLifecycle) MarkPaymentFailed(_ context.Context, orderID uuid.UUID) (order.Order, error) {
	l.failed = append(l.failed, orderID)
	return order.Order{ID: orderID}, nil
}

func (l *jobLifecycle) MarkRefunded(_ context.Context, orderID uuid.UUID, _ bool) (order.Order, error) {
	return order.Order{ID: orderID}, nil
}

type jobEventStore struct {
	topics []string
}

func (s *jobEventStore) InsertEvent(_ context.Context, topic string, aggregateID uuid.UUID, payload []byte) (events.Event, error) {
	s.topics = append(s.topics, topic)
	return events.Event{ID: uuid.New(), Topic: topic, AggregateID: aggregateID, Payload: payload, OccurredAt: time.Now()}, nil
}

func TestHandlePaymentExpirySweepsStaleIntents(t *testing.T) {
	now := time.Date(2025, 7, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	orderID := uuid.New()
	tx := payment.Transaction{
		ID:        uuid.New(),
		OrderID:   orderID,
		Gateway:   "mpesa",
		Status:    payment.TxPending,
		Amount:    2688,
		Currency:  "KES",
		Reference: "PAY-ABC-000001-TEST01",
		ExpiresAt: past,
	}
	store := &jobTxStore{txs: map[uuid.UUID]payment.Transaction{tx.ID: tx}}
	lifecycle := &jobLifecycle{}
	evStore := &jobEventStore{}
	h := &Handler{
		Orchestrator: &payment.Orchestrator{
			Store:  store,
			Orders: lifecycle,
			Events: &events.Bus{Store: evStore},
			Log:    zerolog.Nop(),
			Now:    func() time.Time { return now },
		},
		Log: zerolog.Nop(),
	}

	if err := h.HandlePaymentExpiry(context.Background(), asynq.NewTask(TaskPaymentExpiry, nil)); err != nil {
		t.Fatalf("HandlePaymentExpiry: %v", err)
	}

	got, err := store.Get(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != payment.TxExpired {
		t.Fatalf("status = %s, want %s", got.Status, payment.TxExpired)
	}
	if len(lifecycle.failed) != 1 || lifecycle.failed[0] != orderID {
		t.Fatalf("failed orders = %v, want [%s]", lifecycle.failed, orderID)
	}
	found := false
	for _, topic := range evStore.topics {
		if topic == events.TopicPaymentExpired {
			found = true
		}
	}
	if !found {
		t.Fatalf("topics = %v, want %s", evStore.topics, events.TopicPaymentExpired)
	}
}

func TestHandlePaymentExpiryRerunIsNoOp(t *testing.T) {
	now := time.Date(2025, 7, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	tx := payment.Transaction{
		ID:        uuid.New(),
		OrderID:   uuid.New(),
		Gateway:   "mpesa",
		Status:    payment.TxPending,
		Amount:    1000,
		Currency:  "KES",
		Reference: "PAY-ABC-000002-TEST02",
		ExpiresAt: past,
	}
	store := &jobTxStore{txs: map[uuid.UUID]payment.Transaction{tx.ID: tx}}
	lifecycle := &jobLifecycle{}
	h := &Handler{
		Orchestrator: &payment.Orchestrator{
			Store:  store,
			Orders: lifecycle,
			Events: &events.Bus{Store: &jobEventStore{}},
			Log:    zerolog.Nop(),
			Now:    func() time.Time { return now },
		},
		Log: zerolog.Nop(),
	}

	for i := 0; i < 2; i++ {
		if err := h.HandlePaymentExpiry(context.Background(), asynq.NewTask(TaskPaymentExpiry, nil)); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if len(lifecycle.failed) != 1 {
		t.Fatalf("order failed %d times, want once", len(lifecycle.failed))
	}
}

func TestHandleDeliverEventDropsGarbage(t *testing.T) {
	h := &Handler{Log: zerolog.Nop()}
	err := h.HandleDeliverEvent(context.Background(), asynq.NewTask(notify.TaskDeliverEvent, []byte("{not json")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("err = %v, want SkipRetry", err)
	}
}

type emptyEndpointStore struct{}

func (emptyEndpointStore) ListActiveEndpointsForTopic(context.Context, string) ([]notify.Endpoint, error) {
	return nil, nil
}

func TestHandleDeliverEventDecodesAndDelivers(t *testing.T) {
	ev := events.Event{
		ID:          uuid.New(),
		Topic:       events.TopicOrderCreated,
		AggregateID: uuid.New(),
		Payload:     []byte(`{"order_number":"ABC-000001-TEST"}`),
		OccurredAt:  time.Now().UTC(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	h := &Handler{
		Deliverer: &notify.Deliverer{Store: emptyEndpointStore{}, Log: zerolog.Nop()},
		Log:       zerolog.Nop(),
	}
	if err := h.HandleDeliverEvent(context.Background(), asynq.NewTask(notify.TaskDeliverEvent, payload)); err != nil {
		t.Fatalf("HandleDeliverEvent: %v", err)
	}
}
