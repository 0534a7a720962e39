package payment

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amara-dev/backend-soko/internal/common"
	"github.com/amara-dev/backend-soko/internal/order"
	"github.com/amara-dev/backend-soko/internal/pricing"
)

type memTxStore struct {
	txs map[uuid.UUID]Transaction
}

func newMemTxStore() *memTxStore { return &memTxStore{txs: map[uuid.UUID]Transaction{}} }

func (s *memTxStore) Insert(ctx context.Context, tx Transaction) error {
	s.txs[tx.ID] = tx
	return nil
}

func (s *memTxStore) Get(ctx context.Context, id uuid.UUID) (Transaction, error) {
	tx, ok := s.txs[id]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return tx, nil
}

func (s *memTxStore) GetByReference(ctx context.Context, reference string) (Transaction, error) {
	for _, tx := range s.txs {
		if tx.Reference == reference {
			return tx, nil
		}
	}
	return Transaction{}, ErrTransactionNotFound
}

func (s *memTxStore) LatestByOrder(ctx context.Context, orderID uuid.UUID) (Transaction, error) {
	var latest Transaction
	found := false
	for _, tx := range s.txs {
		if tx.OrderID != orderID {
			continue
		}
		if !found || tx.CreatedAt.After(latest.CreatedAt) {
			latest = tx
			found = true
		}
	}
	if !found {
		return Transaction{}, ErrTransactionNotFound
	}
	return latest, nil
}

func (s *memTxStore) Update(ctx context.Context, tx Transaction) error {
	cur, ok := s.txs[tx.ID]
	if !ok {
		return ErrTransactionNotFound
	}
	if cur.Version != tx.Version {
		return common.ErrVersionConflict
	}
	tx.Version++
	s.txs[tx.ID] = tx
	return nil
}

func (s *memTxStore) ListExpired(ctx context.Context, cutoff time.Time, limit int32) ([]Transaction, error) {
	var out []Transaction
	for _, tx := range s.txs {
		if tx.Status == TxPending && tx.ExpiresAt.Before(cutoff) {
			out = append(out, tx)
		}
		if limit > 0 && int32(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

type stubLifecycle struct {
	orders      map[uuid.UUID]order.Order
	paidCalls   int
	failedCalls int
	refunds     []bool
}

func newStubLifecycle() *stubLifecycle {
	return &stubLifecycle{orders: map[uuid.UUID]order.Order{}}
}

func (s *stubLifecycle) Get(ctx context.Context, orderID uuid.UUID) (order.Order, error) {
	o, ok := s.orders[orderID]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	return o, nil
}

func (s *stubLifecycle) MarkPaid(ctx context.Context, orderID uuid.UUID) (order.Order, error) {
	s.paidCalls++
	return s.orders[orderID], nil
}

func (s *stubLifecycle) MarkPaymentFailed(ctx context.Context, orderID uuid.UUID) (order.Order, error) {
	s.failedCalls++
	return s.orders[orderID], nil
}

func (s *stubLifecycle) MarkRefunded(ctx context.Context, orderID uuid.UUID, full bool) (order.Order, error) {
	s.refunds = append(s.refunds, full)
	return s.orders[orderID], nil
}

type scriptedClient struct {
	transientFailures int
	permanentErr      error
	initiateCalls     int
	verifyOutcome     Outcome
	refundCalls       int
}

func (c *scriptedClient) Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	c.initiateCalls++
	if c.permanentErr != nil {
		return InitiateResult{}, &GatewayError{Gateway: "mpesa", Op: "initiate", Err: c.permanentErr}
	}
	if c.transientFailures > 0 {
		c.transientFailures--
		return InitiateResult{}, &GatewayError{Gateway: "mpesa", Op: "initiate", Transient: true, Err: errors.New("timeout")}
	}
	return InitiateResult{GatewayRef: "ws_CO_" + req.Reference, Instructions: &Instructions{Method: req.Method}}, nil
}

func (c *scriptedClient) Verify(ctx context.Context, reference string) (Outcome, error) {
	if c.verifyOutcome == "" {
		return OutcomePending, nil
	}
	return c.verifyOutcome, nil
}

func (c *scriptedClient) Refund(ctx context.Context, reference string, amount pricing.Money) (RefundResult, error) {
	c.refundCalls++
	return RefundResult{GatewayRef: "rev_" + reference, Amount: amount}, nil
}

func (c *scriptedClient) ParseWebhook(r *http.Request, body []byte) (WebhookEvent, error) {
	return WebhookEvent{}, nil
}

type orchFixture struct {
	orch   *Orchestrator
	store  *memTxStore
	orders *stubLifecycle
	client *scriptedClient
}

func newOrchestrator(t *testing.T) *orchFixture {
	t.Helper()
	store := newMemTxStore()
	orders := newStubLifecycle()
	client := &scriptedClient{}
	orch := &Orchestrator{
		Store:    store,
		Orders:   orders,
		Gateways: testGateways(),
		Clients: map[string]Client{
			"mpesa":    client,
			"paystack": client,
		},
		Log:       zerolog.Nop(),
		RetryBase: time.Millisecond,
	}
	return &orchFixture{orch: orch, store: store, orders: orders, client: client}
}

func (f *orchFixture) seedOrder(t *testing.T, total pricing.Money) order.Order {
	t.Helper()
	o := order.Order{
		ID:       uuid.New(),
		Number:   "ABC-000001-TEST",
		Currency: "KES",
		Total:    total,
		Status:   order.StatusPending,
	}
	f.orders.orders[o.ID] = o
	return o
}

func (f *orchFixture) settledTx(t *testing.T, amount pricing.Money) Transaction {
	t.Helper()
	o := f.seedOrder(t, amount)
	tx := Transaction{
		ID: uuid.New(), OrderID: o.ID, Gateway: "mpesa", Method: MethodMobileMoney,
		Status: TxSuccess, Amount: amount, Currency: "KES",
		Reference: "PAY-TEST-0000000001", Version: 1,
		CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour),
	}
	f.store.txs[tx.ID] = tx
	return tx
}

func TestInitiateSelectsGatewayAndPersists(t *testing.T) {
	f := newOrchestrator(t)
	o := f.seedOrder(t, 10_000)

	out, err := f.orch.Initiate(context.Background(), InitiateCommand{
		OrderID: o.ID, Method: MethodMobileMoney, Country: "KE", CustomerPhone: "+254712345678",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	tx := out.Transaction
	if tx.Gateway != "mpesa" {
		t.Fatalf("expected mpesa (cheapest for KES mobile money), got %s", tx.Gateway)
	}
	if tx.Status != TxPending {
		t.Fatalf("expected pending transaction, got %s", tx.Status)
	}
	if tx.FeeAmount != 150 || tx.NetAmount != 9_850 {
		t.Fatalf("fee/net mismatch: fee=%d net=%d", tx.FeeAmount, tx.NetAmount)
	}
	if tx.NetAmount != tx.Amount-tx.FeeAmount {
		t.Fatalf("net amount invariant violated: %+v", tx)
	}
	if out.Instructions == nil {
		t.Fatal("mobile money initiation must return instructions")
	}
	if _, err := f.store.GetByReference(context.Background(), tx.Reference); err != nil {
		t.Fatalf("transaction not persisted: %v", err)
	}
}

func TestInitiateReusesPendingTransaction(t *testing.T) {
	f := newOrchestrator(t)
	o := f.seedOrder(t, 10_000)

	first, err := f.orch.Initiate(context.Background(), InitiateCommand{
		OrderID: o.ID, Method: MethodMobileMoney, Country: "KE", CustomerPhone: "+254712345678",
	})
	if err != nil {
		t.Fatalf("first initiate: %v", err)
	}
	second, err := f.orch.Initiate(context.Background(), InitiateCommand{
		OrderID: o.ID, Method: MethodMobileMoney, Country: "KE", CustomerPhone: "+254712345678",
	})
	if err != nil {
		t.Fatalf("second initiate: %v", err)
	}
	if !second.Reused || second.Transaction.ID != first.Transaction.ID {
		t.Fatal("expected the pending transaction to be reused")
	}
	if f.client.initiateCalls != 1 {
		t.Fatalf("expected a single gateway call, got %d", f.client.initiateCalls)
	}
}

// racingInsertStore simulates a concurrent Initiate committing its pending
// transaction between this call's entry lookup and its insert: the lookup
// sees nothing, the insert trips the one-pending-per-order constraint.
type racingInsertStore struct {
	*memTxStore
	winner Transaction
	raced  bool
}

func (s *racingInsertStore) LatestByOrder(ctx context.Context, orderID uuid.UUID) (Transaction, error) {
	if !s.raced {
		return Transaction{}, ErrTransactionNotFound
	}
	return s.winner, nil
}

func (s *racingInsertStore) Insert(ctx context.Context, tx Transaction) error {
	s.raced = true
	return ErrPendingExists
}

func TestInitiateReturnsWinnerWhenInsertLosesRace(t *testing.T) {
	f := newOrchestrator(t)
	o := f.seedOrder(t, 10_000)
	winner := Transaction{
		ID: uuid.New(), OrderID: o.ID, Gateway: "mpesa", Method: MethodMobileMoney,
		Status: TxPending, Amount: 10_000, Currency: "KES",
		Reference: "PAY-WINNER-0000000001", Version: 1,
		CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour),
	}
	f.orch.Store = &racingInsertStore{memTxStore: f.store, winner: winner}

	out, err := f.orch.Initiate(context.Background(), InitiateCommand{
		OrderID: o.ID, Method: MethodMobileMoney, Country: "KE", CustomerPhone: "+254712345678",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if !out.Reused || out.Transaction.ID != winner.ID {
		t.Fatalf("expected the winning pending transaction, got %+v", out)
	}
}

func TestInitiateRejectsPaidOrder(t *testing.T) {
	f := newOrchestrator(t)
	tx := f.settledTx(t, 10_000)

	_, err := f.orch.Initiate(context.Background(), InitiateCommand{
		OrderID: tx.OrderID, Method: MethodMobileMoney, Country: "KE",
	})
	if !errors.Is(err, ErrOrderAlreadyPaid) {
		t.Fatalf("expected ErrOrderAlreadyPaid, got %v", err)
	}
}

func TestInitiateRetriesTransientGatewayFailures(t *testing.T) {
	f := newOrchestrator(t)
	o := f.seedOrder(t, 10_000)
	f.client.transientFailures = 2

	_, err := f.orch.Initiate(context.Background(), InitiateCommand{
		OrderID: o.ID, Method: MethodMobileMoney, Country: "KE", CustomerPhone: "+254712345678",
	})
	if err != nil {
		t.Fatalf("expected success after retries: %v", err)
	}
	if f.client.initiateCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.client.initiateCalls)
	}
}

func TestInitiateDoesNotRetryPermanentFailures(t *testing.T) {
	f := newOrchestrator(t)
	o := f.seedOrder(t, 10_000)
	f.client.permanentErr = errors.New("declined")

	_, err := f.orch.Initiate(context.Background(), InitiateCommand{
		OrderID: o.ID, Method: MethodMobileMoney, Country: "KE", CustomerPhone: "+254712345678",
	})
	if err == nil {
		t.Fatal("expected permanent failure to surface")
	}
	if f.client.initiateCalls != 1 {
		t.Fatalf("permanent failures must not be retried, got %d calls", f.client.initiateCalls)
	}
}

func TestReconcileWebhookSettlesOnce(t *testing.T) {
	f := newOrchestrator(t)
	o := f.seedOrder(t, 2_688)
	out, err := f.orch.Initiate(context.Background(), InitiateCommand{
		OrderID: o.ID, Method: MethodMobileMoney, Country: "KE", CustomerPhone: "+254712345678",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	event := WebhookEvent{Valid: true, Reference: out.Transaction.Reference, Outcome: OutcomeSuccess, Amount: 2_688}

	first, err := f.orch.ReconcileWebhook(context.Background(), "mpesa", event)
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if first.Status != TxSuccess {
		t.Fatalf("expected success, got %s", first.Status)
	}

	// Redelivery of the same outcome is an idempotent no-op.
	second, err := f.orch.ReconcileWebhook(context.Background(), "mpesa", event)
	if err != nil {
		t.Fatalf("redelivery must not error: %v", err)
	}
	if second.Status != TxSuccess {
		t.Fatalf("expected status unchanged, got %s", second.Status)
	}
	if f.orders.paidCalls != 1 {
		t.Fatalf("order settlement must run exactly once, ran %d times", f.orders.paidCalls)
	}
}

func TestReconcileWebhookRejectsInvalidSignatureWithoutMutation(t *testing.T) {
	f := newOrchestrator(t)
	o := f.seedOrder(t, 2_688)
	out, err := f.orch.Initiate(context.Background(), InitiateCommand{
		OrderID: o.ID, Method: MethodMobileMoney, Country: "KE", CustomerPhone: "+254712345678",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	_, err = f.orch.ReconcileWebhook(context.Background(), "mpesa", WebhookEvent{
		Valid: false, Reference: out.Transaction.Reference, Outcome: OutcomeSuccess,
	})
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	tx, _ := f.store.GetByReference(context.Background(), out.Transaction.Reference)
	if tx.Status != TxPending {
		t.Fatalf("transaction must be untouched, got %s", tx.Status)
	}
	if f.orders.paidCalls != 0 {
		t.Fatal("order must be untouched on invalid signature")
	}
}

func TestReconcileWebhookAmountMismatch(t *testing.T) {
	f := newOrchestrator(t)
	o := f.seedOrder(t, 2_688)
	out, err := f.orch.Initiate(context.Background(), InitiateCommand{
		OrderID: o.ID, Method: MethodMobileMoney, Country: "KE", CustomerPhone: "+254712345678",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	if _, err := f.orch.ReconcileWebhook(context.Background(), "mpesa", WebhookEvent{
		Valid: true, Reference: out.Transaction.Reference, Outcome: OutcomeSuccess, Amount: 99,
	}); err == nil {
		t.Fatal("expected amount mismatch error")
	}
}

func TestReconcileWebhookFailureFailsOrder(t *testing.T) {
	f := newOrchestrator(t)
	o := f.seedOrder(t, 2_688)
	out, err := f.orch.Initiate(context.Background(), InitiateCommand{
		OrderID: o.ID, Method: MethodMobileMoney, Country: "KE", CustomerPhone: "+254712345678",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	tx, err := f.orch.ReconcileWebhook(context.Background(), "mpesa", WebhookEvent{
		Valid: true, Reference: out.Transaction.Reference, Outcome: OutcomeFailed,
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if tx.Status != TxFailed {
		t.Fatalf("expected failed, got %s", tx.Status)
	}
	if f.orders.failedCalls != 1 {
		t.Fatalf("expected one failure propagation, got %d", f.orders.failedCalls)
	}
}

func TestVerifyReconcilesPendingTransaction(t *testing.T) {
	f := newOrchestrator(t)
	o := f.seedOrder(t, 2_688)
	out, err := f.orch.Initiate(context.Background(), InitiateCommand{
		OrderID: o.ID, Method: MethodMobileMoney, Country: "KE", CustomerPhone: "+254712345678",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	f.client.verifyOutcome = OutcomeSuccess

	tx, err := f.orch.Verify(context.Background(), out.Transaction.Reference)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if tx.Status != TxSuccess {
		t.Fatalf("expected success, got %s", tx.Status)
	}
	if f.orders.paidCalls != 1 {
		t.Fatalf("expected one settlement, got %d", f.orders.paidCalls)
	}
}

func TestVerifyIsNoOpOnTerminalTransaction(t *testing.T) {
	f := newOrchestrator(t)
	tx := f.settledTx(t, 1_000)
	f.client.verifyOutcome = OutcomeFailed

	got, err := f.orch.Verify(context.Background(), tx.Reference)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.Status != TxSuccess {
		t.Fatalf("terminal transaction must not move, got %s", got.Status)
	}
}

func TestRefundPartialThenFull(t *testing.T) {
	f := newOrchestrator(t)
	tx := f.settledTx(t, 1_000)

	partial, err := f.orch.Refund(context.Background(), tx.Reference, 300)
	if err != nil {
		t.Fatalf("partial refund: %v", err)
	}
	if partial.Status != TxPartiallyRefunded || partial.Refunded != 300 {
		t.Fatalf("unexpected partial refund state: %+v", partial)
	}

	full, err := f.orch.Refund(context.Background(), tx.Reference, 0)
	if err != nil {
		t.Fatalf("full refund: %v", err)
	}
	if full.Status != TxRefunded || full.Refunded != 1_000 {
		t.Fatalf("unexpected full refund state: %+v", full)
	}
	if len(f.orders.refunds) != 2 || f.orders.refunds[0] || !f.orders.refunds[1] {
		t.Fatalf("expected partial then full propagation, got %v", f.orders.refunds)
	}
}

func TestRefundCannotExceedSettledAmount(t *testing.T) {
	f := newOrchestrator(t)
	tx := f.settledTx(t, 1_000)

	if _, err := f.orch.Refund(context.Background(), tx.Reference, 1_500); !errors.Is(err, ErrRefundExceedsPaid) {
		t.Fatalf("expected ErrRefundExceedsPaid, got %v", err)
	}
	if _, err := f.orch.Refund(context.Background(), tx.Reference, 700); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if _, err := f.orch.Refund(context.Background(), tx.Reference, 400); !errors.Is(err, ErrRefundExceedsPaid) {
		t.Fatalf("cumulative refunds must be capped, got %v", err)
	}
}

// staleSnapshotStore answers GetByReference with a fixed pre-refund snapshot
// while Get serves live state, modelling a refund that raced past the
// entry check before a concurrent refund committed.
type staleSnapshotStore struct {
	*memTxStore
	snapshot Transaction
}

func (s *staleSnapshotStore) GetByReference(ctx context.Context, reference string) (Transaction, error) {
	return s.snapshot, nil
}

func TestRefundRevalidatesAgainstFreshState(t *testing.T) {
	f := newOrchestrator(t)
	tx := f.settledTx(t, 100)
	snapshot := tx

	if _, err := f.orch.Refund(context.Background(), tx.Reference, 60); err != nil {
		t.Fatalf("first refund: %v", err)
	}

	f.orch.Store = &staleSnapshotStore{memTxStore: f.store, snapshot: snapshot}
	if _, err := f.orch.Refund(context.Background(), tx.Reference, 60); !errors.Is(err, ErrRefundExceedsPaid) {
		t.Fatalf("expected ErrRefundExceedsPaid from the racing refund, got %v", err)
	}

	got, err := f.store.Get(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("load transaction: %v", err)
	}
	if got.Refunded != 60 || got.Status != TxPartiallyRefunded {
		t.Fatalf("losing refund must not commit, got refunded=%d status=%s", got.Refunded, got.Status)
	}

	// A racing partial that lands exactly on the remaining balance still
	// promotes to refunded: the target status is derived from fresh state.
	f.orch.Store = &staleSnapshotStore{memTxStore: f.store, snapshot: snapshot}
	out, err := f.orch.Refund(context.Background(), tx.Reference, 40)
	if err != nil {
		t.Fatalf("completing refund: %v", err)
	}
	if out.Status != TxRefunded || out.Refunded != 100 {
		t.Fatalf("expected full promotion, got refunded=%d status=%s", out.Refunded, out.Status)
	}
	if n := len(f.orders.refunds); n != 2 || !f.orders.refunds[1] {
		t.Fatalf("expected partial then full propagation, got %v", f.orders.refunds)
	}
}

func TestRefundRequiresSettledTransaction(t *testing.T) {
	f := newOrchestrator(t)
	o := f.seedOrder(t, 1_000)
	out, err := f.orch.Initiate(context.Background(), InitiateCommand{
		OrderID: o.ID, Method: MethodMobileMoney, Country: "KE", CustomerPhone: "+254712345678",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	if _, err := f.orch.Refund(context.Background(), out.Transaction.Reference, 100); !errors.Is(err, ErrNotRefundable) {
		t.Fatalf("expected ErrNotRefundable, got %v", err)
	}
}

func TestExpirePendingSweep(t *testing.T) {
	f := newOrchestrator(t)
	o := f.seedOrder(t, 1_000)
	tx := Transaction{
		ID: uuid.New(), OrderID: o.ID, Gateway: "mpesa", Status: TxPending,
		Amount: 1_000, Reference: "PAY-STALE-0000000001", Version: 1,
		CreatedAt: time.Now().Add(-time.Hour), ExpiresAt: time.Now().Add(-30 * time.Minute),
	}
	f.store.txs[tx.ID] = tx

	n, err := f.orch.ExpirePending(context.Background(), 10)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one expiry, got %d", n)
	}
	got, _ := f.store.Get(context.Background(), tx.ID)
	if got.Status != TxExpired {
		t.Fatalf("expected expired, got %s", got.Status)
	}
	if f.orders.failedCalls != 1 {
		t.Fatalf("expected order payment failure propagation, got %d", f.orders.failedCalls)
	}
}
