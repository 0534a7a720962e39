package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/amara-dev/backend-soko/internal/common"
	"github.com/amara-dev/backend-soko/internal/events"
	"github.com/amara-dev/backend-soko/internal/obs"
	"github.com/amara-dev/backend-soko/internal/order"
	"github.com/amara-dev/backend-soko/internal/pricing"
	"github.com/amara-dev/backend-soko/internal/resilience"
)

const (
	defaultIntentTTL     = 15 * time.Minute
	defaultRetryAttempts = 3
	updateAttempts       = 3
)

// Store defines the persistence operations the orchestrator depends on.
// Update applies only when the stored version matches and returns
// common.ErrVersionConflict otherwise; the webhook path and the synchronous
// verify path race through it safely.
type Store interface {
	Insert(ctx context.Context, tx Transaction) error
	Get(ctx context.Context, id uuid.UUID) (Transaction, error)
	GetByReference(ctx context.Context, reference string) (Transaction, error)
	LatestByOrder(ctx context.Context, orderID uuid.UUID) (Transaction, error)
	Update(ctx context.Context, tx Transaction) error
	ListExpired(ctx context.Context, cutoff time.Time, limit int32) ([]Transaction, error)
}

// OrderLifecycle is the slice of the order service the orchestrator drives.
type OrderLifecycle interface {
	Get(ctx context.Context, orderID uuid.UUID) (order.Order, error)
	MarkPaid(ctx context.Context, orderID uuid.UUID) (order.Order, error)
	MarkPaymentFailed(ctx context.Context, orderID uuid.UUID) (order.Order, error)
	MarkRefunded(ctx context.Context, orderID uuid.UUID, full bool) (order.Order, error)
}

// InitiateCommand asks the orchestrator to open a payment for an order.
type InitiateCommand struct {
	OrderID       uuid.UUID
	Method        Method
	Country       string
	CustomerPhone string
	CustomerEmail string
	Description   string
	CallbackURL   string
}

// InitiateOutcome is what the caller needs to continue the flow.
type InitiateOutcome struct {
	Transaction  Transaction
	Instructions *Instructions
	Reused       bool
}

// Orchestrator selects gateways, drives transactions through their state
// machine, reconciles webhooks and the verify path through one code path,
// and manages refunds.
type Orchestrator struct {
	Store    Store
	Orders   OrderLifecycle
	Gateways []Gateway
	Clients  map[string]Client
	Events   *events.Bus
	Log      zerolog.Logger
	Now      func() time.Time

	IntentTTL     time.Duration
	RetryAttempts int
	RetryBase     time.Duration
	Breakers      map[string]*resilience.Breaker
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) ttl() time.Duration {
	if o.IntentTTL > 0 {
		return o.IntentTTL
	}
	return defaultIntentTTL
}

// Initiate opens a payment transaction for the order. A still-pending,
// unexpired transaction for the same order is reused instead of opening a
// second charge.
func (o *Orchestrator) Initiate(ctx context.Context, cmd InitiateCommand) (InitiateOutcome, error) {
	ctx, span := otel.Tracer("payment.Orchestrator").Start(ctx, "Orchestrator.Initiate")
	defer span.End()

	gatewayLabel := "none"
	result := "error"
	defer func() {
		if obs.PaymentInitiateTotal != nil {
			obs.PaymentInitiateTotal.WithLabelValues(gatewayLabel, string(cmd.Method), result).Inc()
		}
	}()

	ord, err := o.Orders.Get(ctx, cmd.OrderID)
	if err != nil {
		return InitiateOutcome{}, err
	}
	span.SetAttributes(attribute.String("order.number", ord.Number))

	if existing, lookupErr := o.Store.LatestByOrder(ctx, cmd.OrderID); lookupErr == nil {
		if existing.Status == TxSuccess {
			return InitiateOutcome{}, ErrOrderAlreadyPaid
		}
		if existing.Status == TxPending && existing.ExpiresAt.After(o.now()) {
			gatewayLabel = existing.Gateway
			result = "reused"
			return InitiateOutcome{Transaction: existing, Reused: true}, nil
		}
	} else if !errors.Is(lookupErr, ErrTransactionNotFound) {
		return InitiateOutcome{}, lookupErr
	}

	rec, err := SelectGateway(o.Gateways, Criteria{
		Amount:   ord.Total,
		Currency: ord.Currency,
		Country:  cmd.Country,
		Method:   cmd.Method,
	})
	if err != nil {
		return InitiateOutcome{}, err
	}
	gatewayLabel = rec.Gateway.Type
	span.SetAttributes(
		attribute.String("payment.gateway", rec.Gateway.Type),
		attribute.Int64("payment.estimated_fee", int64(rec.EstimatedFee)),
		attribute.StringSlice("payment.selection_reasons", rec.Reasons),
	)

	client, ok := o.Clients[rec.Gateway.Type]
	if !ok {
		return InitiateOutcome{}, fmt.Errorf("no client configured for gateway %s", rec.Gateway.Type)
	}

	now := o.now()
	tx := Transaction{
		ID:            uuid.New(),
		OrderID:       ord.ID,
		Gateway:       rec.Gateway.Type,
		Method:        cmd.Method,
		Status:        TxPending,
		Amount:        ord.Total,
		Currency:      ord.Currency,
		FeeAmount:     rec.EstimatedFee,
		NetAmount:     ord.Total - rec.EstimatedFee,
		Reference:     newReference(ord.Number),
		CustomerPhone: cmd.CustomerPhone,
		CustomerEmail: cmd.CustomerEmail,
		Description:   cmd.Description,
		InitiatedAt:   now,
		ExpiresAt:     now.Add(o.ttl()),
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}

	var initiated InitiateResult
	err = o.callGateway(ctx, rec.Gateway.Type, "initiate", func() error {
		var callErr error
		initiated, callErr = client.Initiate(ctx, InitiateRequest{
			Reference:     tx.Reference,
			Amount:        tx.Amount,
			Currency:      tx.Currency,
			Method:        tx.Method,
			CustomerPhone: tx.CustomerPhone,
			CustomerEmail: tx.CustomerEmail,
			Description:   tx.Description,
			CallbackURL:   cmd.CallbackURL,
		})
		return callErr
	})
	if err != nil {
		span.RecordError(err)
		return InitiateOutcome{}, err
	}
	tx.GatewayRef = initiated.GatewayRef
	if initiated.ExpiresAtSec > 0 {
		tx.ExpiresAt = time.Unix(initiated.ExpiresAtSec, 0)
	}
	if err := o.Store.Insert(ctx, tx); err != nil {
		// A concurrent Initiate hit the one-pending-per-order constraint
		// first; hand its transaction back instead of failing.
		if errors.Is(err, ErrPendingExists) {
			if winner, lookupErr := o.Store.LatestByOrder(ctx, cmd.OrderID); lookupErr == nil && winner.Status == TxPending {
				gatewayLabel = winner.Gateway
				result = "reused"
				return InitiateOutcome{Transaction: winner, Reused: true}, nil
			}
			return InitiateOutcome{}, err
		}
		return InitiateOutcome{}, fmt.Errorf("insert transaction: %w", err)
	}

	result = "success"
	o.Log.Info().Str("order_id", ord.ID.String()).Str("reference", tx.Reference).
		Str("gateway", tx.Gateway).Int64("amount", int64(tx.Amount)).
		Strs("selection_reasons", rec.Reasons).Msg("payment initiated")
	return InitiateOutcome{Transaction: tx, Instructions: initiated.Instructions}, nil
}

// ReconcileWebhook verifies the payload's signature before touching any
// state, then funnels the normalised outcome through the same reconciliation
// path the verify command uses. Redelivered webhooks for a settled
// transaction are a logged no-op.
func (o *Orchestrator) ReconcileWebhook(ctx context.Context, gateway string, event WebhookEvent) (Transaction, error) {
	ctx, span := otel.Tracer("payment.Orchestrator").Start(ctx, "Orchestrator.ReconcileWebhook")
	defer span.End()

	result := "error"
	defer func() {
		if obs.PaymentWebhookTotal != nil {
			obs.PaymentWebhookTotal.WithLabelValues(gateway, result).Inc()
		}
	}()

	if !event.Valid {
		result = "invalid_signature"
		return Transaction{}, fmt.Errorf("%w: %v", ErrInvalidSignature, event.Err)
	}
	tx, err := o.Store.GetByReference(ctx, event.Reference)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			result = "unknown_reference"
		}
		return Transaction{}, err
	}
	if event.Amount > 0 && event.Amount != tx.Amount {
		result = "amount_mismatch"
		return Transaction{}, fmt.Errorf("webhook amount %d does not match transaction amount %d", event.Amount, tx.Amount)
	}

	tx, applied, err := o.applyOutcome(ctx, tx, event.Outcome)
	if err != nil {
		return Transaction{}, err
	}
	if !applied {
		result = "duplicate"
		return tx, nil
	}
	result = string(event.Outcome)
	return tx, nil
}

// Verify asks the gateway for the current status of a transaction and
// reconciles it, applying the same de-duplication rule as the webhook path.
func (o *Orchestrator) Verify(ctx context.Context, reference string) (Transaction, error) {
	ctx, span := otel.Tracer("payment.Orchestrator").Start(ctx, "Orchestrator.Verify")
	defer span.End()

	tx, err := o.Store.GetByReference(ctx, reference)
	if err != nil {
		return Transaction{}, err
	}
	if tx.Status.Terminal() {
		return tx, nil
	}
	client, ok := o.Clients[tx.Gateway]
	if !ok {
		return Transaction{}, fmt.Errorf("no client configured for gateway %s", tx.Gateway)
	}

	var outcome Outcome
	err = o.callGateway(ctx, tx.Gateway, "verify", func() error {
		var callErr error
		outcome, callErr = client.Verify(ctx, tx.Reference)
		return callErr
	})
	if err != nil {
		span.RecordError(err)
		return Transaction{}, err
	}
	tx, _, err = o.applyOutcome(ctx, tx, outcome)
	return tx, err
}

// Refund returns part or all of a settled transaction. amount <= 0 requests
// the full remaining balance. The cumulative refunded amount can never
// exceed the settled amount.
func (o *Orchestrator) Refund(ctx context.Context, reference string, amount pricing.Money) (Transaction, error) {
	ctx, span := otel.Tracer("payment.Orchestrator").Start(ctx, "Orchestrator.Refund")
	defer span.End()

	result := "error"
	gatewayLabel := "none"
	defer func() {
		if obs.PaymentRefundTotal != nil {
			obs.PaymentRefundTotal.WithLabelValues(gatewayLabel, result).Inc()
		}
	}()

	tx, err := o.Store.GetByReference(ctx, reference)
	if err != nil {
		return Transaction{}, err
	}
	gatewayLabel = tx.Gateway
	if tx.Status != TxSuccess && tx.Status != TxPartiallyRefunded {
		return Transaction{}, fmt.Errorf("%w: status %s", ErrNotRefundable, tx.Status)
	}
	remaining := tx.RemainingRefundable()
	if amount <= 0 {
		amount = remaining
	}
	if amount > remaining {
		return Transaction{}, fmt.Errorf("%w: requested %d, remaining %d", ErrRefundExceedsPaid, amount, remaining)
	}

	client, ok := o.Clients[tx.Gateway]
	if !ok {
		return Transaction{}, fmt.Errorf("no client configured for gateway %s", tx.Gateway)
	}
	err = o.callGateway(ctx, tx.Gateway, "refund", func() error {
		_, callErr := client.Refund(ctx, tx.Reference, amount)
		return callErr
	})
	if err != nil {
		span.RecordError(err)
		return Transaction{}, err
	}

	// The pre-check above reads a snapshot; a concurrent refund can land
	// between the gateway call and our commit. Re-validate against the fresh
	// state inside the retry closure so the cumulative total never exceeds
	// the settled amount.
	var out Transaction
	var full bool
	err = o.withRetry(ctx, tx.ID, func(cur Transaction) (Transaction, bool, error) {
		if cur.Status != TxSuccess && cur.Status != TxPartiallyRefunded {
			return cur, false, fmt.Errorf("%w: status %s", ErrNotRefundable, cur.Status)
		}
		curRemaining := cur.RemainingRefundable()
		if amount > curRemaining {
			return cur, false, fmt.Errorf("%w: requested %d, remaining %d", ErrRefundExceedsPaid, amount, curRemaining)
		}
		full = amount == curRemaining
		target := TxPartiallyRefunded
		if full {
			target = TxRefunded
		}
		next, txErr := cur.WithStatus(target)
		if txErr != nil {
			return cur, false, txErr
		}
		next.Refunded += amount
		out = next
		return next, true, nil
	})
	if err != nil {
		return Transaction{}, err
	}

	if _, err := o.Orders.MarkRefunded(ctx, out.OrderID, full); err != nil {
		o.Log.Error().Err(err).Str("order_id", out.OrderID.String()).Msg("propagate refund to order")
	}
	result = "success"
	o.Log.Info().Str("reference", out.Reference).Int64("amount", int64(amount)).
		Bool("full", full).Msg("refund settled")
	return out, nil
}

// ExpirePending marks pending transactions past their deadline as expired
// and fails the corresponding orders. Meant to run from a periodic sweep.
func (o *Orchestrator) ExpirePending(ctx context.Context, limit int32) (int, error) {
	stale, err := o.Store.ListExpired(ctx, o.now(), limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, tx := range stale {
		if _, applied, applyErr := o.applyOutcome(ctx, tx, OutcomeExpired); applyErr != nil {
			o.Log.Error().Err(applyErr).Str("reference", tx.Reference).Msg("expire transaction")
		} else if applied {
			expired++
		}
	}
	return expired, nil
}

// applyOutcome is the single reconciliation point for webhook, verify and
// expiry. It reports applied=false when the transaction is already terminal,
// which both delivery paths treat as an idempotent no-op.
func (o *Orchestrator) applyOutcome(ctx context.Context, tx Transaction, outcome Outcome) (Transaction, bool, error) {
	target, final := outcomeStatus(outcome)
	if !final {
		return tx, false, nil
	}

	applied := false
	var out Transaction
	err := o.withRetry(ctx, tx.ID, func(cur Transaction) (Transaction, bool, error) {
		if cur.Status.Terminal() {
			out = cur
			return cur, false, nil
		}
		next, txErr := cur.WithStatus(target)
		if txErr != nil {
			return cur, false, txErr
		}
		now := o.now()
		switch target {
		case TxSuccess:
			next.ProcessedAt = &now
		case TxFailed, TxCancelled, TxExpired:
			next.FailedAt = &now
		}
		out = next
		applied = true
		return next, true, nil
	})
	if err != nil {
		return Transaction{}, false, err
	}
	if !applied {
		o.Log.Info().Str("reference", tx.Reference).Str("status", string(out.Status)).
			Str("outcome", string(outcome)).Msg("duplicate delivery ignored")
		return out, false, nil
	}

	o.afterOutcome(ctx, out)
	return out, true, nil
}

// afterOutcome drives order transitions and events exactly once, on the
// write that won the status change.
func (o *Orchestrator) afterOutcome(ctx context.Context, tx Transaction) {
	var topic string
	switch tx.Status {
	case TxSuccess:
		topic = events.TopicPaymentSucceeded
		if _, err := o.Orders.MarkPaid(ctx, tx.OrderID); err != nil {
			o.Log.Error().Err(err).Str("order_id", tx.OrderID.String()).Msg("settle order after payment")
		}
	case TxFailed, TxCancelled:
		topic = events.TopicPaymentFailed
		if _, err := o.Orders.MarkPaymentFailed(ctx, tx.OrderID); err != nil {
			o.Log.Error().Err(err).Str("order_id", tx.OrderID.String()).Msg("fail order payment")
		}
	case TxExpired:
		topic = events.TopicPaymentExpired
		if _, err := o.Orders.MarkPaymentFailed(ctx, tx.OrderID); err != nil {
			o.Log.Error().Err(err).Str("order_id", tx.OrderID.String()).Msg("expire order payment")
		}
	default:
		return
	}
	if o.Events != nil {
		if _, err := o.Events.Emit(ctx, topic, tx.OrderID, map[string]any{
			"reference": tx.Reference,
			"gateway":   tx.Gateway,
			"amount":    tx.Amount,
			"status":    tx.Status,
		}); err != nil {
			o.Log.Error().Err(err).Str("reference", tx.Reference).Msg("emit payment event")
		}
	}
}

// withRetry loads the transaction, applies fn, and performs a version-checked
// update, retrying with fresh state on conflict. fn returning write=false
// skips the store round trip.
func (o *Orchestrator) withRetry(ctx context.Context, txID uuid.UUID, fn func(Transaction) (Transaction, bool, error)) error {
	for attempt := 0; attempt < updateAttempts; attempt++ {
		cur, err := o.Store.Get(ctx, txID)
		if err != nil {
			return err
		}
		next, write, err := fn(cur)
		if err != nil {
			return err
		}
		if !write {
			return nil
		}
		next.UpdatedAt = o.now()
		err = o.Store.Update(ctx, next)
		if err == nil {
			return nil
		}
		if !errors.Is(err, common.ErrVersionConflict) {
			return fmt.Errorf("update transaction: %w", err)
		}
	}
	return fmt.Errorf("update transaction %s: %w", txID, common.ErrVersionConflict)
}

// callGateway runs fn under the gateway's circuit breaker with bounded
// exponential-backoff retries for transient failures. Permanent gateway
// errors surface immediately.
func (o *Orchestrator) callGateway(ctx context.Context, gateway, op string, fn func() error) error {
	breaker := o.Breakers[gateway]
	if breaker != nil && !breaker.Allow(ctx) {
		return &GatewayError{Gateway: gateway, Op: op, Transient: true, Err: resilience.ErrOpenCircuit}
	}
	attempts := o.RetryAttempts
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	base := o.RetryBase
	if base <= 0 {
		base = 200 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			if breaker != nil {
				breaker.Report(ctx, true)
			}
			return nil
		}
		if !IsTransientGatewayError(lastErr) {
			if breaker != nil {
				breaker.Report(ctx, false)
			}
			return lastErr
		}
		if breaker != nil {
			breaker.Report(ctx, false)
		}
		if attempt == attempts {
			break
		}
		if obs.GatewayRetryTotal != nil {
			obs.GatewayRetryTotal.WithLabelValues(gateway, op).Inc()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(resilience.Backoff(base, attempt, 0.2)):
		}
	}
	return fmt.Errorf("gateway %s: %s: exhausted %d attempts: %w", gateway, op, attempts, lastErr)
}

func outcomeStatus(outcome Outcome) (TxStatus, bool) {
	switch outcome {
	case OutcomeSuccess:
		return TxSuccess, true
	case OutcomeFailed:
		return TxFailed, true
	case OutcomeCancelled:
		return TxCancelled, true
	case OutcomeExpired:
		return TxExpired, true
	default:
		return TxPending, false
	}
}

func newReference(orderNumber string) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:10]
	return fmt.Sprintf("PAY-%s-%s", orderNumber, suffix)
}
