package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/amara-dev/backend-soko/internal/events"
	"github.com/amara-dev/backend-soko/internal/lock"
	"github.com/amara-dev/backend-soko/internal/notify"
	"github.com/amara-dev/backend-soko/internal/payment"
)

// TaskPaymentExpiry sweeps payment intents past their gateway deadline.
const TaskPaymentExpiry = "payment:expire_pending"

const (
	defaultExpiryBatch = 100
	expiryLockKey      = "lock:payment_expiry"
)

// Handler owns the background task handlers served by the worker binary.
type Handler struct {
	Deliverer    *notify.Deliverer
	Email        *notify.EmailNotifier
	Orchestrator *payment.Orchestrator
	Locker       *lock.Locker
	LockTTL      time.Duration
	ExpiryBatch  int32
	Log          zerolog.Logger
}

// Register attaches all task handlers to the asynq mux.
func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(notify.TaskDeliverEvent, h.HandleDeliverEvent)
	mux.HandleFunc(TaskPaymentExpiry, h.HandlePaymentExpiry)
}

// HandleDeliverEvent fans a persisted domain event out to registered webhook
// endpoints and, where enabled, email. A malformed payload is dropped rather
// than retried: redelivering bytes that will never decode only burns attempts.
func (h *Handler) HandleDeliverEvent(ctx context.Context, t *asynq.Task) error {
	var ev events.Event
	if err := json.Unmarshal(t.Payload(), &ev); err != nil {
		h.Log.Error().Err(err).Str("task", t.Type()).Msg("drop undecodable event task")
		return fmt.Errorf("decode event: %v: %w", err, asynq.SkipRetry)
	}
	if h.Email != nil {
		if err := h.Email.Notify(ctx, ev); err != nil {
			h.Log.Warn().Err(err).Str("topic", ev.Topic).Msg("email notification failed")
		}
	}
	if h.Deliverer == nil {
		return nil
	}
	if err := h.Deliverer.DeliverEvent(ctx, ev); err != nil {
		return fmt.Errorf("deliver event %s: %w", ev.ID, err)
	}
	return nil
}

// HandlePaymentExpiry marks stale pending transactions as expired. The task
// is scheduled periodically; one sweep handles at most ExpiryBatch rows and
// the next run picks up the rest. With multiple workers the sweep runs under
// a distributed lock so transactions are only visited once per tick.
func (h *Handler) HandlePaymentExpiry(ctx context.Context, _ *asynq.Task) error {
	if h.Locker != nil {
		return h.Locker.WithLock(ctx, expiryLockKey, h.LockTTL, h.sweepExpired)
	}
	return h.sweepExpired(ctx)
}

func (h *Handler) sweepExpired(ctx context.Context) error {
	batch := h.ExpiryBatch
	if batch <= 0 {
		batch = defaultExpiryBatch
	}
	expired, err := h.Orchestrator.ExpirePending(ctx, batch)
	if err != nil {
		return fmt.Errorf("expire pending payments: %w", err)
	}
	if expired > 0 {
		h.Log.Info().Int("expired", expired).Msg("expired stale payment intents")
	}
	return nil
}
