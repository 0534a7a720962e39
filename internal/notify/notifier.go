package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/amara-dev/backend-soko/internal/events"
)

// TaskDeliverEvent is the asynq task type carrying a domain event to the
// delivery worker.
const TaskDeliverEvent = "notify:deliver_event"

// Enqueuer hands emitted events to the background worker. Delivery is
// fire-and-forget from the emitter's point of view; retry policy lives with
// the task, not the caller.
type Enqueuer struct {
	Client    *asynq.Client
	MaxRetry  int
	Retention time.Duration
	ProcessIn time.Duration
	QueueName string
}

// Notify implements events.Notifier by enqueueing an asynchronous delivery
// task for the event.
func (e Enqueuer) Notify(ctx context.Context, event events.Event) error {
	if e.Client == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: encode event: %w", err)
	}
	maxRetry := e.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 6
	}
	opts := []asynq.Option{
		asynq.MaxRetry(maxRetry),
		asynq.TaskID(event.ID.String()),
	}
	if e.QueueName != "" {
		opts = append(opts, asynq.Queue(e.QueueName))
	}
	if e.Retention > 0 {
		opts = append(opts, asynq.Retention(e.Retention))
	}
	if e.ProcessIn > 0 {
		opts = append(opts, asynq.ProcessIn(e.ProcessIn))
	}
	if _, err := e.Client.EnqueueContext(ctx, asynq.NewTask(TaskDeliverEvent, payload), opts...); err != nil {
		return fmt.Errorf("notify: enqueue delivery: %w", err)
	}
	return nil
}
