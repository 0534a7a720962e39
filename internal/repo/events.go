package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/amara-dev/backend-soko/internal/events"
)

// EventStore appends domain events. Events are immutable once written; the
// table is the audit trail the notification worker reads payloads from.
type EventStore struct {
	DB  DB
	Now func() time.Time
}

var _ events.Store = (*EventStore)(nil)

func (s *EventStore) InsertEvent(ctx context.Context, topic string, aggregateID uuid.UUID, payload []byte) (events.Event, error) {
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	ev := events.Event{
		ID:          uuid.New(),
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     payload,
		OccurredAt:  now.UTC(),
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO domain_events (id, topic, aggregate_id, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.Topic, ev.AggregateID, ev.Payload, ev.OccurredAt)
	if err != nil {
		return events.Event{}, fmt.Errorf("insert domain event: %w", err)
	}
	return ev, nil
}
