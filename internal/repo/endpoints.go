package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/amara-dev/backend-soko/internal/notify"
)

// EndpointStore persists webhook endpoint registrations. Topics are a text
// array; the delivery worker filters with an array containment match so the
// fan-out query stays in SQL.
type EndpointStore struct {
	DB DB
}

var _ notify.AdminStore = (*EndpointStore)(nil)

// ListEndpoints returns every registration for the management surface.
func (s *EndpointStore) ListEndpoints(ctx context.Context) ([]notify.Endpoint, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, url, secret, topics, active
		FROM webhook_endpoints
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	defer rows.Close()

	var out []notify.Endpoint
	for rows.Next() {
		var ep notify.Endpoint
		if err := rows.Scan(&ep.ID, &ep.URL, &ep.Secret, &ep.Topics, &ep.Active); err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

func (s *EndpointStore) ListActiveEndpointsForTopic(ctx context.Context, topic string) ([]notify.Endpoint, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, url, secret, topics, active
		FROM webhook_endpoints
		WHERE active AND $1 = ANY (topics)`, topic)
	if err != nil {
		return nil, fmt.Errorf("list endpoints for topic: %w", err)
	}
	defer rows.Close()

	var out []notify.Endpoint
	for rows.Next() {
		var ep notify.Endpoint
		if err := rows.Scan(&ep.ID, &ep.URL, &ep.Secret, &ep.Topics, &ep.Active); err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// InsertEndpoint registers a new delivery target.
func (s *EndpointStore) InsertEndpoint(ctx context.Context, ep notify.Endpoint) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO webhook_endpoints (id, url, secret, topics, active, created_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		ep.ID, ep.URL, ep.Secret, ep.Topics, ep.Active)
	if err != nil {
		return fmt.Errorf("insert endpoint: %w", err)
	}
	return nil
}

// DeactivateEndpoint stops deliveries without losing the registration.
func (s *EndpointStore) DeactivateEndpoint(ctx context.Context, id uuid.UUID) error {
	_, err := s.DB.Exec(ctx, `UPDATE webhook_endpoints SET active = false WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate endpoint: %w", err)
	}
	return nil
}
