// Package audit records privileged actions that rewrite state outside the
// normal ledgers: absolute inventory overrides, refunds, endpoint changes.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Entry is one recorded action.
type Entry struct {
	ID          uuid.UUID
	ActorID     string
	Action      string
	SubjectType string
	SubjectID   string
	Detail      []byte
	At          time.Time
}

// Store persists audit entries.
type Store interface {
	InsertEntry(ctx context.Context, e Entry) error
	ListEntries(ctx context.Context, subjectType, subjectID string, limit int32) ([]Entry, error)
}

// Service writes the audit trail. Recording failures are logged, never
// propagated: an audit hiccup must not abort the action it describes.
type Service struct {
	Store Store
	Log   zerolog.Logger
	Now   func() time.Time
}

// Record persists one entry. Detail is marshalled to JSON.
func (s *Service) Record(ctx context.Context, actorID, action, subjectType, subjectID string, detail any) {
	if s == nil || s.Store == nil {
		return
	}
	payload, err := json.Marshal(detail)
	if err != nil {
		s.Log.Error().Err(err).Str("action", action).Msg("encode audit detail")
		return
	}
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	entry := Entry{
		ID:          uuid.New(),
		ActorID:     actorID,
		Action:      action,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		Detail:      payload,
		At:          now.UTC(),
	}
	if err := s.Store.InsertEntry(ctx, entry); err != nil {
		s.Log.Error().Err(err).Str("action", action).Str("subject_id", subjectID).
			Msg("persist audit entry")
	}
}

// List returns the trail for one subject, newest first.
func (s *Service) List(ctx context.Context, subjectType, subjectID string, limit int32) ([]Entry, error) {
	if s == nil || s.Store == nil {
		return nil, errors.New("audit: store not configured")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	entries, err := s.Store.ListEntries(ctx, subjectType, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}
