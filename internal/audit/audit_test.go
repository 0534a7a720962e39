package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type memAuditStore struct {
	entries   []Entry
	insertErr error
}

func (s *memAuditStore) InsertEntry(_ context.Context, e Entry) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *memAuditStore) ListEntries(_ context.Context, subjectType, subjectID string, limit int32) ([]Entry, error) {
	var out []Entry
	for _, e := range s.entries {
		if e.SubjectType == subjectType && e.SubjectID == subjectID {
			out = append(out, e)
		}
		if int32(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

func TestRecordPersistsEntry(t *testing.T) {
	store := &memAuditStore{}
	now := time.Date(2025, 7, 10, 9, 0, 0, 0, time.UTC)
	svc := &Service{Store: store, Log: zerolog.Nop(), Now: func() time.Time { return now }}

	svc.Record(context.Background(), "merch-1", "inventory.adjustment_override", "variant", "v-1",
		map[string]any{"before": int64(12), "after": int64(3)})

	if len(store.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(store.entries))
	}
	e := store.entries[0]
	if e.ActorID != "merch-1" || e.Action != "inventory.adjustment_override" || !e.At.Equal(now) {
		t.Fatalf("entry = %+v", e)
	}
	var detail map[string]int64
	if err := json.Unmarshal(e.Detail, &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if detail["before"] != 12 || detail["after"] != 3 {
		t.Fatalf("detail = %v", detail)
	}
}

func TestRecordSwallowsStoreFailure(t *testing.T) {
	store := &memAuditStore{insertErr: errors.New("db down")}
	svc := &Service{Store: store, Log: zerolog.Nop()}
	// Must not panic or propagate; the audited action already happened.
	svc.Record(context.Background(), "merch-1", "payment.refund", "transaction", "t-1", nil)
}

func TestListScopesToSubject(t *testing.T) {
	store := &memAuditStore{}
	svc := &Service{Store: store, Log: zerolog.Nop()}
	svc.Record(context.Background(), "a", "x", "variant", "v-1", nil)
	svc.Record(context.Background(), "a", "x", "variant", "v-2", nil)

	entries, err := svc.List(context.Background(), "variant", "v-1", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].SubjectID != "v-1" {
		t.Fatalf("entries = %+v", entries)
	}
}
