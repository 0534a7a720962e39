package repo

import (
	"context"
	"fmt"

	"github.com/amara-dev/backend-soko/internal/audit"
)

// AuditStore appends and reads the audit trail.
type AuditStore struct {
	DB DB
}

var _ audit.Store = (*AuditStore)(nil)

func (s *AuditStore) InsertEntry(ctx context.Context, e audit.Entry) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO audit_entries (id, actor_id, action, subject_type, subject_id, detail, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.ActorID, e.Action, e.SubjectType, e.SubjectID, e.Detail, e.At)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *AuditStore) ListEntries(ctx context.Context, subjectType, subjectID string, limit int32) ([]audit.Entry, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, actor_id, action, subject_type, subject_id, detail, at
		FROM audit_entries
		WHERE subject_type = $1 AND subject_id = $2
		ORDER BY at DESC
		LIMIT $3`, subjectType, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.SubjectType, &e.SubjectID, &e.Detail, &e.At); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
