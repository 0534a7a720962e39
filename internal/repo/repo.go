// Package repo holds the pgx-backed store implementations behind the domain
// services. Every statement is parameterized; versioned tables guard their
// updates with a WHERE version = $n clause and report lost races as
// common.ErrVersionConflict.
package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/amara-dev/backend-soko/internal/common"
)

const uniqueViolation = "23505"

// DB is the slice of pgxpool.Pool the stores need. Satisfied by both the
// pool and a pgx transaction.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return common.ErrNotFound
	}
	return err
}
