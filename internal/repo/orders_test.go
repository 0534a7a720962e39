package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/amara-dev/backend-soko/internal/common"
	"github.com/amara-dev/backend-soko/internal/order"
)

// recordingDB captures the last statement and its arguments. Scans always
// come back empty.
type recordingDB struct {
	sql  string
	args []any
}

func (d *recordingDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d.sql, d.args = sql, args
	return pgconn.CommandTag{}, nil
}

func (d *recordingDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	d.sql, d.args = sql, args
	return nil, pgx.ErrNoRows
}

func (d *recordingDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	d.sql, d.args = sql, args
	return emptyRow{}
}

type emptyRow struct{}

func (emptyRow) Scan(...any) error { return pgx.ErrNoRows }

func TestBuildOrderFilterEmpty(t *testing.T) {
	where, args := buildOrderFilter(order.Filter{})
	if where != "" {
		t.Fatalf("where = %q, want empty", where)
	}
	if len(args) != 0 {
		t.Fatalf("args = %v, want none", args)
	}
}

func TestBuildOrderFilterParameterizesEverything(t *testing.T) {
	f := order.Filter{
		StoreID:     uuid.New(),
		CustomerID:  uuid.New(),
		Status:      order.StatusPending,
		PayStatus:   order.PaymentPending,
		Fulfillment: order.FulfillmentUnfulfilled,
		NumberLike:  "3F2-88",
		CreatedFrom: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		CreatedTo:   time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		TotalMin:    1000,
		TotalMax:    5000,
	}
	where, args := buildOrderFilter(f)
	if len(args) != 10 {
		t.Fatalf("args = %d, want 10", len(args))
	}
	for i := 1; i <= 10; i++ {
		placeholder := fmt.Sprintf("$%d", i)
		if !strings.Contains(where, placeholder) {
			t.Errorf("where %q is missing %s", where, placeholder)
		}
	}
	// The search term travels as an argument, never in the SQL text.
	if strings.Contains(where, "3F2") {
		t.Fatalf("where %q embeds caller input", where)
	}
}

func TestBuildOrderFilterInjectionAttempt(t *testing.T) {
	f := order.Filter{NumberLike: `'; DROP TABLE orders; --`}
	where, args := buildOrderFilter(f)
	if strings.Contains(where, "DROP TABLE") {
		t.Fatalf("where %q embeds caller input", where)
	}
	if len(args) != 1 {
		t.Fatalf("args = %v, want the search term only", args)
	}
}

func TestGetByNumberScopesToStore(t *testing.T) {
	db := &recordingDB{}
	store := &OrderStore{DB: db}
	storeID := uuid.New()

	_, err := store.GetByNumber(context.Background(), storeID, "SOK-123456-AB12")
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	if !strings.Contains(db.sql, "store_id = $1") || !strings.Contains(db.sql, "number = $2") {
		t.Fatalf("query %q is not store scoped", db.sql)
	}
	if len(db.args) != 2 || db.args[0] != storeID {
		t.Fatalf("args = %v, want the store id first", db.args)
	}
}

func TestEscapeLike(t *testing.T) {
	got := escapeLike(`50%_off\`)
	want := `50\%\_off\\`
	if got != want {
		t.Fatalf("escapeLike = %q, want %q", got, want)
	}
}
