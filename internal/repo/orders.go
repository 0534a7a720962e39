package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/amara-dev/backend-soko/internal/common"
	"github.com/amara-dev/backend-soko/internal/order"
)

// OrderStore persists orders with their line snapshot and addresses as
// JSONB documents. The order number carries a unique index; a collision on
// insert surfaces as order.ErrNumberTaken so the service can regenerate.
type OrderStore struct {
	DB DB
}

var _ order.Store = (*OrderStore)(nil)

const orderColumns = `id, number, store_id, customer_id, status, pay_status, fulfillment,
	currency, subtotal, tax, shipping, discount, total,
	items, shipping_address, billing_address, coupon_code, channel,
	created_at, updated_at, processed_at, cancelled_at, fulfilled_at, version`

func (s *OrderStore) Insert(ctx context.Context, o order.Order) error {
	items, shipping, billing, err := encodeOrderDocs(o)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, 1)`,
		o.ID, o.Number, o.StoreID, nullableUUID(o.CustomerID), o.Status, o.PayStatus, o.Fulfillment,
		o.Currency, o.Subtotal, o.Tax, o.Shipping, o.Discount, o.Total,
		items, shipping, billing, o.CouponCode, o.Channel,
		o.CreatedAt, o.UpdatedAt, o.ProcessedAt, o.CancelledAt, o.FulfilledAt)
	if err != nil {
		if isUniqueViolation(err) {
			return order.ErrNumberTaken
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *OrderStore) Get(ctx context.Context, id uuid.UUID) (order.Order, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

func (s *OrderStore) GetByNumber(ctx context.Context, storeID uuid.UUID, number string) (order.Order, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE store_id = $1 AND number = $2`, storeID, number)
	return scanOrder(row)
}

func (s *OrderStore) Update(ctx context.Context, o order.Order) error {
	items, shipping, billing, err := encodeOrderDocs(o)
	if err != nil {
		return err
	}
	tag, err := s.DB.Exec(ctx, `
		UPDATE orders
		SET status = $3, pay_status = $4, fulfillment = $5,
		    subtotal = $6, tax = $7, shipping = $8, discount = $9, total = $10,
		    items = $11, shipping_address = $12, billing_address = $13,
		    coupon_code = $14, updated_at = $15,
		    processed_at = $16, cancelled_at = $17, fulfilled_at = $18,
		    version = version + 1
		WHERE id = $1 AND version = $2`,
		o.ID, o.Version, o.Status, o.PayStatus, o.Fulfillment,
		o.Subtotal, o.Tax, o.Shipping, o.Discount, o.Total,
		items, shipping, billing,
		o.CouponCode, o.UpdatedAt,
		o.ProcessedAt, o.CancelledAt, o.FulfilledAt)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.DB.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, o.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check order existence: %w", err)
		}
		if !exists {
			return common.ErrNotFound
		}
		return common.ErrVersionConflict
	}
	return nil
}

func (s *OrderStore) List(ctx context.Context, f order.Filter) ([]order.Order, error) {
	where, args := buildOrderFilter(f)
	query := `SELECT ` + orderColumns + ` FROM orders` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// buildOrderFilter renders the filter as a WHERE clause with positional
// parameters. Caller input only ever appears as an argument, never inside
// the SQL text.
func buildOrderFilter(f order.Filter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.StoreID != uuid.Nil {
		add(`store_id = $%d`, f.StoreID)
	}
	if f.CustomerID != uuid.Nil {
		add(`customer_id = $%d`, f.CustomerID)
	}
	if f.Status != "" {
		add(`status = $%d`, f.Status)
	}
	if f.PayStatus != "" {
		add(`pay_status = $%d`, f.PayStatus)
	}
	if f.Fulfillment != "" {
		add(`fulfillment = $%d`, f.Fulfillment)
	}
	if f.NumberLike != "" {
		add(`number ILIKE $%d`, "%"+escapeLike(f.NumberLike)+"%")
	}
	if !f.CreatedFrom.IsZero() {
		add(`created_at >= $%d`, f.CreatedFrom)
	}
	if !f.CreatedTo.IsZero() {
		add(`created_at < $%d`, f.CreatedTo)
	}
	if f.TotalMin > 0 {
		add(`total >= $%d`, f.TotalMin)
	}
	if f.TotalMax > 0 {
		add(`total <= $%d`, f.TotalMax)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// escapeLike neutralises LIKE metacharacters in user-supplied search text.
func escapeLike(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}

func encodeOrderDocs(o order.Order) (items, shipping, billing []byte, err error) {
	if items, err = json.Marshal(o.Items); err != nil {
		return nil, nil, nil, fmt.Errorf("encode order items: %w", err)
	}
	if shipping, err = json.Marshal(o.ShippingAddress); err != nil {
		return nil, nil, nil, fmt.Errorf("encode shipping address: %w", err)
	}
	if billing, err = json.Marshal(o.BillingAddress); err != nil {
		return nil, nil, nil, fmt.Errorf("encode billing address: %w", err)
	}
	return items, shipping, billing, nil
}

func scanOrder(row rowScanner) (order.Order, error) {
	var (
		o          order.Order
		customerID *uuid.UUID
		items      []byte
		shipping   []byte
		billing    []byte
	)
	err := row.Scan(&o.ID, &o.Number, &o.StoreID, &customerID, &o.Status, &o.PayStatus, &o.Fulfillment,
		&o.Currency, &o.Subtotal, &o.Tax, &o.Shipping, &o.Discount, &o.Total,
		&items, &shipping, &billing, &o.CouponCode, &o.Channel,
		&o.CreatedAt, &o.UpdatedAt, &o.ProcessedAt, &o.CancelledAt, &o.FulfilledAt, &o.Version)
	if err != nil {
		return order.Order{}, mapNoRows(err)
	}
	if customerID != nil {
		o.CustomerID = *customerID
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return order.Order{}, fmt.Errorf("decode order items: %w", err)
		}
	}
	if len(shipping) > 0 {
		if err := json.Unmarshal(shipping, &o.ShippingAddress); err != nil {
			return order.Order{}, fmt.Errorf("decode shipping address: %w", err)
		}
	}
	if len(billing) > 0 {
		if err := json.Unmarshal(billing, &o.BillingAddress); err != nil {
			return order.Order{}, fmt.Errorf("decode billing address: %w", err)
		}
	}
	return o, nil
}
