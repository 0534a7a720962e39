package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/amara-dev/backend-soko/internal/cart"
	"github.com/amara-dev/backend-soko/internal/common"
)

// CartStore persists session carts with their lines as a JSONB document.
// A cart is written whole on every mutation; the version column arbitrates
// concurrent writers.
type CartStore struct {
	DB DB
}

var _ cart.Store = (*CartStore)(nil)

const cartColumns = `id, store_id, customer_id, session_id, currency, items, coupon_code, created_at, updated_at, expires_at, version`

func (s *CartStore) Get(ctx context.Context, id uuid.UUID) (cart.Cart, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+cartColumns+` FROM carts WHERE id = $1`, id)
	return scanCart(row)
}

func (s *CartStore) GetActiveBySession(ctx context.Context, storeID uuid.UUID, sessionID string) (cart.Cart, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT `+cartColumns+`
		FROM carts
		WHERE store_id = $1 AND session_id = $2 AND expires_at > now()
		ORDER BY created_at DESC
		LIMIT 1`, storeID, sessionID)
	return scanCart(row)
}

func (s *CartStore) Save(ctx context.Context, c cart.Cart) error {
	items, err := json.Marshal(c.Items)
	if err != nil {
		return fmt.Errorf("encode cart items: %w", err)
	}
	if c.Version == 0 {
		_, err := s.DB.Exec(ctx, `
			INSERT INTO carts (id, store_id, customer_id, session_id, currency, items, coupon_code, created_at, updated_at, expires_at, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)`,
			c.ID, c.StoreID, nullableUUID(c.CustomerID), c.SessionID, c.Currency, items, c.CouponCode,
			c.CreatedAt, c.UpdatedAt, c.ExpiresAt)
		if err != nil {
			return fmt.Errorf("insert cart: %w", err)
		}
		return nil
	}
	tag, err := s.DB.Exec(ctx, `
		UPDATE carts
		SET currency = $3, items = $4, coupon_code = $5, updated_at = $6, expires_at = $7, version = version + 1
		WHERE id = $1 AND version = $2`,
		c.ID, c.Version, c.Currency, items, c.CouponCode, c.UpdatedAt, c.ExpiresAt)
	if err != nil {
		return fmt.Errorf("update cart: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrVersionConflict
	}
	return nil
}

func (s *CartStore) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.DB.Exec(ctx, `DELETE FROM carts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCart(row rowScanner) (cart.Cart, error) {
	var (
		c          cart.Cart
		items      []byte
		customerID *uuid.UUID
	)
	err := row.Scan(&c.ID, &c.StoreID, &customerID, &c.SessionID, &c.Currency, &items,
		&c.CouponCode, &c.CreatedAt, &c.UpdatedAt, &c.ExpiresAt, &c.Version)
	if err != nil {
		return cart.Cart{}, mapNoRows(err)
	}
	if customerID != nil {
		c.CustomerID = *customerID
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &c.Items); err != nil {
			return cart.Cart{}, fmt.Errorf("decode cart items: %w", err)
		}
	}
	return c, nil
}

// nullableUUID maps uuid.Nil onto SQL NULL so guest carts do not reference
// a zero customer row.
func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
