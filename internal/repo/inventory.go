package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/amara-dev/backend-soko/internal/common"
	"github.com/amara-dev/backend-soko/internal/inventory"
)

// InventoryStore backs the inventory ledger. SetQuantity is the write half
// of the service's read-modify-write loop; it only lands when the version
// observed at read time is still current.
type InventoryStore struct {
	DB DB
}

var _ inventory.Store = (*InventoryStore)(nil)

func (s *InventoryStore) Get(ctx context.Context, variantID uuid.UUID) (inventory.Record, error) {
	var rec inventory.Record
	err := s.DB.QueryRow(ctx, `
		SELECT variant_id, quantity, low_stock_threshold, track_inventory, allow_backorder, version
		FROM inventory
		WHERE variant_id = $1`, variantID).
		Scan(&rec.VariantID, &rec.Quantity, &rec.LowStockThreshold, &rec.TrackInventory, &rec.AllowBackorder, &rec.Version)
	if err != nil {
		return inventory.Record{}, mapNoRows(err)
	}
	return rec, nil
}

func (s *InventoryStore) SetQuantity(ctx context.Context, variantID uuid.UUID, quantity, version int64) error {
	tag, err := s.DB.Exec(ctx, `
		UPDATE inventory
		SET quantity = $3, version = version + 1, updated_at = now()
		WHERE variant_id = $1 AND version = $2`,
		variantID, version, quantity)
	if err != nil {
		return fmt.Errorf("set inventory quantity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.DB.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM inventory WHERE variant_id = $1)`, variantID).Scan(&exists); err != nil {
			return fmt.Errorf("check inventory existence: %w", err)
		}
		if !exists {
			return common.ErrNotFound
		}
		return common.ErrVersionConflict
	}
	return nil
}
