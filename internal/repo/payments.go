package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/amara-dev/backend-soko/internal/common"
	"github.com/amara-dev/backend-soko/internal/payment"
)

// PaymentStore persists payment transactions. The webhook path and the
// synchronous verify path both funnel through the version-checked Update.
type PaymentStore struct {
	DB DB
}

var _ payment.Store = (*PaymentStore)(nil)

const txColumns = `id, order_id, gateway, method, status, amount, currency,
	fee_amount, net_amount, refunded, reference, gateway_ref,
	customer_phone, customer_email, description,
	initiated_at, processed_at, failed_at, expires_at,
	created_at, updated_at, version`

func (s *PaymentStore) Insert(ctx context.Context, tx payment.Transaction) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO payment_transactions (`+txColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, 1)`,
		tx.ID, tx.OrderID, tx.Gateway, tx.Method, tx.Status, tx.Amount, tx.Currency,
		tx.FeeAmount, tx.NetAmount, tx.Refunded, tx.Reference, tx.GatewayRef,
		tx.CustomerPhone, tx.CustomerEmail, tx.Description,
		tx.InitiatedAt, tx.ProcessedAt, tx.FailedAt, tx.ExpiresAt,
		tx.CreatedAt, tx.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return payment.ErrPendingExists
		}
		return fmt.Errorf("insert payment transaction: %w", err)
	}
	return nil
}

func (s *PaymentStore) Get(ctx context.Context, id uuid.UUID) (payment.Transaction, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+txColumns+` FROM payment_transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

func (s *PaymentStore) GetByReference(ctx context.Context, reference string) (payment.Transaction, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+txColumns+` FROM payment_transactions WHERE reference = $1`, reference)
	return scanTransaction(row)
}

func (s *PaymentStore) LatestByOrder(ctx context.Context, orderID uuid.UUID) (payment.Transaction, error) {
	row := s.DB.QueryRow(ctx, `
		SELECT `+txColumns+`
		FROM payment_transactions
		WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, orderID)
	return scanTransaction(row)
}

func (s *PaymentStore) Update(ctx context.Context, tx payment.Transaction) error {
	tag, err := s.DB.Exec(ctx, `
		UPDATE payment_transactions
		SET status = $3, fee_amount = $4, net_amount = $5, refunded = $6, gateway_ref = $7,
		    processed_at = $8, failed_at = $9, updated_at = $10, version = version + 1
		WHERE id = $1 AND version = $2`,
		tx.ID, tx.Version, tx.Status, tx.FeeAmount, tx.NetAmount, tx.Refunded, tx.GatewayRef,
		tx.ProcessedAt, tx.FailedAt, tx.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update payment transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.DB.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payment_transactions WHERE id = $1)`, tx.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check payment transaction existence: %w", err)
		}
		if !exists {
			return payment.ErrTransactionNotFound
		}
		return common.ErrVersionConflict
	}
	return nil
}

func (s *PaymentStore) ListExpired(ctx context.Context, cutoff time.Time, limit int32) ([]payment.Transaction, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT `+txColumns+`
		FROM payment_transactions
		WHERE status = $1 AND expires_at <= $2
		ORDER BY expires_at
		LIMIT $3`, payment.TxPending, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired transactions: %w", err)
	}
	defer rows.Close()

	var out []payment.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func scanTransaction(row rowScanner) (payment.Transaction, error) {
	var tx payment.Transaction
	err := row.Scan(&tx.ID, &tx.OrderID, &tx.Gateway, &tx.Method, &tx.Status, &tx.Amount, &tx.Currency,
		&tx.FeeAmount, &tx.NetAmount, &tx.Refunded, &tx.Reference, &tx.GatewayRef,
		&tx.CustomerPhone, &tx.CustomerEmail, &tx.Description,
		&tx.InitiatedAt, &tx.ProcessedAt, &tx.FailedAt, &tx.ExpiresAt,
		&tx.CreatedAt, &tx.UpdatedAt, &tx.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payment.Transaction{}, payment.ErrTransactionNotFound
		}
		return payment.Transaction{}, err
	}
	return tx, nil
}
