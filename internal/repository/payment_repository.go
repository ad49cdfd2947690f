package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/skechum/internal/models"
)

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create inserts the payment unless a row with the same external payment_id
// exists. It reports whether this call created the row.
func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) (bool, error) {
	const query = `
INSERT INTO payments (payment_id, user_id, provider, amount, currency, status, credits_added, plan_id, product_id, plan_name, raw_payload)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''))
ON CONFLICT (payment_id) DO NOTHING
RETURNING id, created_at, updated_at`
	row := r.db.QueryRowContext(ctx, query,
		payment.PaymentID, payment.UserID, payment.Provider, payment.Amount, payment.Currency,
		payment.Status, payment.CreditsAdded, payment.PlanID, payment.ProductID, payment.PlanName, payment.RawPayload,
	)
	if err := row.Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("insert payment: %w", err)
	}
	return true, nil
}

// MarkSucceeded moves a non-succeeded payment to succeeded. It reports false
// when the payment was already succeeded, so credits are granted once.
func (r *PaymentRepository) MarkSucceeded(ctx context.Context, id int64, creditsAdded int, payload string) (bool, error) {
	const query = `
UPDATE payments SET status = 'succeeded', credits_added = $2, raw_payload = NULLIF($3, ''), updated_at = NOW()
WHERE id = $1 AND status <> 'succeeded'`
	res, err := r.db.ExecContext(ctx, query, id, creditsAdded, payload)
	if err != nil {
		return false, fmt.Errorf("mark payment succeeded: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("payment rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *PaymentRepository) UpdateStatus(ctx context.Context, id int64, status models.PaymentStatus, payload string) error {
	const query = `UPDATE payments SET status = $2, raw_payload = NULLIF($3, ''), updated_at = NOW() WHERE id = $1 AND status <> 'succeeded'`
	if _, err := r.db.ExecContext(ctx, query, id, status, payload); err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	return nil
}

func (r *PaymentRepository) FindByPaymentID(ctx context.Context, paymentID string) (*models.Payment, error) {
	const query = `
SELECT id, payment_id, user_id, provider, amount, currency, status, credits_added, plan_id, COALESCE(product_id, ''), COALESCE(plan_name, ''), COALESCE(raw_payload, ''), created_at, updated_at
FROM payments WHERE payment_id = $1`
	var p models.Payment
	var planID sql.NullInt64
	err := r.db.QueryRowContext(ctx, query, paymentID).Scan(
		&p.ID, &p.PaymentID, &p.UserID, &p.Provider, &p.Amount, &p.Currency, &p.Status, &p.CreditsAdded,
		&planID, &p.ProductID, &p.PlanName, &p.RawPayload, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	if planID.Valid {
		p.PlanID = &planID.Int64
	}
	return &p, nil
}
