package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/skechum/internal/models"
)

// ErrInsufficientCredits is returned when a deduction would take the balance below zero.
var ErrInsufficientCredits = errors.New("insufficient credits")

type CreditRepository struct {
	db *sql.DB
}

func NewCreditRepository(db *sql.DB) *CreditRepository {
	return &CreditRepository{db: db}
}

func (r *CreditRepository) Get(ctx context.Context, userID string) (*models.UserCredits, error) {
	const query = `SELECT user_id, balance, updated_at FROM user_credits WHERE user_id = $1`
	var c models.UserCredits
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&c.UserID, &c.Balance, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user credits: %w", err)
	}
	return &c, nil
}

// Create inserts an empty balance row. It reports false when the row already existed.
func (r *CreditRepository) Create(ctx context.Context, userID string) (bool, error) {
	const query = `INSERT INTO user_credits (user_id, balance) VALUES ($1, 0) ON CONFLICT (user_id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return false, fmt.Errorf("insert user credits: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("credits rows affected: %w", err)
	}
	return affected > 0, nil
}

// Apply moves the balance by entry.Amount through the credit RPCs and writes
// the ledger row in the same transaction. Balance and ID fields of entry are filled in.
func (r *CreditRepository) Apply(ctx context.Context, entry *models.CreditLog) error {
	if entry.Amount == 0 {
		return fmt.Errorf("credit amount must not be zero")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var after sql.NullInt64
	if entry.Amount > 0 {
		err = tx.QueryRowContext(ctx, `SELECT increment_credits($1, $2)`, entry.UserID, entry.Amount).Scan(&after)
	} else {
		err = tx.QueryRowContext(ctx, `SELECT deduct_credits($1, $2)`, entry.UserID, -entry.Amount).Scan(&after)
	}
	if err != nil {
		return fmt.Errorf("credit rpc: %w", err)
	}
	if !after.Valid {
		return ErrInsufficientCredits
	}

	entry.BalanceAfter = int(after.Int64)
	entry.BalanceBefore = entry.BalanceAfter - entry.Amount

	const insert = `
INSERT INTO credit_logs (user_id, amount, type, balance_before, balance_after, payment_id, reference)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''))
RETURNING id, created_at`
	row := tx.QueryRowContext(ctx, insert, entry.UserID, entry.Amount, entry.Type, entry.BalanceBefore, entry.BalanceAfter, entry.PaymentID, entry.Reference)
	if err := row.Scan(&entry.ID, &entry.CreatedAt); err != nil {
		return fmt.Errorf("insert credit log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit credit tx: %w", err)
	}
	return nil
}

func (r *CreditRepository) Logs(ctx context.Context, userID string, limit, offset int) ([]models.CreditLog, error) {
	const query = `
SELECT id, user_id, amount, type, balance_before, balance_after, COALESCE(payment_id, ''), COALESCE(reference, ''), created_at
FROM credit_logs
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list credit logs: %w", err)
	}
	defer rows.Close()

	var logs []models.CreditLog
	for rows.Next() {
		var l models.CreditLog
		if err := rows.Scan(&l.ID, &l.UserID, &l.Amount, &l.Type, &l.BalanceBefore, &l.BalanceAfter, &l.PaymentID, &l.Reference, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan credit log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// FindByReference returns the latest ledger entry of typ recorded for reference.
func (r *CreditRepository) FindByReference(ctx context.Context, userID string, typ models.CreditLogType, reference string) (*models.CreditLog, error) {
	const query = `
SELECT id, user_id, amount, type, balance_before, balance_after, COALESCE(payment_id, ''), COALESCE(reference, ''), created_at
FROM credit_logs
WHERE user_id = $1 AND type = $2 AND reference = $3
ORDER BY id DESC
LIMIT 1`
	var l models.CreditLog
	err := r.db.QueryRowContext(ctx, query, userID, typ, reference).
		Scan(&l.ID, &l.UserID, &l.Amount, &l.Type, &l.BalanceBefore, &l.BalanceAfter, &l.PaymentID, &l.Reference, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan credit log: %w", err)
	}
	return &l, nil
}
