package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/skechum/internal/models"
)

type PlanRepository struct {
	db *sql.DB
}

func NewPlanRepository(db *sql.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

const planColumns = `id, product_id, name, description, credits, price_minor_units, currency, is_active, created_at, updated_at`

func (r *PlanRepository) ListActive(ctx context.Context) ([]models.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE is_active ORDER BY price_minor_units ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	plans := []models.Plan{}
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, *plan)
	}
	return plans, rows.Err()
}

func (r *PlanRepository) GetByID(ctx context.Context, id int64) (*models.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetByProductID looks a plan up by the payment provider's product (or price) id.
func (r *PlanRepository) GetByProductID(ctx context.Context, productID string) (*models.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE product_id = $1`
	return r.getOne(ctx, query, productID)
}

func (r *PlanRepository) getOne(ctx context.Context, query string, arg any) (*models.Plan, error) {
	plan, err := scanPlan(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan plan: %w", err)
	}
	return plan, nil
}

func scanPlan(row rowScanner) (*models.Plan, error) {
	var p models.Plan
	if err := row.Scan(&p.ID, &p.ProductID, &p.Name, &p.Description, &p.Credits, &p.PriceMinorUnits, &p.Currency, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
