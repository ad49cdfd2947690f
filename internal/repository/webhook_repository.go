package repository

import (
	"context"
	"database/sql"
	"fmt"
)

type WebhookEventRepository struct {
	db *sql.DB
}

func NewWebhookEventRepository(db *sql.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// Record stores the event id and reports false if it was seen before.
func (r *WebhookEventRepository) Record(ctx context.Context, provider, eventID, eventType string) (bool, error) {
	const query = `
INSERT INTO webhook_events (provider, event_id, event_type)
VALUES ($1, $2, $3)
ON CONFLICT (provider, event_id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, provider, eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("insert webhook event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("webhook rows affected: %w", err)
	}
	return affected > 0, nil
}

// Forget removes a recorded event so a failed delivery can be retried by the provider.
func (r *WebhookEventRepository) Forget(ctx context.Context, provider, eventID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM webhook_events WHERE provider = $1 AND event_id = $2`, provider, eventID); err != nil {
		return fmt.Errorf("delete webhook event: %w", err)
	}
	return nil
}
