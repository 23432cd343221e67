package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"killtracker/internal/models"

	"go.uber.org/zap"
)

// WebhookRepository reads webhooks.
type WebhookRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewWebhookRepository(db *sql.DB, logger *zap.Logger) *WebhookRepository {
	return &WebhookRepository{db: db, logger: logger}
}

// GetWebhook returns the webhook with id, or ErrNotFound.
func (r *WebhookRepository) GetWebhook(ctx context.Context, id int64) (*models.Webhook, error) {
	query := `SELECT id, name, url, is_enabled FROM killtracker_webhooks WHERE id = $1`

	var w models.Webhook
	err := r.db.QueryRowContext(ctx, query, id).Scan(&w.ID, &w.Name, &w.URL, &w.IsEnabled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("webhook %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query webhook: %w", err)
	}
	return &w, nil
}

// ListEnabled returns all enabled webhooks ordered by id.
func (r *WebhookRepository) ListEnabled(ctx context.Context) ([]*models.Webhook, error) {
	query := `SELECT id, name, url, is_enabled FROM killtracker_webhooks WHERE is_enabled = TRUE ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []*models.Webhook
	for rows.Next() {
		var w models.Webhook
		if err := rows.Scan(&w.ID, &w.Name, &w.URL, &w.IsEnabled); err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		webhooks = append(webhooks, &w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate webhooks: %w", err)
	}
	return webhooks, nil
}
