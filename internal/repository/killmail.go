package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"killtracker/internal/models"

	"github.com/golang/snappy"
	"go.uber.org/zap"
)

// KillmailRepository persists killmails as snappy-compressed JSON.
type KillmailRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewKillmailRepository(db *sql.DB, logger *zap.Logger) *KillmailRepository {
	return &KillmailRepository{db: db, logger: logger}
}

// Store inserts km. It returns false without error when the id already exists.
func (r *KillmailRepository) Store(ctx context.Context, km *models.Killmail) (bool, error) {
	data, err := km.AsJSON()
	if err != nil {
		return false, fmt.Errorf("failed to serialize %s: %w", km, err)
	}

	query := `
		INSERT INTO killtracker_killmails (id, killmail_time, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`
	result, err := r.db.ExecContext(ctx, query, km.ID, km.Time, snappy.Encode(nil, data))
	if err != nil {
		return false, fmt.Errorf("failed to store %s: %w", km, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// Get loads the killmail with id, or ErrNotFound.
func (r *KillmailRepository) Get(ctx context.Context, id int64) (*models.Killmail, error) {
	var compressed []byte
	err := r.db.QueryRowContext(ctx, `SELECT data FROM killtracker_killmails WHERE id = $1`, id).Scan(&compressed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("killmail %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query killmail: %w", err)
	}
	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress killmail %d: %w", id, err)
	}
	return models.KillmailFromJSON(data)
}

// DeleteStale removes killmails stored before the given time and returns
// how many were removed.
func (r *KillmailRepository) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM killtracker_killmails WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale killmails: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
