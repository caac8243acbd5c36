package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/chatsync/internal/models"
)

type PostgresSyncConfigRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresSyncConfigRepository(pool *pgxpool.Pool) *PostgresSyncConfigRepository {
	return &PostgresSyncConfigRepository{pool: pool}
}

func (r *PostgresSyncConfigRepository) Get(ctx context.Context, accountID uuid.UUID) (*models.SyncConfig, error) {
	query := `SELECT account_id, mode, auto_sync, sync_interval_ms, updated_at
	          FROM sync_configs
	          WHERE account_id = $1`

	var config models.SyncConfig
	err := r.pool.QueryRow(ctx, query, accountID).Scan(
		&config.AccountID,
		&config.Mode,
		&config.AutoSync,
		&config.SyncIntervalMs,
		&config.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync config: %w", err)
	}
	return &config, nil
}

func (r *PostgresSyncConfigRepository) Upsert(ctx context.Context, config *models.SyncConfig) error {
	query := `INSERT INTO sync_configs (account_id, mode, auto_sync, sync_interval_ms)
	          VALUES ($1, $2, $3, $4)
	          ON CONFLICT (account_id) DO UPDATE
	              SET mode = EXCLUDED.mode,
	                  auto_sync = EXCLUDED.auto_sync,
	                  sync_interval_ms = EXCLUDED.sync_interval_ms,
	                  updated_at = NOW()
	          RETURNING updated_at`

	err := r.pool.QueryRow(ctx, query,
		config.AccountID,
		config.Mode,
		config.AutoSync,
		config.SyncIntervalMs,
	).Scan(&config.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert sync config: %w", err)
	}
	return nil
}
