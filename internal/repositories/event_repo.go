package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/chatsync/internal/models"
)

// ErrDuplicateEvent is returned when an event id already exists in the log.
// Re-submitting a committed event is the client's idempotent retry path.
var ErrDuplicateEvent = errors.New("event already appended")

type PostgresSyncEventRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresSyncEventRepository(pool *pgxpool.Pool) *PostgresSyncEventRepository {
	return &PostgresSyncEventRepository{pool: pool}
}

// Append inserts one immutable log entry. It runs against the Querier so
// the push path can pair it with the entity mutation in one transaction.
func (r *PostgresSyncEventRepository) Append(ctx context.Context, q Querier, event *models.SyncEvent) error {
	if q == nil {
		q = r.pool
	}

	query := `INSERT INTO sync_events
	              (id, account_id, device_id, entity_type, entity_id, operation, payload, timestamp, committed)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	          ON CONFLICT (id) DO NOTHING`

	result, err := q.Exec(ctx, query,
		event.ID,
		event.AccountID,
		event.DeviceID,
		event.EntityType,
		event.EntityID,
		event.Operation,
		event.Payload,
		event.Timestamp,
		event.Committed,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrDuplicateEvent
	}
	return nil
}

func (r *PostgresSyncEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SyncEvent, error) {
	query := `SELECT id, account_id, device_id, entity_type, entity_id, operation, payload, timestamp, committed, created_at
	          FROM sync_events
	          WHERE id = $1`

	var event models.SyncEvent
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&event.ID,
		&event.AccountID,
		&event.DeviceID,
		&event.EntityType,
		&event.EntityID,
		&event.Operation,
		&event.Payload,
		&event.Timestamp,
		&event.Committed,
		&event.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return &event, nil
}

func (r *PostgresSyncEventRepository) Since(ctx context.Context, accountID uuid.UUID, checkpoint time.Time, limit int, includeUncommitted bool) ([]*models.SyncEvent, error) {
	query := `SELECT id, account_id, device_id, entity_type, entity_id, operation, payload, timestamp, committed, created_at
	          FROM sync_events
	          WHERE account_id = $1 AND timestamp > $2 AND (committed OR $3)
	          ORDER BY timestamp ASC
	          LIMIT $4`

	rows, err := r.pool.Query(ctx, query, accountID, checkpoint, includeUncommitted, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events since checkpoint: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (r *PostgresSyncEventRepository) Near(ctx context.Context, accountID uuid.UUID, entityType models.EntityType, entityID uuid.UUID, ts time.Time, window time.Duration, excludeDeviceID uuid.UUID) ([]*models.SyncEvent, error) {
	// Only committed events compete: an uncommitted event never made it
	// into entity state, so it cannot have been overwritten.
	query := `SELECT id, account_id, device_id, entity_type, entity_id, operation, payload, timestamp, committed, created_at
	          FROM sync_events
	          WHERE account_id = $1
	            AND entity_type = $2
	            AND entity_id = $3
	            AND device_id <> $4
	            AND committed
	            AND timestamp BETWEEN $5 AND $6
	          ORDER BY timestamp ASC`

	rows, err := r.pool.Query(ctx, query, accountID, entityType, entityID, excludeDeviceID, ts.Add(-window), ts.Add(window))
	if err != nil {
		return nil, fmt.Errorf("failed to query events near timestamp: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (r *PostgresSyncEventRepository) CountSince(ctx context.Context, accountID uuid.UUID, checkpoint time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM sync_events
	          WHERE account_id = $1 AND timestamp > $2 AND committed`

	var count int64
	if err := r.pool.QueryRow(ctx, query, accountID, checkpoint).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

func (r *PostgresSyncEventRepository) MarkCommitted(ctx context.Context, q Querier, id uuid.UUID) error {
	if q == nil {
		q = r.pool
	}

	result, err := q.Exec(ctx, `UPDATE sync_events SET committed = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark event committed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresSyncEventRepository) LogHorizon(ctx context.Context, accountID uuid.UUID) (time.Time, error) {
	query := `SELECT horizon FROM sync_horizons WHERE account_id = $1`

	var horizon time.Time
	err := r.pool.QueryRow(ctx, query, accountID).Scan(&horizon)
	if errors.Is(err, pgx.ErrNoRows) {
		// No compaction yet: the whole history is retained.
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get log horizon: %w", err)
	}
	return horizon, nil
}

func (r *PostgresSyncEventRepository) SetLogHorizon(ctx context.Context, accountID uuid.UUID, horizon time.Time) error {
	query := `INSERT INTO sync_horizons (account_id, horizon)
	          VALUES ($1, $2)
	          ON CONFLICT (account_id) DO UPDATE
	              SET horizon = GREATEST(sync_horizons.horizon, EXCLUDED.horizon)`

	if _, err := r.pool.Exec(ctx, query, accountID, horizon); err != nil {
		return fmt.Errorf("failed to set log horizon: %w", err)
	}
	return nil
}

func (r *PostgresSyncEventRepository) DeleteObservedBefore(ctx context.Context, accountID uuid.UUID, cutoff time.Time) (int64, error) {
	query := `DELETE FROM sync_events
	          WHERE account_id = $1 AND timestamp < $2`

	result, err := r.pool.Exec(ctx, query, accountID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete aged events: %w", err)
	}
	return result.RowsAffected(), nil
}

func (r *PostgresSyncEventRepository) ConsolidateEntities(ctx context.Context, accountID uuid.UUID, threshold, keep int, observedBefore time.Time) (int64, error) {
	query := `WITH ranked AS (
	              SELECT id,
	                     ROW_NUMBER() OVER (PARTITION BY entity_type, entity_id ORDER BY timestamp DESC) AS rn,
	                     COUNT(*)    OVER (PARTITION BY entity_type, entity_id) AS total
	              FROM sync_events
	              WHERE account_id = $1
	          )
	          DELETE FROM sync_events e
	          USING ranked r
	          WHERE e.id = r.id
	            AND r.total > $2
	            AND r.rn > $3
	            AND e.timestamp < $4`

	result, err := r.pool.Exec(ctx, query, accountID, threshold, keep, observedBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to consolidate entity history: %w", err)
	}
	return result.RowsAffected(), nil
}

func scanEvents(rows pgx.Rows) ([]*models.SyncEvent, error) {
	var events []*models.SyncEvent
	for rows.Next() {
		var event models.SyncEvent
		err := rows.Scan(
			&event.ID,
			&event.AccountID,
			&event.DeviceID,
			&event.EntityType,
			&event.EntityID,
			&event.Operation,
			&event.Payload,
			&event.Timestamp,
			&event.Committed,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}
