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

// ErrFingerprintTaken is returned when a fingerprint is already registered
// under a different account. Ownership is never silently reassigned.
var ErrFingerprintTaken = errors.New("fingerprint registered to another account")

type PostgresDeviceRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresDeviceRepository(pool *pgxpool.Pool) *PostgresDeviceRepository {
	return &PostgresDeviceRepository{pool: pool}
}

func (r *PostgresDeviceRepository) UpsertByFingerprint(ctx context.Context, device *models.Device) error {
	// The no-op DO UPDATE makes repeat registration from the same account
	// return the existing row; a fingerprint held by another account
	// matches the conflict but fails the WHERE guard and returns no row.
	query := `INSERT INTO devices (account_id, fingerprint)
	          VALUES ($1, $2)
	          ON CONFLICT (fingerprint) DO UPDATE SET updated_at = NOW()
	          WHERE devices.account_id = EXCLUDED.account_id
	          RETURNING id, account_id, last_sync_at, created_at, updated_at`

	err := r.pool.QueryRow(ctx, query, device.AccountID, device.Fingerprint).Scan(
		&device.ID,
		&device.AccountID,
		&device.LastSyncAt,
		&device.CreatedAt,
		&device.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return ErrFingerprintTaken
	}
	if err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}
	return nil
}

func (r *PostgresDeviceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Device, error) {
	query := `SELECT id, account_id, fingerprint, last_sync_at, created_at, updated_at
	          FROM devices
	          WHERE id = $1`

	var device models.Device
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&device.ID,
		&device.AccountID,
		&device.Fingerprint,
		&device.LastSyncAt,
		&device.CreatedAt,
		&device.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return &device, nil
}

func (r *PostgresDeviceRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*models.Device, error) {
	query := `SELECT id, account_id, fingerprint, last_sync_at, created_at, updated_at
	          FROM devices
	          WHERE fingerprint = $1`

	var device models.Device
	err := r.pool.QueryRow(ctx, query, fingerprint).Scan(
		&device.ID,
		&device.AccountID,
		&device.Fingerprint,
		&device.LastSyncAt,
		&device.CreatedAt,
		&device.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device by fingerprint: %w", err)
	}
	return &device, nil
}

func (r *PostgresDeviceRepository) GetDevicesByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.Device, error) {
	query := `SELECT id, account_id, fingerprint, last_sync_at, created_at, updated_at
	          FROM devices
	          WHERE account_id = $1
	          ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		var device models.Device
		err := rows.Scan(
			&device.ID,
			&device.AccountID,
			&device.Fingerprint,
			&device.LastSyncAt,
			&device.CreatedAt,
			&device.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, &device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating devices: %w", err)
	}

	return devices, nil
}

// TouchLastSync is a compare-and-set: the checkpoint only ever advances.
// A stale timestamp from an out-of-order pull completion matches zero rows
// and is dropped without error.
func (r *PostgresDeviceRepository) TouchLastSync(ctx context.Context, deviceID uuid.UUID, ts time.Time) error {
	query := `UPDATE devices
	          SET last_sync_at = $1, updated_at = NOW()
	          WHERE id = $2 AND (last_sync_at IS NULL OR last_sync_at < $1)`

	_, err := r.pool.Exec(ctx, query, ts, deviceID)
	if err != nil {
		return fmt.Errorf("failed to touch last sync: %w", err)
	}
	return nil
}

func (r *PostgresDeviceRepository) OldestLastSync(ctx context.Context, accountID uuid.UUID) (time.Time, bool, error) {
	query := `SELECT MIN(last_sync_at), COUNT(*) FILTER (WHERE last_sync_at IS NULL)
	          FROM devices
	          WHERE account_id = $1`

	var oldest *time.Time
	var neverSynced int64
	err := r.pool.QueryRow(ctx, query, accountID).Scan(&oldest, &neverSynced)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get oldest last sync: %w", err)
	}

	if oldest == nil || neverSynced > 0 {
		return time.Time{}, true, nil
	}
	return *oldest, false, nil
}

func (r *PostgresDeviceRepository) AccountIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT account_id FROM devices`)
	if err != nil {
		return nil, fmt.Errorf("failed to query device accounts: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan account id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating device accounts: %w", err)
	}
	return ids, nil
}
