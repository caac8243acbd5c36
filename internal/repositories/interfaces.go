package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/chatsync/internal/models"
)

type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	Update(ctx context.Context, account *models.Account) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type DeviceRepository interface {
	// UpsertByFingerprint registers a device on first contact and is a
	// no-op on repeat registration from the same installation.
	UpsertByFingerprint(ctx context.Context, device *models.Device) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Device, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (*models.Device, error)
	GetDevicesByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.Device, error)
	// TouchLastSync advances the device checkpoint; it never moves it
	// backward, so overlapping pulls may complete in any order.
	TouchLastSync(ctx context.Context, deviceID uuid.UUID, ts time.Time) error
	// OldestLastSync returns the minimum checkpoint across the account's
	// devices. neverSynced reports whether some device has no checkpoint
	// at all, in which case nothing may be compacted.
	OldestLastSync(ctx context.Context, accountID uuid.UUID) (oldest time.Time, neverSynced bool, err error)
	// AccountIDs lists accounts that have at least one registered device.
	AccountIDs(ctx context.Context) ([]uuid.UUID, error)
}

type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id string) (*models.Session, error)
	ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.Session, error)
	Delete(ctx context.Context, id string) error
	DeleteAllForAccount(ctx context.Context, accountID uuid.UUID) error
}

type SyncEventRepository interface {
	// Append inserts a single event. Appending an id that already exists
	// returns ErrDuplicateEvent; the log is never rewritten in place.
	Append(ctx context.Context, q Querier, event *models.SyncEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.SyncEvent, error)
	// Since returns events strictly after checkpoint in ascending
	// timestamp order, capped at limit.
	Since(ctx context.Context, accountID uuid.UUID, checkpoint time.Time, limit int, includeUncommitted bool) ([]*models.SyncEvent, error)
	// Near returns committed events for the same entity within the given
	// window around ts, excluding the named device.
	Near(ctx context.Context, accountID uuid.UUID, entityType models.EntityType, entityID uuid.UUID, ts time.Time, window time.Duration, excludeDeviceID uuid.UUID) ([]*models.SyncEvent, error)
	CountSince(ctx context.Context, accountID uuid.UUID, checkpoint time.Time) (int64, error)
	MarkCommitted(ctx context.Context, q Querier, id uuid.UUID) error
	// LogHorizon returns the account's earliest retained timestamp set by
	// compaction; events older than it cannot be re-appended.
	LogHorizon(ctx context.Context, accountID uuid.UUID) (time.Time, error)
	SetLogHorizon(ctx context.Context, accountID uuid.UUID, horizon time.Time) error
	// DeleteObservedBefore purges events older than cutoff.
	DeleteObservedBefore(ctx context.Context, accountID uuid.UUID, cutoff time.Time) (int64, error)
	// ConsolidateEntities trims per-entity history down to keep events
	// wherever more than threshold exist, touching only events already
	// observed by every device (timestamp < observedBefore).
	ConsolidateEntities(ctx context.Context, accountID uuid.UUID, threshold, keep int, observedBefore time.Time) (int64, error)
}

type ConflictRepository interface {
	Save(ctx context.Context, conflict *models.Conflict) error
	GetByID(ctx context.Context, accountID, id uuid.UUID) (*models.Conflict, error)
	GetByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.Conflict, error)
	CountUnresolved(ctx context.Context, accountID, deviceID uuid.UUID) (int, error)
	Delete(ctx context.Context, accountID, id uuid.UUID) error
}

type SyncConfigRepository interface {
	Get(ctx context.Context, accountID uuid.UUID) (*models.SyncConfig, error)
	Upsert(ctx context.Context, config *models.SyncConfig) error
}

// EntityStore applies committed sync events to the conversation and
// message tables and materializes current entity state. The log records
// intent; the entity store holds truth.
type EntityStore interface {
	Apply(ctx context.Context, q Querier, event *models.SyncEvent) error
	Snapshot(ctx context.Context, accountID uuid.UUID, entityType models.EntityType, entityID uuid.UUID) (*models.EntitySnapshot, error)
	List(ctx context.Context, accountID uuid.UUID, entityType models.EntityType, since *time.Time, includeDeleted bool) ([]*models.EntitySnapshot, error)
}
