package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/chatsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncFixture struct {
	devices   *fakeDeviceRepo
	events    *fakeEventRepo
	conflicts *fakeConflictRepo
	configs   *fakeConfigRepo
	entities  *fakeEntityStore
	service   *SyncService
	accountID uuid.UUID
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()

	f := &syncFixture{
		devices:   newFakeDeviceRepo(),
		events:    newFakeEventRepo(),
		conflicts: newFakeConflictRepo(),
		configs:   newFakeConfigRepo(),
		entities:  newFakeEntityStore(),
		accountID: uuid.New(),
	}
	f.service = NewSyncService(f.devices, f.events, f.conflicts, f.configs, f.entities, newTestLogger())
	return f
}

// TestSyncService_RegisterDeviceIsIdempotent: registering the same
// fingerprint twice returns the same device.
func TestSyncService_RegisterDeviceIsIdempotent(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	first, err := f.service.RegisterDevice(ctx, f.accountID, "machine-abc")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, first.ID)

	second, err := f.service.RegisterDevice(ctx, f.accountID, "machine-abc")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	devices, err := f.devices.GetDevicesByAccountID(ctx, f.accountID)
	require.NoError(t, err)
	assert.Len(t, devices, 1)
}

// TestSyncService_RegisterDeviceRejectsForeignFingerprint: a fingerprint
// owned by another account is never reassigned.
func TestSyncService_RegisterDeviceRejectsForeignFingerprint(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	_, err := f.service.RegisterDevice(ctx, uuid.New(), "shared-machine")
	require.NoError(t, err)

	_, err = f.service.RegisterDevice(ctx, f.accountID, "shared-machine")
	assert.ErrorIs(t, err, ErrDeviceNotOwned)
}

func TestSyncService_RegisterDeviceRequiresFingerprint(t *testing.T) {
	f := newSyncFixture(t)

	_, err := f.service.RegisterDevice(context.Background(), f.accountID, "")
	assert.Error(t, err)
}

// TestSyncService_StatusHealth walks the health ladder from never-synced
// through healthy, stale, and outdated checkpoints.
func TestSyncService_StatusHealth(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	device, err := f.service.RegisterDevice(ctx, f.accountID, "machine-health")
	require.NoError(t, err)

	status, err := f.service.Status(ctx, f.accountID, device.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncHealthNeverSynced, status.Health)

	cases := []struct {
		age    time.Duration
		health models.SyncHealth
	}{
		{time.Hour, models.SyncHealthHealthy},
		{36 * time.Hour, models.SyncHealthStale},
		{8 * 24 * time.Hour, models.SyncHealthOutdated},
	}
	for _, tc := range cases {
		// TouchLastSync is monotonic, so walk from newest to oldest by
		// resetting the checkpoint directly.
		f.devices.mu.Lock()
		ts := time.Now().UTC().Add(-tc.age)
		f.devices.devices[device.ID].LastSyncAt = &ts
		f.devices.mu.Unlock()

		status, err := f.service.Status(ctx, f.accountID, device.ID)
		require.NoError(t, err)
		assert.Equal(t, tc.health, status.Health, "checkpoint age %v", tc.age)
	}
}

// TestSyncService_StatusCounts checks pending event and unresolved
// conflict counters.
func TestSyncService_StatusCounts(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	device, err := f.service.RegisterDevice(ctx, f.accountID, "machine-counts")
	require.NoError(t, err)

	checkpoint := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, f.devices.TouchLastSync(ctx, device.ID, checkpoint))

	entityID := uuid.New()
	for i := 0; i < 3; i++ {
		require.NoError(t, f.events.Append(ctx, nil, &models.SyncEvent{
			ID:         uuid.New(),
			AccountID:  f.accountID,
			DeviceID:   uuid.New(),
			EntityType: models.EntityTypeConversation,
			EntityID:   entityID,
			Operation:  models.OperationUpdate,
			Payload:    conversationPayload(t, entityID, "pending"),
			Timestamp:  checkpoint.Add(time.Duration(i+1) * time.Minute),
			Committed:  true,
		}))
	}
	// One event behind the checkpoint does not count.
	require.NoError(t, f.events.Append(ctx, nil, &models.SyncEvent{
		ID:         uuid.New(),
		AccountID:  f.accountID,
		DeviceID:   uuid.New(),
		EntityType: models.EntityTypeConversation,
		EntityID:   entityID,
		Operation:  models.OperationUpdate,
		Payload:    conversationPayload(t, entityID, "seen"),
		Timestamp:  checkpoint.Add(-time.Minute),
		Committed:  true,
	}))

	require.NoError(t, f.conflicts.Save(ctx, &models.Conflict{
		ID:        uuid.New(),
		AccountID: f.accountID,
		DeviceID:  device.ID,
		Status:    models.ConflictStatusUnresolved,
	}))
	require.NoError(t, f.conflicts.Save(ctx, &models.Conflict{
		ID:        uuid.New(),
		AccountID: f.accountID,
		DeviceID:  device.ID,
		Status:    models.ConflictStatusResolved,
	}))

	status, err := f.service.Status(ctx, f.accountID, device.ID)

	require.NoError(t, err)
	assert.EqualValues(t, 3, status.PendingEvents)
	assert.Equal(t, 1, status.UnresolvedConflicts)
}

// TestSyncService_ForceSync materializes entity state directly from the
// store, full or incremental.
func TestSyncService_ForceSync(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	device, err := f.service.RegisterDevice(ctx, f.accountID, "machine-force")
	require.NoError(t, err)

	now := time.Now().UTC()
	oldEntity := uuid.New()
	newEntity := uuid.New()
	deletedEntity := uuid.New()

	apply := func(entityID uuid.UUID, op models.Operation, ts time.Time) {
		require.NoError(t, f.entities.Apply(ctx, nil, &models.SyncEvent{
			ID:         uuid.New(),
			AccountID:  f.accountID,
			EntityType: models.EntityTypeConversation,
			EntityID:   entityID,
			Operation:  op,
			Payload:    conversationPayload(t, entityID, "snapshot"),
			Timestamp:  ts,
		}))
	}
	apply(oldEntity, models.OperationUpdate, now.Add(-2*time.Hour))
	apply(newEntity, models.OperationUpdate, now.Add(-time.Minute))
	apply(deletedEntity, models.OperationDelete, now.Add(-time.Minute))

	// Full sync returns everything including tombstones.
	full, err := f.service.ForceSync(ctx, f.accountID, device.ID, models.EntityTypeConversation, true)
	require.NoError(t, err)
	assert.Len(t, full, 3)

	// Incremental from a checkpoint between the two writes returns only
	// the fresh live entity.
	f.devices.mu.Lock()
	checkpoint := now.Add(-time.Hour)
	f.devices.devices[device.ID].LastSyncAt = &checkpoint
	f.devices.mu.Unlock()

	incremental, err := f.service.ForceSync(ctx, f.accountID, device.ID, models.EntityTypeConversation, false)
	require.NoError(t, err)
	require.Len(t, incremental, 1)
	assert.Equal(t, newEntity, incremental[0].EntityID)

	_, err = f.service.ForceSync(ctx, f.accountID, device.ID, "calendar", false)
	assert.Error(t, err)
}

func TestSyncService_GetConfigDefaults(t *testing.T) {
	f := newSyncFixture(t)

	config, err := f.service.GetConfig(context.Background(), f.accountID)

	require.NoError(t, err)
	assert.Equal(t, models.SyncModeHybrid, config.Mode)
	assert.True(t, config.AutoSync)
}

func TestSyncService_SetConfigRoundTrip(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	saved, err := f.service.SetConfig(ctx, &models.SyncConfig{
		AccountID:      f.accountID,
		Mode:           models.SyncModeCloudOnly,
		AutoSync:       false,
		SyncIntervalMs: 60000,
	})
	require.NoError(t, err)
	assert.Equal(t, models.SyncModeCloudOnly, saved.Mode)

	loaded, err := f.service.GetConfig(ctx, f.accountID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncModeCloudOnly, loaded.Mode)
	assert.EqualValues(t, 60000, loaded.SyncIntervalMs)
}

func TestSyncService_SetConfigValidation(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	_, err := f.service.SetConfig(ctx, &models.SyncConfig{
		AccountID:      f.accountID,
		Mode:           "offline-first",
		SyncIntervalMs: 30000,
	})
	assert.Error(t, err)

	_, err = f.service.SetConfig(ctx, &models.SyncConfig{
		AccountID:      f.accountID,
		Mode:           models.SyncModeHybrid,
		SyncIntervalMs: 0,
	})
	assert.Error(t, err)
}
