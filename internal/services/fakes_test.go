package services

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/chatsync/internal/models"
	"github.com/prudhvinik1/chatsync/internal/repositories"
	"github.com/sirupsen/logrus"
)

// In-memory fakes implementing the repository interfaces so the sync
// services can be exercised without Postgres or Redis.

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fakeDeviceRepo struct {
	mu      sync.Mutex
	devices map[uuid.UUID]*models.Device
}

func newFakeDeviceRepo() *fakeDeviceRepo {
	return &fakeDeviceRepo{devices: make(map[uuid.UUID]*models.Device)}
}

func (r *fakeDeviceRepo) UpsertByFingerprint(ctx context.Context, device *models.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.devices {
		if existing.Fingerprint == device.Fingerprint {
			if existing.AccountID != device.AccountID {
				return repositories.ErrFingerprintTaken
			}
			*device = *existing
			return nil
		}
	}
	device.ID = uuid.New()
	device.CreatedAt = time.Now()
	copied := *device
	r.devices[device.ID] = &copied
	return nil
}

func (r *fakeDeviceRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *device
	return &copied, nil
}

func (r *fakeDeviceRepo) GetByFingerprint(ctx context.Context, fingerprint string) (*models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, device := range r.devices {
		if device.Fingerprint == fingerprint {
			copied := *device
			return &copied, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *fakeDeviceRepo) GetDevicesByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var devices []*models.Device
	for _, device := range r.devices {
		if device.AccountID == accountID {
			copied := *device
			devices = append(devices, &copied)
		}
	}
	return devices, nil
}

func (r *fakeDeviceRepo) TouchLastSync(ctx context.Context, deviceID uuid.UUID, ts time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[deviceID]
	if !ok {
		return nil
	}
	if device.LastSyncAt == nil || device.LastSyncAt.Before(ts) {
		device.LastSyncAt = &ts
	}
	return nil
}

func (r *fakeDeviceRepo) OldestLastSync(ctx context.Context, accountID uuid.UUID) (time.Time, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var oldest *time.Time
	found := false
	for _, device := range r.devices {
		if device.AccountID != accountID {
			continue
		}
		found = true
		if device.LastSyncAt == nil {
			return time.Time{}, true, nil
		}
		if oldest == nil || device.LastSyncAt.Before(*oldest) {
			oldest = device.LastSyncAt
		}
	}
	if !found || oldest == nil {
		return time.Time{}, true, nil
	}
	return *oldest, false, nil
}

func (r *fakeDeviceRepo) AccountIDs(ctx context.Context) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, device := range r.devices {
		if !seen[device.AccountID] {
			seen[device.AccountID] = true
			ids = append(ids, device.AccountID)
		}
	}
	return ids, nil
}

type fakeEventRepo struct {
	mu       sync.Mutex
	events   map[uuid.UUID]*models.SyncEvent
	horizons map[uuid.UUID]time.Time
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{
		events:   make(map[uuid.UUID]*models.SyncEvent),
		horizons: make(map[uuid.UUID]time.Time),
	}
}

func (r *fakeEventRepo) Append(ctx context.Context, q repositories.Querier, event *models.SyncEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[event.ID]; ok {
		return repositories.ErrDuplicateEvent
	}
	copied := *event
	copied.CreatedAt = time.Now()
	r.events[event.ID] = &copied
	return nil
}

func (r *fakeEventRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.SyncEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.events[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *event
	return &copied, nil
}

func (r *fakeEventRepo) Since(ctx context.Context, accountID uuid.UUID, checkpoint time.Time, limit int, includeUncommitted bool) ([]*models.SyncEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var events []*models.SyncEvent
	for _, event := range r.events {
		if event.AccountID != accountID || !event.Timestamp.After(checkpoint) {
			continue
		}
		if !event.Committed && !includeUncommitted {
			continue
		}
		copied := *event
		events = append(events, &copied)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (r *fakeEventRepo) Near(ctx context.Context, accountID uuid.UUID, entityType models.EntityType, entityID uuid.UUID, ts time.Time, window time.Duration, excludeDeviceID uuid.UUID) ([]*models.SyncEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var events []*models.SyncEvent
	for _, event := range r.events {
		if event.AccountID != accountID || event.EntityType != entityType || event.EntityID != entityID {
			continue
		}
		if event.DeviceID == excludeDeviceID || !event.Committed {
			continue
		}
		if event.Timestamp.Before(ts.Add(-window)) || event.Timestamp.After(ts.Add(window)) {
			continue
		}
		copied := *event
		events = append(events, &copied)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })
	return events, nil
}

func (r *fakeEventRepo) CountSince(ctx context.Context, accountID uuid.UUID, checkpoint time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, event := range r.events {
		if event.AccountID == accountID && event.Committed && event.Timestamp.After(checkpoint) {
			count++
		}
	}
	return count, nil
}

func (r *fakeEventRepo) MarkCommitted(ctx context.Context, q repositories.Querier, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.events[id]
	if !ok {
		return repositories.ErrNotFound
	}
	event.Committed = true
	return nil
}

func (r *fakeEventRepo) LogHorizon(ctx context.Context, accountID uuid.UUID) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.horizons[accountID], nil
}

func (r *fakeEventRepo) SetLogHorizon(ctx context.Context, accountID uuid.UUID, horizon time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if horizon.After(r.horizons[accountID]) {
		r.horizons[accountID] = horizon
	}
	return nil
}

func (r *fakeEventRepo) DeleteObservedBefore(ctx context.Context, accountID uuid.UUID, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for id, event := range r.events {
		if event.AccountID == accountID && event.Timestamp.Before(cutoff) {
			delete(r.events, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *fakeEventRepo) ConsolidateEntities(ctx context.Context, accountID uuid.UUID, threshold, keep int, observedBefore time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byEntity := make(map[string][]*models.SyncEvent)
	for _, event := range r.events {
		if event.AccountID != accountID {
			continue
		}
		key := string(event.EntityType) + "/" + event.EntityID.String()
		byEntity[key] = append(byEntity[key], event)
	}

	var deleted int64
	for _, events := range byEntity {
		if len(events) <= threshold {
			continue
		}
		sort.Slice(events, func(i, j int) bool { return events[i].Timestamp.After(events[j].Timestamp) })
		for _, event := range events[keep:] {
			if event.Timestamp.Before(observedBefore) {
				delete(r.events, event.ID)
				deleted++
			}
		}
	}
	return deleted, nil
}

type fakeEntityStore struct {
	mu        sync.Mutex
	state     map[string]*models.EntitySnapshot
	updatedAt map[string]time.Time
	applied   []*models.SyncEvent
	failApply error
}

func newFakeEntityStore() *fakeEntityStore {
	return &fakeEntityStore{
		state:     make(map[string]*models.EntitySnapshot),
		updatedAt: make(map[string]time.Time),
	}
}

func entityKey(entityType models.EntityType, entityID uuid.UUID) string {
	return string(entityType) + "/" + entityID.String()
}

func (s *fakeEntityStore) Apply(ctx context.Context, q repositories.Querier, event *models.SyncEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failApply != nil {
		return s.failApply
	}
	copied := *event
	s.applied = append(s.applied, &copied)
	key := entityKey(event.EntityType, event.EntityID)
	s.state[key] = &models.EntitySnapshot{
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		Deleted:    event.Operation == models.OperationDelete,
		Data:       event.Payload,
	}
	s.updatedAt[key] = event.Timestamp
	return nil
}

func (s *fakeEntityStore) Snapshot(ctx context.Context, accountID uuid.UUID, entityType models.EntityType, entityID uuid.UUID) (*models.EntitySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, ok := s.state[entityKey(entityType, entityID)]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *snapshot
	return &copied, nil
}

func (s *fakeEntityStore) List(ctx context.Context, accountID uuid.UUID, entityType models.EntityType, since *time.Time, includeDeleted bool) ([]*models.EntitySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var snapshots []*models.EntitySnapshot
	for key, snapshot := range s.state {
		if snapshot.EntityType != entityType {
			continue
		}
		if snapshot.Deleted && !includeDeleted {
			continue
		}
		if since != nil && !s.updatedAt[key].After(*since) {
			continue
		}
		copied := *snapshot
		snapshots = append(snapshots, &copied)
	}
	return snapshots, nil
}

type fakeConflictRepo struct {
	mu        sync.Mutex
	conflicts map[uuid.UUID]*models.Conflict
}

func newFakeConflictRepo() *fakeConflictRepo {
	return &fakeConflictRepo{conflicts: make(map[uuid.UUID]*models.Conflict)}
}

func (r *fakeConflictRepo) Save(ctx context.Context, conflict *models.Conflict) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *conflict
	r.conflicts[conflict.ID] = &copied
	return nil
}

func (r *fakeConflictRepo) GetByID(ctx context.Context, accountID, id uuid.UUID) (*models.Conflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conflict, ok := r.conflicts[id]
	if !ok || conflict.AccountID != accountID {
		return nil, repositories.ErrNotFound
	}
	copied := *conflict
	return &copied, nil
}

func (r *fakeConflictRepo) GetByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.Conflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var conflicts []*models.Conflict
	for _, conflict := range r.conflicts {
		if conflict.AccountID == accountID {
			copied := *conflict
			conflicts = append(conflicts, &copied)
		}
	}
	return conflicts, nil
}

func (r *fakeConflictRepo) CountUnresolved(ctx context.Context, accountID, deviceID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, conflict := range r.conflicts {
		if conflict.AccountID != accountID || conflict.Status == models.ConflictStatusResolved {
			continue
		}
		if deviceID == uuid.Nil || conflict.DeviceID == deviceID {
			count++
		}
	}
	return count, nil
}

func (r *fakeConflictRepo) Delete(ctx context.Context, accountID, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conflicts, id)
	return nil
}

type fakeConfigRepo struct {
	mu      sync.Mutex
	configs map[uuid.UUID]*models.SyncConfig
}

func newFakeConfigRepo() *fakeConfigRepo {
	return &fakeConfigRepo{configs: make(map[uuid.UUID]*models.SyncConfig)}
}

func (r *fakeConfigRepo) Get(ctx context.Context, accountID uuid.UUID) (*models.SyncConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	config, ok := r.configs[accountID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *config
	return &copied, nil
}

func (r *fakeConfigRepo) Upsert(ctx context.Context, config *models.SyncConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	config.UpdatedAt = time.Now()
	copied := *config
	r.configs[config.AccountID] = &copied
	return nil
}

// fakeTxRunner snapshots the event log and entity state before running
// the function and restores both if it fails, mirroring a database
// rollback.
type fakeTxRunner struct {
	events   *fakeEventRepo
	entities *fakeEntityStore
}

func (r *fakeTxRunner) WithTx(ctx context.Context, fn func(q repositories.Querier) error) error {
	eventsBefore := make(map[uuid.UUID]models.SyncEvent, len(r.events.events))
	r.events.mu.Lock()
	for id, event := range r.events.events {
		eventsBefore[id] = *event
	}
	r.events.mu.Unlock()

	stateBefore := make(map[string]models.EntitySnapshot, len(r.entities.state))
	r.entities.mu.Lock()
	for key, snapshot := range r.entities.state {
		stateBefore[key] = *snapshot
	}
	appliedBefore := len(r.entities.applied)
	r.entities.mu.Unlock()

	if err := fn(nil); err != nil {
		r.events.mu.Lock()
		r.events.events = make(map[uuid.UUID]*models.SyncEvent, len(eventsBefore))
		for id, event := range eventsBefore {
			copied := event
			r.events.events[id] = &copied
		}
		r.events.mu.Unlock()

		r.entities.mu.Lock()
		r.entities.state = make(map[string]*models.EntitySnapshot, len(stateBefore))
		for key, snapshot := range stateBefore {
			copied := snapshot
			r.entities.state[key] = &copied
		}
		r.entities.applied = r.entities.applied[:appliedBefore]
		r.entities.mu.Unlock()
		return err
	}
	return nil
}

// Compile-time checks that the fakes satisfy the repository interfaces.
var (
	_ repositories.DeviceRepository     = (*fakeDeviceRepo)(nil)
	_ repositories.SyncEventRepository  = (*fakeEventRepo)(nil)
	_ repositories.EntityStore          = (*fakeEntityStore)(nil)
	_ repositories.ConflictRepository   = (*fakeConflictRepo)(nil)
	_ repositories.SyncConfigRepository = (*fakeConfigRepo)(nil)
	_ repositories.TxRunner             = (*fakeTxRunner)(nil)
)

var errStoreDown = errors.New("store down")
