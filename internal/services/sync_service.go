package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/chatsync/internal/models"
	"github.com/prudhvinik1/chatsync/internal/repositories"
	"github.com/sirupsen/logrus"
)

const (
	// A device whose checkpoint is older than these thresholds degrades
	// from healthy to stale to outdated.
	staleAfter    = 24 * time.Hour
	outdatedAfter = 7 * 24 * time.Hour
)

type SyncStatus struct {
	DeviceID            uuid.UUID         `json:"device_id"`
	Health              models.SyncHealth `json:"health"`
	LastSyncAt          *time.Time        `json:"last_sync_at,omitempty"`
	PendingEvents       int64             `json:"pending_events"`
	UnresolvedConflicts int               `json:"unresolved_conflicts"`
}

// SyncService covers the bookkeeping operations around the pull/push
// core: device registration, per-account config, device health, and
// forced full refreshes.
type SyncService struct {
	devices   repositories.DeviceRepository
	events    repositories.SyncEventRepository
	conflicts repositories.ConflictRepository
	configs   repositories.SyncConfigRepository
	entities  repositories.EntityStore
	logger    *logrus.Logger
}

func NewSyncService(
	devices repositories.DeviceRepository,
	events repositories.SyncEventRepository,
	conflicts repositories.ConflictRepository,
	configs repositories.SyncConfigRepository,
	entities repositories.EntityStore,
	logger *logrus.Logger,
) *SyncService {
	return &SyncService{
		devices:   devices,
		events:    events,
		conflicts: conflicts,
		configs:   configs,
		entities:  entities,
		logger:    logger,
	}
}

// RegisterDevice is an idempotent upsert keyed by fingerprint. A
// fingerprint already owned by a different account is rejected rather
// than reassigned.
func (s *SyncService) RegisterDevice(ctx context.Context, accountID uuid.UUID, fingerprint string) (*models.Device, error) {
	if fingerprint == "" {
		return nil, errors.New("fingerprint is required")
	}

	device := &models.Device{
		AccountID:   accountID,
		Fingerprint: fingerprint,
	}
	err := s.devices.UpsertByFingerprint(ctx, device)
	if errors.Is(err, repositories.ErrFingerprintTaken) {
		return nil, ErrDeviceNotOwned
	}
	if err != nil {
		return nil, &RetryableError{Err: err}
	}

	s.logger.WithFields(logrus.Fields{
		"account_id": accountID,
		"device_id":  device.ID,
	}).Info("device registered")

	return device, nil
}

func (s *SyncService) Status(ctx context.Context, accountID, deviceID uuid.UUID) (*SyncStatus, error) {
	device, err := authorizeDevice(ctx, s.devices, accountID, deviceID)
	if err != nil {
		return nil, err
	}

	status := &SyncStatus{
		DeviceID:   device.ID,
		LastSyncAt: device.LastSyncAt,
	}

	checkpoint := time.Time{}
	if device.LastSyncAt == nil {
		status.Health = models.SyncHealthNeverSynced
	} else {
		checkpoint = *device.LastSyncAt
		switch age := time.Since(checkpoint); {
		case age < staleAfter:
			status.Health = models.SyncHealthHealthy
		case age < outdatedAfter:
			status.Health = models.SyncHealthStale
		default:
			status.Health = models.SyncHealthOutdated
		}
	}

	pending, err := s.events.CountSince(ctx, accountID, checkpoint)
	if err != nil {
		return nil, &RetryableError{Err: err}
	}
	status.PendingEvents = pending

	unresolved, err := s.conflicts.CountUnresolved(ctx, accountID, deviceID)
	if err != nil {
		return nil, &RetryableError{Err: err}
	}
	status.UnresolvedConflicts = unresolved

	return status, nil
}

// ForceSync materializes entity state of one type for the device,
// bypassing the event log entirely. fullSync returns everything;
// otherwise only entities changed since the device's checkpoint.
func (s *SyncService) ForceSync(ctx context.Context, accountID, deviceID uuid.UUID, entityType models.EntityType, fullSync bool) ([]*models.EntitySnapshot, error) {
	device, err := authorizeDevice(ctx, s.devices, accountID, deviceID)
	if err != nil {
		return nil, err
	}
	if !entityType.Valid() {
		return nil, errors.New("unknown entity type")
	}

	var since *time.Time
	if !fullSync && device.LastSyncAt != nil {
		since = device.LastSyncAt
	}

	snapshots, err := s.entities.List(ctx, accountID, entityType, since, fullSync)
	if err != nil {
		return nil, &RetryableError{Err: err}
	}

	if err := s.devices.TouchLastSync(ctx, deviceID, time.Now().UTC()); err != nil {
		s.logger.WithError(err).WithField("device_id", deviceID).Warn("failed to advance sync checkpoint after force sync")
	}

	return snapshots, nil
}

func (s *SyncService) GetConfig(ctx context.Context, accountID uuid.UUID) (*models.SyncConfig, error) {
	config, err := s.configs.Get(ctx, accountID)
	if errors.Is(err, repositories.ErrNotFound) {
		return models.DefaultSyncConfig(accountID), nil
	}
	if err != nil {
		return nil, &RetryableError{Err: err}
	}
	return config, nil
}

func (s *SyncService) SetConfig(ctx context.Context, config *models.SyncConfig) (*models.SyncConfig, error) {
	if !config.Mode.Valid() {
		return nil, errors.New("unknown sync mode")
	}
	if config.SyncIntervalMs <= 0 {
		return nil, errors.New("sync interval must be positive")
	}

	if err := s.configs.Upsert(ctx, config); err != nil {
		return nil, &RetryableError{Err: err}
	}
	return config, nil
}
