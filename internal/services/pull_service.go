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

// MaxPullBatch caps how many events one pull call may return.
const MaxPullBatch = 1000

const defaultPullBatch = 100

type PullResult struct {
	Events          []*models.SyncEvent      `json:"events"`
	Conflicts       []*models.Conflict       `json:"conflicts"`
	EntitySnapshots []*models.EntitySnapshot `json:"entity_snapshots"`
	NextCheckpoint  time.Time                `json:"next_checkpoint"`
	HasMore         bool                     `json:"has_more"`
}

type PullService struct {
	devices  repositories.DeviceRepository
	events   repositories.SyncEventRepository
	entities repositories.EntityStore
	detector ConflictStrategy
	logger   *logrus.Logger
}

func NewPullService(
	devices repositories.DeviceRepository,
	events repositories.SyncEventRepository,
	entities repositories.EntityStore,
	detector ConflictStrategy,
	logger *logrus.Logger,
) *PullService {
	return &PullService{
		devices:  devices,
		events:   events,
		entities: entities,
		detector: detector,
		logger:   logger,
	}
}

// Pull streams events since the device's checkpoint together with any
// concurrent edits the device should know about and the materialized
// current state for every touched entity. Aside from advancing the
// checkpoint it is read-only, so retrying with the same checkpoint is
// safe and returns the same events (or a superset if new ones arrived).
func (s *PullService) Pull(ctx context.Context, accountID, deviceID uuid.UUID, checkpoint *time.Time, batchSize int, includeDeleted bool) (*PullResult, error) {
	device, err := authorizeDevice(ctx, s.devices, accountID, deviceID)
	if err != nil {
		return nil, err
	}

	if batchSize <= 0 {
		batchSize = defaultPullBatch
	}
	if batchSize > MaxPullBatch {
		batchSize = MaxPullBatch
	}

	since := time.Time{}
	if checkpoint != nil {
		since = *checkpoint
	} else if device.LastSyncAt != nil {
		since = *device.LastSyncAt
	}

	events, err := s.events.Since(ctx, accountID, since, batchSize, false)
	if err != nil {
		return nil, &RetryableError{Err: err}
	}

	result := &PullResult{
		Events:         events,
		NextCheckpoint: since,
		HasMore:        len(events) == batchSize,
	}

	// Surface concurrent edits around each fetched event. These already
	// committed server-side; they are informational, not queued.
	seenEntities := make(map[string]bool)
	for _, event := range events {
		entityKey := string(event.EntityType) + "/" + event.EntityID.String()
		if seenEntities[entityKey] {
			continue
		}

		competing, err := s.detector.Detect(ctx, event)
		if err != nil {
			return nil, &RetryableError{Err: err}
		}
		if len(competing) > 0 {
			conflict := &models.Conflict{
				ID:             conflictID(event.ID),
				AccountID:      accountID,
				DeviceID:       event.DeviceID,
				EntityType:     event.EntityType,
				EntityID:       event.EntityID,
				CandidateEvent: *event,
				DetectedAt:     time.Now().UTC(),
				Status:         models.ConflictStatusUnresolved,
			}
			for _, c := range competing {
				conflict.CompetingEvents = append(conflict.CompetingEvents, *c)
			}
			result.Conflicts = append(result.Conflicts, conflict)
			seenEntities[entityKey] = true
		}
	}

	// Materialize current state for every distinct touched entity from
	// the entity store, not by replaying the log.
	snapshotted := make(map[string]bool)
	for _, event := range events {
		entityKey := string(event.EntityType) + "/" + event.EntityID.String()
		if snapshotted[entityKey] {
			continue
		}
		snapshotted[entityKey] = true

		snapshot, err := s.entities.Snapshot(ctx, accountID, event.EntityType, event.EntityID)
		if errors.Is(err, repositories.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, &RetryableError{Err: err}
		}
		if snapshot.Deleted && !includeDeleted {
			continue
		}
		result.EntitySnapshots = append(result.EntitySnapshots, snapshot)
	}

	if len(events) > 0 {
		result.NextCheckpoint = events[len(events)-1].Timestamp
		if err := s.devices.TouchLastSync(ctx, deviceID, result.NextCheckpoint); err != nil {
			s.logger.WithError(err).WithField("device_id", deviceID).Warn("failed to advance sync checkpoint after pull")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"account_id": accountID,
		"device_id":  deviceID,
		"events":     len(result.Events),
		"conflicts":  len(result.Conflicts),
		"has_more":   result.HasMore,
	}).Debug("pull batch served")

	return result, nil
}
