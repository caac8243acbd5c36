package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/chatsync/internal/models"
	"github.com/prudhvinik1/chatsync/internal/repositories"
	"github.com/sirupsen/logrus"
)

// MaxPushBatch caps events per push call to bound per-request work.
const MaxPushBatch = 100

// IncomingEvent is a client-originated mutation buffered while the device
// was offline. The client-generated ID is the de-duplication key across
// retried batches.
type IncomingEvent struct {
	ID         uuid.UUID         `json:"id"`
	EntityType models.EntityType `json:"entity_type"`
	EntityID   uuid.UUID         `json:"entity_id"`
	Operation  models.Operation  `json:"operation"`
	Payload    json.RawMessage   `json:"payload"`
	Timestamp  time.Time         `json:"timestamp"`
}

type RejectedEvent struct {
	EventID   uuid.UUID `json:"event_id"`
	Reason    string    `json:"reason"`
	Retryable bool      `json:"retryable"`
}

type PushResult struct {
	Accepted  []uuid.UUID        `json:"accepted"`
	Rejected  []RejectedEvent    `json:"rejected"`
	Conflicts []*models.Conflict `json:"conflicts"`
}

type PushService struct {
	devices   repositories.DeviceRepository
	events    repositories.SyncEventRepository
	entities  repositories.EntityStore
	conflicts repositories.ConflictRepository
	detector  ConflictStrategy
	tx        repositories.TxRunner
	logger    *logrus.Logger
}

func NewPushService(
	devices repositories.DeviceRepository,
	events repositories.SyncEventRepository,
	entities repositories.EntityStore,
	conflicts repositories.ConflictRepository,
	detector ConflictStrategy,
	tx repositories.TxRunner,
	logger *logrus.Logger,
) *PushService {
	return &PushService{
		devices:   devices,
		events:    events,
		entities:  entities,
		conflicts: conflicts,
		detector:  detector,
		tx:        tx,
		logger:    logger,
	}
}

// Push processes a batch of client events in submission order. Each event
// is validated, conflict-checked, and on the clean path appended to the
// log and applied to entity state inside one transaction. Failures are
// isolated per event; one bad event never aborts its siblings.
//
// Push never advances the device checkpoint. The checkpoint tracks events
// delivered to the device, and only Pull delivers; moving it here would
// let a push-before-pull device skip over foreign events and let the
// optimizer purge events the device never observed.
func (s *PushService) Push(ctx context.Context, accountID, deviceID uuid.UUID, batch []IncomingEvent) (*PushResult, error) {
	if len(batch) > MaxPushBatch {
		return nil, ErrBatchTooLarge
	}

	if _, err := authorizeDevice(ctx, s.devices, accountID, deviceID); err != nil {
		return nil, err
	}

	horizon, err := s.events.LogHorizon(ctx, accountID)
	if err != nil {
		return nil, &RetryableError{Err: err}
	}

	result := &PushResult{}

	for i := range batch {
		incoming := &batch[i]
		event := &models.SyncEvent{
			ID:         incoming.ID,
			AccountID:  accountID,
			DeviceID:   deviceID,
			EntityType: incoming.EntityType,
			EntityID:   incoming.EntityID,
			Operation:  incoming.Operation,
			Payload:    incoming.Payload,
			Timestamp:  incoming.Timestamp,
		}

		if reason := validateEvent(event, horizon); reason != "" {
			result.Rejected = append(result.Rejected, RejectedEvent{EventID: event.ID, Reason: reason})
			continue
		}

		existing, err := s.events.GetByID(ctx, event.ID)
		if err != nil && !errors.Is(err, repositories.ErrNotFound) {
			result.Rejected = append(result.Rejected, RejectedEvent{EventID: event.ID, Reason: "event store unavailable", Retryable: true})
			continue
		}
		if existing != nil && existing.Committed {
			// Idempotent retry of an already-committed event.
			result.Accepted = append(result.Accepted, existing.ID)
			continue
		}

		competing, err := s.detector.Detect(ctx, event)
		if err != nil {
			result.Rejected = append(result.Rejected, RejectedEvent{EventID: event.ID, Reason: "conflict detection unavailable", Retryable: true})
			continue
		}

		if len(competing) > 0 {
			conflict, err := s.queueConflict(ctx, event, competing, existing != nil)
			if err != nil {
				result.Rejected = append(result.Rejected, RejectedEvent{EventID: event.ID, Reason: "failed to queue conflict", Retryable: true})
				continue
			}
			result.Conflicts = append(result.Conflicts, conflict)
			continue
		}

		if err := s.commit(ctx, event, existing != nil); err != nil {
			result.Rejected = append(result.Rejected, RejectedEvent{EventID: event.ID, Reason: "failed to commit event", Retryable: true})
			continue
		}

		result.Accepted = append(result.Accepted, event.ID)
	}

	s.logger.WithFields(logrus.Fields{
		"account_id": accountID,
		"device_id":  deviceID,
		"batch":      len(batch),
		"accepted":   len(result.Accepted),
		"rejected":   len(result.Rejected),
		"conflicts":  len(result.Conflicts),
	}).Info("push batch processed")

	return result, nil
}

// commit performs the log-then-apply step: both the log append and the
// entity mutation succeed or both roll back. alreadyQueued handles the
// retry of an event that was previously stored uncommitted.
func (s *PushService) commit(ctx context.Context, event *models.SyncEvent, alreadyQueued bool) error {
	event.Committed = true
	return s.tx.WithTx(ctx, func(q repositories.Querier) error {
		if alreadyQueued {
			if err := s.events.MarkCommitted(ctx, q, event.ID); err != nil {
				return err
			}
		} else if err := s.events.Append(ctx, q, event); err != nil {
			return err
		}
		return s.entities.Apply(ctx, q, event)
	})
}

// queueConflict records the candidate in the log uncommitted and saves a
// conflict for explicit resolution. The conflict id is derived from the
// candidate event id so a retried push overwrites instead of duplicating.
// A candidate whose conflict was already resolved is acknowledged with
// the resolved record; resolution is terminal and a retry never reopens it.
func (s *PushService) queueConflict(ctx context.Context, event *models.SyncEvent, competing []*models.SyncEvent, alreadyQueued bool) (*models.Conflict, error) {
	prior, err := s.conflicts.GetByID(ctx, event.AccountID, conflictID(event.ID))
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return nil, err
	}
	if prior != nil && prior.Status == models.ConflictStatusResolved {
		return prior, nil
	}

	if !alreadyQueued {
		event.Committed = false
		if err := s.events.Append(ctx, nil, event); err != nil && !errors.Is(err, repositories.ErrDuplicateEvent) {
			return nil, err
		}
	}

	conflict := &models.Conflict{
		ID:             conflictID(event.ID),
		AccountID:      event.AccountID,
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

	if err := s.conflicts.Save(ctx, conflict); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"conflict_id": conflict.ID,
		"entity_type": conflict.EntityType,
		"entity_id":   conflict.EntityID,
		"competing":   len(competing),
	}).Info("concurrent modification queued as conflict")

	return conflict, nil
}

func validateEvent(event *models.SyncEvent, horizon time.Time) string {
	if event.ID == uuid.Nil {
		return "event id is required"
	}
	if !event.EntityType.Valid() {
		return "unknown entity type"
	}
	if !event.Operation.Valid() {
		return "unknown operation"
	}
	if event.EntityID == uuid.Nil {
		return "entity id is required"
	}
	if event.Timestamp.IsZero() {
		return "timestamp is required"
	}
	if !horizon.IsZero() && event.Timestamp.Before(horizon) {
		return "timestamp predates the retained log horizon"
	}
	if err := models.ValidatePayload(event); err != nil {
		return err.Error()
	}
	return ""
}

// conflictID derives a stable conflict id from the candidate event id.
func conflictID(eventID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, eventID[:])
}
