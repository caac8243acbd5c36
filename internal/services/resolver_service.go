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

type ResolutionResult struct {
	ConflictID      uuid.UUID                 `json:"conflict_id"`
	Strategy        models.ResolutionStrategy `json:"strategy"`
	ResolutionEvent *models.SyncEvent         `json:"resolution_event,omitempty"`
	ResolvedAt      time.Time                 `json:"resolved_at"`
}

type ResolverService struct {
	conflicts repositories.ConflictRepository
	events    repositories.SyncEventRepository
	entities  repositories.EntityStore
	tx        repositories.TxRunner
	logger    *logrus.Logger
}

func NewResolverService(
	conflicts repositories.ConflictRepository,
	events repositories.SyncEventRepository,
	entities repositories.EntityStore,
	tx repositories.TxRunner,
	logger *logrus.Logger,
) *ResolverService {
	return &ResolverService{
		conflicts: conflicts,
		events:    events,
		entities:  entities,
		tx:        tx,
		logger:    logger,
	}
}

// Resolve applies a caller-chosen strategy to a queued conflict. Each
// strategy leaves the entity in exactly one terminal state; client-wins
// and merge log a fresh later-timestamped event so downstream pulls
// observe the resolution uniformly.
func (s *ResolverService) Resolve(ctx context.Context, accountID, conflictIDArg uuid.UUID, strategy models.ResolutionStrategy, mergedPayload json.RawMessage) (*ResolutionResult, error) {
	if !strategy.Valid() {
		return nil, ErrInvalidStrategy
	}

	conflict, err := s.conflicts.GetByID(ctx, accountID, conflictIDArg)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrConflictNotFound
	}
	if err != nil {
		return nil, &RetryableError{Err: err}
	}
	if conflict.Status == models.ConflictStatusResolved {
		return nil, ErrConflictResolved
	}

	result := &ResolutionResult{
		ConflictID: conflict.ID,
		Strategy:   strategy,
		ResolvedAt: time.Now().UTC(),
	}

	switch strategy {
	case models.ResolutionServerWins:
		// The committed server-side state stands; the candidate is
		// discarded without a log append.
	case models.ResolutionClientWins:
		event := resolutionEvent(conflict, conflict.CandidateEvent.Operation, conflict.CandidateEvent.Payload, result.ResolvedAt)
		if err := s.commitResolution(ctx, event); err != nil {
			return nil, err
		}
		result.ResolutionEvent = event
	case models.ResolutionMerge:
		if len(mergedPayload) == 0 {
			return nil, ErrMergePayloadRequired
		}
		// The merged payload becomes the new authoritative state.
		event := resolutionEvent(conflict, models.OperationUpdate, mergedPayload, result.ResolvedAt)
		if err := models.ValidatePayload(event); err != nil {
			return nil, err
		}
		if err := s.commitResolution(ctx, event); err != nil {
			return nil, err
		}
		result.ResolutionEvent = event
	}

	conflict.Status = models.ConflictStatusResolved
	if err := s.conflicts.Save(ctx, conflict); err != nil {
		return nil, &RetryableError{Err: err}
	}

	s.logger.WithFields(logrus.Fields{
		"conflict_id": conflict.ID,
		"entity_type": conflict.EntityType,
		"entity_id":   conflict.EntityID,
		"strategy":    strategy,
	}).Info("conflict resolved")

	return result, nil
}

func (s *ResolverService) commitResolution(ctx context.Context, event *models.SyncEvent) error {
	err := s.tx.WithTx(ctx, func(q repositories.Querier) error {
		if err := s.events.Append(ctx, q, event); err != nil {
			return err
		}
		return s.entities.Apply(ctx, q, event)
	})
	if err != nil {
		return &RetryableError{Err: err}
	}
	return nil
}

// resolutionEvent builds the synthetic event that supersedes the entity
// state. It is stamped with resolution time so it sorts after every
// competing event.
func resolutionEvent(conflict *models.Conflict, operation models.Operation, payload json.RawMessage, ts time.Time) *models.SyncEvent {
	if operation == "" {
		operation = models.OperationUpdate
	}
	return &models.SyncEvent{
		ID:         uuid.New(),
		AccountID:  conflict.AccountID,
		DeviceID:   conflict.DeviceID,
		EntityType: conflict.EntityType,
		EntityID:   conflict.EntityID,
		Operation:  operation,
		Payload:    payload,
		Timestamp:  ts,
		Committed:  true,
	}
}
