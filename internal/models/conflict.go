package models

import (
	"time"

	"github.com/google/uuid"
)

// Conflict is a derived record produced when a candidate event collides
// with events from other devices inside the detection window. It is kept
// only for the resolution window, not as durable entity state.
type Conflict struct {
	ID              uuid.UUID      `json:"id"`
	AccountID       uuid.UUID      `json:"account_id"`
	DeviceID        uuid.UUID      `json:"device_id"`
	EntityType      EntityType     `json:"entity_type"`
	EntityID        uuid.UUID      `json:"entity_id"`
	CandidateEvent  SyncEvent      `json:"candidate_event"`
	CompetingEvents []SyncEvent    `json:"competing_events"`
	DetectedAt      time.Time      `json:"detected_at"`
	Status          ConflictStatus `json:"status"`
}

type ConflictStatus string

const (
	ConflictStatusUnresolved ConflictStatus = "unresolved"
	ConflictStatusPending    ConflictStatus = "pending-resolution"
	ConflictStatusResolved   ConflictStatus = "resolved"
)

type ResolutionStrategy string

const (
	ResolutionServerWins ResolutionStrategy = "server-wins"
	ResolutionClientWins ResolutionStrategy = "client-wins"
	ResolutionMerge      ResolutionStrategy = "merge"
)

func (s ResolutionStrategy) Valid() bool {
	switch s {
	case ResolutionServerWins, ResolutionClientWins, ResolutionMerge:
		return true
	}
	return false
}
