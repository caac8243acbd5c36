package models

import (
	"time"

	"github.com/google/uuid"
)

type Device struct {
	ID          uuid.UUID  `json:"id"`
	AccountID   uuid.UUID  `json:"account_id"`
	Fingerprint string     `json:"fingerprint"`
	LastSyncAt  *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

type SyncHealth string

const (
	SyncHealthNeverSynced SyncHealth = "never-synced"
	SyncHealthHealthy     SyncHealth = "healthy"
	SyncHealthStale       SyncHealth = "stale"
	SyncHealthOutdated    SyncHealth = "outdated"
)
