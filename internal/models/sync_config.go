package models

import (
	"time"

	"github.com/google/uuid"
)

type SyncMode string

const (
	SyncModeLocalOnly SyncMode = "local-only"
	SyncModeCloudOnly SyncMode = "cloud-only"
	SyncModeHybrid    SyncMode = "hybrid"
)

// SyncConfig holds per-account sync preferences, one row per account.
type SyncConfig struct {
	AccountID      uuid.UUID `json:"account_id"`
	Mode           SyncMode  `json:"mode"`
	AutoSync       bool      `json:"auto_sync"`
	SyncIntervalMs int64     `json:"sync_interval_ms"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (m SyncMode) Valid() bool {
	switch m {
	case SyncModeLocalOnly, SyncModeCloudOnly, SyncModeHybrid:
		return true
	}
	return false
}

func DefaultSyncConfig(accountID uuid.UUID) *SyncConfig {
	return &SyncConfig{
		AccountID:      accountID,
		Mode:           SyncModeHybrid,
		AutoSync:       true,
		SyncIntervalMs: 30000,
	}
}
