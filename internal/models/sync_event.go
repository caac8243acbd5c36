package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EntityType string

const (
	EntityTypeConversation EntityType = "conversation"
	EntityTypeMessage      EntityType = "message"
	EntityTypePreference   EntityType = "preference"
)

type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// SyncEvent is one entry in the append-only mutation log. Events are
// immutable once written; entity history is reconstructed by timestamp
// order. Committed=false marks events queued (e.g. conflicting) but not
// applied to entity state.
type SyncEvent struct {
	ID         uuid.UUID       `json:"id"`
	AccountID  uuid.UUID       `json:"account_id"`
	DeviceID   uuid.UUID       `json:"device_id"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   uuid.UUID       `json:"entity_id"`
	Operation  Operation       `json:"operation"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  time.Time       `json:"timestamp"`
	Committed  bool            `json:"committed"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (t EntityType) Valid() bool {
	switch t {
	case EntityTypeConversation, EntityTypeMessage, EntityTypePreference:
		return true
	}
	return false
}

func (o Operation) Valid() bool {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}
