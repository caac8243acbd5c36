package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrEmptyPayload    = errors.New("payload is empty")
	ErrPayloadMismatch = errors.New("payload id does not match event entity id")
)

// ConversationPayload is the wire shape of a conversation mutation.
type ConversationPayload struct {
	ID    uuid.UUID `json:"id"`
	Title string    `json:"title"`
	Model string    `json:"model,omitempty"`
}

// MessagePayload is the wire shape of a message mutation.
type MessagePayload struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
}

// PreferencePayload covers account-scoped records outside the two chat
// entities (settings, profile fragments).
type PreferencePayload struct {
	ID    uuid.UUID       `json:"id"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// ValidatePayload checks that an event payload structurally matches its
// entity type before it is allowed into the log. Delete payloads only need
// the entity id; creates and updates must carry the full field set.
func ValidatePayload(event *SyncEvent) error {
	if len(event.Payload) == 0 {
		return ErrEmptyPayload
	}

	dec := json.NewDecoder(bytes.NewReader(event.Payload))
	dec.DisallowUnknownFields()

	switch event.EntityType {
	case EntityTypeConversation:
		var p ConversationPayload
		if err := dec.Decode(&p); err != nil {
			return fmt.Errorf("invalid conversation payload: %w", err)
		}
		if p.ID != event.EntityID {
			return ErrPayloadMismatch
		}
		if event.Operation != OperationDelete && p.Title == "" {
			return errors.New("conversation payload requires a title")
		}
	case EntityTypeMessage:
		var p MessagePayload
		if err := dec.Decode(&p); err != nil {
			return fmt.Errorf("invalid message payload: %w", err)
		}
		if p.ID != event.EntityID {
			return ErrPayloadMismatch
		}
		if event.Operation != OperationDelete {
			if p.ConversationID == uuid.Nil {
				return errors.New("message payload requires a conversation_id")
			}
			if p.Role == "" {
				return errors.New("message payload requires a role")
			}
		}
	case EntityTypePreference:
		var p PreferencePayload
		if err := dec.Decode(&p); err != nil {
			return fmt.Errorf("invalid preference payload: %w", err)
		}
		if p.ID != event.EntityID {
			return ErrPayloadMismatch
		}
		if event.Operation != OperationDelete && p.Key == "" {
			return errors.New("preference payload requires a key")
		}
	default:
		return fmt.Errorf("unknown entity type %q", event.EntityType)
	}

	return nil
}

// EntitySnapshot is the materialized current state of one entity, read
// from the entity store rather than replayed from the log.
type EntitySnapshot struct {
	EntityType EntityType      `json:"entity_type"`
	EntityID   uuid.UUID       `json:"entity_id"`
	Deleted    bool            `json:"deleted"`
	Data       json.RawMessage `json:"data,omitempty"`
}
