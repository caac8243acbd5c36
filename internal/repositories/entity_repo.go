package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/chatsync/internal/models"
)

// PostgresEntityStore applies sync-event mutations to the conversation,
// message and preference tables and reads back materialized state.
// Deletes are soft so deleted entities still appear in pulls that ask for
// them.
type PostgresEntityStore struct {
	pool *pgxpool.Pool
}

func NewPostgresEntityStore(pool *pgxpool.Pool) *PostgresEntityStore {
	return &PostgresEntityStore{pool: pool}
}

func (s *PostgresEntityStore) Apply(ctx context.Context, q Querier, event *models.SyncEvent) error {
	if q == nil {
		q = s.pool
	}

	switch event.EntityType {
	case models.EntityTypeConversation:
		return s.applyConversation(ctx, q, event)
	case models.EntityTypeMessage:
		return s.applyMessage(ctx, q, event)
	case models.EntityTypePreference:
		return s.applyPreference(ctx, q, event)
	default:
		return fmt.Errorf("unknown entity type %q", event.EntityType)
	}
}

func (s *PostgresEntityStore) applyConversation(ctx context.Context, q Querier, event *models.SyncEvent) error {
	if event.Operation == models.OperationDelete {
		query := `UPDATE conversations SET deleted_at = NOW(), updated_at = $1
		          WHERE id = $2 AND account_id = $3`
		if _, err := q.Exec(ctx, query, event.Timestamp, event.EntityID, event.AccountID); err != nil {
			return fmt.Errorf("failed to delete conversation: %w", err)
		}
		return nil
	}

	var p models.ConversationPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return fmt.Errorf("failed to decode conversation payload: %w", err)
	}

	query := `INSERT INTO conversations (id, account_id, title, model, updated_at)
	          VALUES ($1, $2, $3, $4, $5)
	          ON CONFLICT (id) DO UPDATE
	              SET title = EXCLUDED.title,
	                  model = EXCLUDED.model,
	                  updated_at = EXCLUDED.updated_at,
	                  deleted_at = NULL`

	if _, err := q.Exec(ctx, query, p.ID, event.AccountID, p.Title, p.Model, event.Timestamp); err != nil {
		return fmt.Errorf("failed to apply conversation mutation: %w", err)
	}
	return nil
}

func (s *PostgresEntityStore) applyMessage(ctx context.Context, q Querier, event *models.SyncEvent) error {
	if event.Operation == models.OperationDelete {
		query := `UPDATE messages SET deleted_at = NOW(), updated_at = $1
		          WHERE id = $2 AND account_id = $3`
		if _, err := q.Exec(ctx, query, event.Timestamp, event.EntityID, event.AccountID); err != nil {
			return fmt.Errorf("failed to delete message: %w", err)
		}
		return nil
	}

	var p models.MessagePayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return fmt.Errorf("failed to decode message payload: %w", err)
	}

	query := `INSERT INTO messages (id, conversation_id, account_id, role, content, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6)
	          ON CONFLICT (id) DO UPDATE
	              SET role = EXCLUDED.role,
	                  content = EXCLUDED.content,
	                  updated_at = EXCLUDED.updated_at,
	                  deleted_at = NULL`

	if _, err := q.Exec(ctx, query, p.ID, p.ConversationID, event.AccountID, p.Role, p.Content, event.Timestamp); err != nil {
		return fmt.Errorf("failed to apply message mutation: %w", err)
	}
	return nil
}

func (s *PostgresEntityStore) applyPreference(ctx context.Context, q Querier, event *models.SyncEvent) error {
	if event.Operation == models.OperationDelete {
		query := `DELETE FROM preferences WHERE id = $1 AND account_id = $2`
		if _, err := q.Exec(ctx, query, event.EntityID, event.AccountID); err != nil {
			return fmt.Errorf("failed to delete preference: %w", err)
		}
		return nil
	}

	var p models.PreferencePayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return fmt.Errorf("failed to decode preference payload: %w", err)
	}

	query := `INSERT INTO preferences (id, account_id, key, value, updated_at)
	          VALUES ($1, $2, $3, $4, $5)
	          ON CONFLICT (id) DO UPDATE
	              SET key = EXCLUDED.key,
	                  value = EXCLUDED.value,
	                  updated_at = EXCLUDED.updated_at`

	if _, err := q.Exec(ctx, query, p.ID, event.AccountID, p.Key, p.Value, event.Timestamp); err != nil {
		return fmt.Errorf("failed to apply preference mutation: %w", err)
	}
	return nil
}

func (s *PostgresEntityStore) Snapshot(ctx context.Context, accountID uuid.UUID, entityType models.EntityType, entityID uuid.UUID) (*models.EntitySnapshot, error) {
	var (
		data    []byte
		deleted bool
		err     error
	)

	switch entityType {
	case models.EntityTypeConversation:
		query := `SELECT row_to_json(c), c.deleted_at IS NOT NULL
		          FROM (SELECT id, account_id, title, model, created_at, updated_at, deleted_at
		                FROM conversations WHERE id = $1 AND account_id = $2) c`
		err = s.pool.QueryRow(ctx, query, entityID, accountID).Scan(&data, &deleted)
	case models.EntityTypeMessage:
		query := `SELECT row_to_json(m), m.deleted_at IS NOT NULL
		          FROM (SELECT id, conversation_id, account_id, role, content, created_at, updated_at, deleted_at
		                FROM messages WHERE id = $1 AND account_id = $2) m`
		err = s.pool.QueryRow(ctx, query, entityID, accountID).Scan(&data, &deleted)
	case models.EntityTypePreference:
		query := `SELECT row_to_json(p), FALSE
		          FROM (SELECT id, account_id, key, value, updated_at
		                FROM preferences WHERE id = $1 AND account_id = $2) p`
		err = s.pool.QueryRow(ctx, query, entityID, accountID).Scan(&data, &deleted)
	default:
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot entity: %w", err)
	}

	return &models.EntitySnapshot{
		EntityType: entityType,
		EntityID:   entityID,
		Deleted:    deleted,
		Data:       data,
	}, nil
}

func (s *PostgresEntityStore) List(ctx context.Context, accountID uuid.UUID, entityType models.EntityType, since *time.Time, includeDeleted bool) ([]*models.EntitySnapshot, error) {
	var query string
	args := []any{accountID, since, includeDeleted}

	switch entityType {
	case models.EntityTypeConversation:
		query = `SELECT c.id, row_to_json(c), c.deleted_at IS NOT NULL
		         FROM (SELECT id, account_id, title, model, created_at, updated_at, deleted_at
		               FROM conversations WHERE account_id = $1) c
		         WHERE ($2::timestamptz IS NULL OR c.updated_at > $2)
		           AND (c.deleted_at IS NULL OR $3)
		         ORDER BY c.updated_at ASC NULLS FIRST`
	case models.EntityTypeMessage:
		query = `SELECT m.id, row_to_json(m), m.deleted_at IS NOT NULL
		         FROM (SELECT id, conversation_id, account_id, role, content, created_at, updated_at, deleted_at
		               FROM messages WHERE account_id = $1) m
		         WHERE ($2::timestamptz IS NULL OR m.updated_at > $2)
		           AND (m.deleted_at IS NULL OR $3)
		         ORDER BY m.updated_at ASC NULLS FIRST`
	case models.EntityTypePreference:
		// Preferences are hard-deleted, so includeDeleted does not apply.
		query = `SELECT p.id, row_to_json(p), FALSE
		         FROM (SELECT id, account_id, key, value, updated_at
		               FROM preferences WHERE account_id = $1) p
		         WHERE ($2::timestamptz IS NULL OR p.updated_at > $2)
		         ORDER BY p.updated_at ASC NULLS FIRST`
		args = args[:2]
	default:
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	var snapshots []*models.EntitySnapshot
	for rows.Next() {
		snapshot := models.EntitySnapshot{EntityType: entityType}
		if err := rows.Scan(&snapshot.EntityID, &snapshot.Data, &snapshot.Deleted); err != nil {
			return nil, fmt.Errorf("failed to scan entity snapshot: %w", err)
		}
		snapshots = append(snapshots, &snapshot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entity snapshots: %w", err)
	}
	return snapshots, nil
}
