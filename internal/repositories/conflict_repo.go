package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/chatsync/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	conflictKeyPrefix      = "conflict:"
	conflictAccountSetFmt  = "account:%s:conflicts"
	// Conflicts are kept for the resolution window only; unresolved
	// conflicts older than this age out together with the log retention
	// horizon.
	conflictTTL = 30 * 24 * time.Hour
)

type RedisConflictRepository struct {
	client *redis.Client
}

func NewRedisConflictRepository(client *redis.Client) *RedisConflictRepository {
	return &RedisConflictRepository{client: client}
}

func (r *RedisConflictRepository) Save(ctx context.Context, conflict *models.Conflict) error {
	data, err := json.Marshal(conflict)
	if err != nil {
		return fmt.Errorf("failed to marshal conflict: %w", err)
	}

	key := conflictKey(conflict.AccountID, conflict.ID)
	if err := r.client.Set(ctx, key, data, conflictTTL).Err(); err != nil {
		return fmt.Errorf("failed to set conflict: %w", err)
	}

	accountKey := fmt.Sprintf(conflictAccountSetFmt, conflict.AccountID)
	if err := r.client.SAdd(ctx, accountKey, conflict.ID.String()).Err(); err != nil {
		return fmt.Errorf("failed to add conflict to account set: %w", err)
	}
	return nil
}

func (r *RedisConflictRepository) GetByID(ctx context.Context, accountID, id uuid.UUID) (*models.Conflict, error) {
	data, err := r.client.Get(ctx, conflictKey(accountID, id)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conflict: %w", err)
	}

	var conflict models.Conflict
	if err := json.Unmarshal([]byte(data), &conflict); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conflict: %w", err)
	}
	return &conflict, nil
}

func (r *RedisConflictRepository) GetByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.Conflict, error) {
	accountKey := fmt.Sprintf(conflictAccountSetFmt, accountID)
	ids, err := r.client.SMembers(ctx, accountKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get account conflicts: %w", err)
	}

	var conflicts []*models.Conflict
	var expired []interface{}

	for _, idStr := range ids {
		id, err := uuid.Parse(idStr)
		if err != nil {
			expired = append(expired, idStr)
			continue
		}

		conflict, err := r.GetByID(ctx, accountID, id)
		if err == ErrNotFound {
			expired = append(expired, idStr)
			continue
		}
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, conflict)
	}

	// Clean up set members whose conflict keys expired
	if len(expired) > 0 {
		if err := r.client.SRem(ctx, accountKey, expired...).Err(); err != nil {
			return nil, fmt.Errorf("failed to remove expired conflicts: %w", err)
		}
	}
	return conflicts, nil
}

func (r *RedisConflictRepository) CountUnresolved(ctx context.Context, accountID, deviceID uuid.UUID) (int, error) {
	conflicts, err := r.GetByAccountID(ctx, accountID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, c := range conflicts {
		if c.Status == models.ConflictStatusResolved {
			continue
		}
		if deviceID == uuid.Nil || c.DeviceID == deviceID {
			count++
		}
	}
	return count, nil
}

func (r *RedisConflictRepository) Delete(ctx context.Context, accountID, id uuid.UUID) error {
	if err := r.client.Del(ctx, conflictKey(accountID, id)).Err(); err != nil {
		return fmt.Errorf("failed to delete conflict: %w", err)
	}

	accountKey := fmt.Sprintf(conflictAccountSetFmt, accountID)
	if err := r.client.SRem(ctx, accountKey, id.String()).Err(); err != nil {
		return fmt.Errorf("failed to remove conflict from account set: %w", err)
	}
	return nil
}

func conflictKey(accountID, id uuid.UUID) string {
	return fmt.Sprintf("%s%s:%s", conflictKeyPrefix, accountID, id)
}
