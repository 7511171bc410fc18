package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/m3upanel/internal/models"
	"github.com/redis/go-redis/v9"
)

const sessionPrefix = "session:"
const deviceSessionsPrefix = "device:%s:sessions"

type RedisSessionRepository struct {
	client *redis.Client
}

func NewRedisSessionRepository(client *redis.Client) *RedisSessionRepository {
	return &RedisSessionRepository{client: client}
}

func (r *RedisSessionRepository) Create(ctx context.Context, session *models.Session) error {
	jsonData, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired", session.ID)
	}

	deviceKey := deviceSessionsKey(session.DeviceRef)

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, sessionKey(session.ID), jsonData, ttl)
	pipe.SAdd(ctx, deviceKey, session.ID)
	// The index lives as long as the newest session.
	pipe.Expire(ctx, deviceKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	jsonData, err := r.client.Get(ctx, sessionKey(id)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session models.Session
	if err := json.Unmarshal([]byte(jsonData), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// ListByDevice returns live sessions for a device and prunes index entries
// whose session key has already expired.
func (r *RedisSessionRepository) ListByDevice(ctx context.Context, deviceRef uuid.UUID) ([]*models.Session, error) {
	deviceKey := deviceSessionsKey(deviceRef)
	sessionIDs, err := r.client.SMembers(ctx, deviceKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get device sessions: %w", err)
	}

	var sessions []*models.Session
	var expiredIDs []interface{}

	for _, id := range sessionIDs {
		session, err := r.GetByID(ctx, id)
		if err == ErrNotFound {
			expiredIDs = append(expiredIDs, id)
			continue
		}
		if err != nil {
			slog.WarnContext(ctx, "skipping unreadable session", "session_id", id, "error", err)
			continue
		}
		sessions = append(sessions, session)
	}

	if len(expiredIDs) > 0 {
		if err := r.client.SRem(ctx, deviceKey, expiredIDs...).Err(); err != nil {
			return nil, fmt.Errorf("failed to remove expired sessions: %w", err)
		}
	}
	return sessions, nil
}

func (r *RedisSessionRepository) Delete(ctx context.Context, id string) error {
	session, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.SRem(ctx, deviceSessionsKey(session.DeviceRef), id)
	pipe.Del(ctx, sessionKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) DeleteAllForDevice(ctx context.Context, deviceRef uuid.UUID) error {
	deviceKey := deviceSessionsKey(deviceRef)
	sessionIDs, err := r.client.SMembers(ctx, deviceKey).Result()
	if err != nil {
		return fmt.Errorf("failed to get device sessions: %w", err)
	}

	keys := make([]string, 0, len(sessionIDs)+1)
	for _, id := range sessionIDs {
		keys = append(keys, sessionKey(id))
	}
	keys = append(keys, deviceKey)

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete device sessions: %w", err)
	}
	return nil
}

func sessionKey(id string) string {
	return sessionPrefix + id
}

func deviceSessionsKey(deviceRef uuid.UUID) string {
	return fmt.Sprintf(deviceSessionsPrefix, deviceRef)
}
