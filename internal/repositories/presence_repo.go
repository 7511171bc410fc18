package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/m3upanel/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	presenceKeyPrefix = "presence:"
	presenceTTL       = 10 * time.Minute // TV apps poll /devices/me on launch and periodically
)

type RedisPresenceRepository struct {
	client *redis.Client
}

func NewRedisPresenceRepository(client *redis.Client) *RedisPresenceRepository {
	return &RedisPresenceRepository{client: client}
}

// SetPresence marks the device online. The key expires on its own once the
// TV stops checking in.
func (r *RedisPresenceRepository) SetPresence(ctx context.Context, presence *models.Presence) error {
	presence.Status = string(models.StatusOnline)
	if presence.LastSeen.IsZero() {
		presence.LastSeen = time.Now()
	}

	data, err := json.Marshal(presence)
	if err != nil {
		return fmt.Errorf("failed to marshal presence: %w", err)
	}

	if err := r.client.Set(ctx, presenceKey(presence.DeviceRef), data, presenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to set presence: %w", err)
	}
	return nil
}

func (r *RedisPresenceRepository) GetPresence(ctx context.Context, deviceRef uuid.UUID) (*models.Presence, error) {
	data, err := r.client.Get(ctx, presenceKey(deviceRef)).Result()
	if err == redis.Nil {
		// No presence = TV is offline
		return &models.Presence{
			DeviceRef: deviceRef,
			Status:    string(models.StatusOffline),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get presence: %w", err)
	}

	var presence models.Presence
	if err := json.Unmarshal([]byte(data), &presence); err != nil {
		return nil, fmt.Errorf("failed to unmarshal presence: %w", err)
	}
	return &presence, nil
}

func presenceKey(deviceRef uuid.UUID) string {
	return presenceKeyPrefix + deviceRef.String()
}
