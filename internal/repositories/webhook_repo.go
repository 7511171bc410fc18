package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	webhookEventPrefix = "webhook:event:"
	// Stripe retries failed deliveries for up to three days.
	webhookEventTTL = 72 * time.Hour
)

type RedisWebhookEventRepository struct {
	client *redis.Client
}

func NewRedisWebhookEventRepository(client *redis.Client) *RedisWebhookEventRepository {
	return &RedisWebhookEventRepository{client: client}
}

func (r *RedisWebhookEventRepository) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	ok, err := r.client.SetNX(ctx, webhookEventPrefix+eventID, time.Now().UTC().Format(time.RFC3339), webhookEventTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark webhook event: %w", err)
	}
	return ok, nil
}

func (r *RedisWebhookEventRepository) Unmark(ctx context.Context, eventID string) error {
	if err := r.client.Del(ctx, webhookEventPrefix+eventID).Err(); err != nil {
		return fmt.Errorf("failed to unmark webhook event: %w", err)
	}
	return nil
}
