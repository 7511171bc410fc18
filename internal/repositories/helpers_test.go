package repositories

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/m3upanel/internal/database"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// getTestPool connects to TEST_DATABASE_URL and applies the schema. Tests
// are skipped when it is unset.
func getTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err, "Failed to connect to test database")
	t.Cleanup(pool.Close)

	require.NoError(t, database.Migrate(ctx, pool), "Failed to migrate test database")
	return pool
}

// getTestRedisClient connects to TEST_REDIS_URL. Tests are skipped when it
// is unset.
func getTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}

	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })

	err = client.Ping(context.Background()).Err()
	require.NoError(t, err, "Failed to connect to test Redis")
	return client
}

// cleanupKeys removes every key matching the given patterns.
func cleanupKeys(t *testing.T, client *redis.Client, patterns ...string) {
	ctx := context.Background()
	for _, pattern := range patterns {
		keys, err := client.Keys(ctx, pattern).Result()
		if err != nil {
			t.Logf("Warning: failed to get keys: %v", err)
			continue
		}
		if len(keys) > 0 {
			if err := client.Del(ctx, keys...).Err(); err != nil {
				t.Logf("Warning: failed to cleanup keys: %v", err)
			}
		}
	}
}
