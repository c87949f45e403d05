package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when this holder still owns it, so an
// expired-and-reacquired lock is never released by a stale holder.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// RedisManager implements Manager on top of Redis SET NX with a TTL.
type RedisManager struct {
	client *redis.Client
	logger *slog.Logger
	prefix string
}

func NewRedisManager(logger *slog.Logger, redisURL string) (*RedisManager, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	return &RedisManager{
		client: redis.NewClient(options),
		logger: logger.With("module", "lock"),
		prefix: "harvester:lock:",
	}, nil
}

func (m *RedisManager) Acquire(ctx context.Context, name string, ttl time.Duration) (ReleaseFunc, bool, error) {
	key := m.prefix + name
	token := uuid.NewString()

	acquired, err := m.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %q: %w", name, err)
	}

	if !acquired {
		return nil, false, nil
	}

	release := func(ctx context.Context) {
		if err := releaseScript.Run(ctx, m.client, []string{key}, token).Err(); err != nil {
			m.logger.WarnContext(ctx, "Failed to release lock", "lock", name, "error", err)
		}
	}

	return release, true, nil
}

func (m *RedisManager) Close() error {
	return m.client.Close()
}
