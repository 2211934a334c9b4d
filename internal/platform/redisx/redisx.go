package redisx

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/harborpoint/advisory-backend/internal/pkg/envutil"
	"github.com/harborpoint/advisory-backend/internal/platform/logger"
)

// New returns a redis client when REDIS_ADDR is configured, nil otherwise.
// The backend treats redis as an optional read-path cache, never as a source
// of truth, so a nil client simply disables caching.
func New(log *logger.Logger) (*redis.Client, error) {
	addr := strings.TrimSpace(envutil.GetEnv("REDIS_ADDR", "", log))
	if addr == "" {
		log.Info("REDIS_ADDR not set, poll-status cache disabled")
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: envutil.GetEnv("REDIS_PASSWORD", "", log),
		DB:       envutil.GetEnvAsInt("REDIS_DB", 0, log),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("Redis ping failed, poll-status cache disabled", "error", err)
		_ = client.Close()
		return nil, nil
	}
	return client, nil
}
