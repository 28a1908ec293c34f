package startup

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dialogs/internal/logger"
)

// ConnectRedis builds a Redis client from the URL and verifies it with a
// ping. Returns nil when the URL is empty or the connection fails; the
// caller treats nil as "relay disabled".
func ConnectRedis(url string) *redis.Client {
	if url == "" {
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		logger.Errorf("redis parse url: %v (relay disabled)", err)
		return nil
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Errorf("redis ping: %v (relay disabled)", err)
		client.Close()
		return nil
	}
	logger.Info("redis connected")
	return client
}
