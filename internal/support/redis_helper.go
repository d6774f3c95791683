package support

import (
	"errors"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

var (
	redisOnce   sync.Once
	redisClient *redis.Client
	redisErr    error

	ErrRedisNotConfigured = errors.New("support: REDIS_ADDRESS is not configured")
)

// GetRedisClient returns the shared client, or ErrRedisNotConfigured when no
// address is set. Redis-backed features are optional and degrade to single
// instance behavior without it.
func GetRedisClient() (*redis.Client, error) {
	redisOnce.Do(func() {
		address := strings.TrimSpace(GetEnv("REDIS_ADDRESS", ""))
		if address == "" {
			redisErr = ErrRedisNotConfigured
			return
		}
		redisClient = redis.NewClient(&redis.Options{
			Addr:     address,
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       GetEnvInt("REDIS_DB", 0),
		})
	})
	return redisClient, redisErr
}
