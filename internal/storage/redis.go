package storage

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/coin-tracker/internal/config"
	apperrors "github.com/coin-tracker/internal/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisCache holds the run lock, the published summary digest and the shared
// request budget counters
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects and pings Redis
func NewRedisCache(cfg *config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(redisOptions(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, apperrors.NewCacheError("connect", err)
	}

	return &RedisCache{client: client}, nil
}

func redisOptions(cfg *config.RedisConfig) *redis.Options {
	poolSize := cfg.MaxConnections
	if poolSize <= 0 {
		poolSize = 10
	}
	return &redis.Options{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     poolSize,
		MinIdleConns: 1,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	}
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Client returns the underlying Redis client
func (r *RedisCache) Client() *redis.Client {
	return r.client
}

// Ping checks if Redis is reachable
func (r *RedisCache) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return apperrors.NewCacheError("ping", err)
	}
	return nil
}

// Set sets a key-value pair with TTL. A zero TTL keeps the key forever.
func (r *RedisCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return apperrors.NewCacheError("set "+key, err)
	}
	return nil
}

// Get retrieves a value by key. A missing key yields "" and no error.
func (r *RedisCache) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", nil
	case err != nil:
		return "", apperrors.NewCacheError("get "+key, err)
	}
	return value, nil
}

// Del deletes one or more keys
func (r *RedisCache) Del(ctx context.Context, keys ...string) error {
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return apperrors.NewCacheError("delete", err)
	}
	return nil
}

// TryLock takes key for ttl if nobody holds it. acquired is false when the lock is busy.
// The returned release function only deletes the key while this holder still owns it.
func (r *RedisCache) TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error) {
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, apperrors.NewCacheError("acquire lock "+key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
			return apperrors.NewCacheError("release lock "+key, err)
		}
		return nil
	}
	return release, true, nil
}
