// Package lock provides per-key claims that keep two workers from live
// fetching the same key at once.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/okian/bikeharvest/pkg/logger"
)

// Defaults for the redis locker.
const (
	DefaultKeyPrefix = "bikeharvest:claim:"
	DefaultTTL       = 2 * time.Minute
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisLocker claims keys with SET NX and a per-claim token. The TTL bounds
// how long a crashed worker can hold a key.
type RedisLocker struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	log       logger.Logger
}

// NewRedisLocker creates a RedisLocker over client.
func NewRedisLocker(client *redis.Client, opts ...Option) *RedisLocker {
	l := &RedisLocker{client: client, keyPrefix: DefaultKeyPrefix, ttl: DefaultTTL}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = logger.Get().Named("redis_lock")
	}
	return l
}

// Lock tries once to claim key. ok is false when someone else holds it.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(context.Context) error, bool, error) {
	if l.client == nil {
		return nil, false, ErrNoClient
	}
	lockKey := l.keyPrefix + key
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("setnx %s: %w", lockKey, err)
	}
	if !ok {
		return nil, false, nil
	}
	l.log.Debug(ctx, "claimed", logger.String("key", key))

	release := func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.client, []string{lockKey}, token).Int64()
		if err != nil {
			return fmt.Errorf("release %s: %w", lockKey, err)
		}
		if n == 0 {
			return ErrLockNotHeld
		}
		l.log.Debug(ctx, "released", logger.String("key", key))
		return nil
	}
	return release, true, nil
}

// Ping checks the connection.
func (l *RedisLocker) Ping(ctx context.Context) error {
	if l.client == nil {
		return ErrNoClient
	}
	return l.client.Ping(ctx).Err()
}

// Close closes the client.
func (l *RedisLocker) Close() error {
	if l.client == nil {
		return nil
	}
	return l.client.Close()
}
