package lock

import (
	"time"

	"github.com/okian/bikeharvest/pkg/logger"
)

// Option applies a configuration option to the RedisLocker.
type Option func(*RedisLocker)

// WithKeyPrefix sets the prefix prepended to every claimed key.
func WithKeyPrefix(prefix string) Option {
	return func(l *RedisLocker) {
		if prefix != "" {
			l.keyPrefix = prefix
		}
	}
}

// WithTTL sets how long a claim survives without release.
func WithTTL(ttl time.Duration) Option {
	return func(l *RedisLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(l *RedisLocker) {
		l.log = log
	}
}
