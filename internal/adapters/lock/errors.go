package lock

import "errors"

var (
	// ErrLockNotHeld is returned when releasing a lock that expired or was
	// taken over.
	ErrLockNotHeld = errors.New("lock not held")
	// ErrNoClient is returned when the redis locker has no client.
	ErrNoClient = errors.New("lock: no redis client")
)
