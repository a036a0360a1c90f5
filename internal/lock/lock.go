// Package lock serialises work on a single slot key across API replicas.
package lock

import (
	"context"
	"errors"
)

var ErrLockNotAcquired = errors.New("slot lock not acquired")

// Locker guards a critical section per key. A busy key fails fast with
// ErrLockNotAcquired instead of waiting.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}
