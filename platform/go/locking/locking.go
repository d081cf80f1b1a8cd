// Package locking provides fail-fast exclusive locks keyed by string, used to serialize
// provisioning of one world id across goroutines, processes and hosts.
package locking

import (
	"context"
	"errors"
)

// ErrLocked is returned by TryLock when another holder owns the key.
var ErrLocked = errors.New("lock is held by another owner")

// Release frees a held lock. Calling it more than once is a no-op.
type Release func(ctx context.Context) error

// Locker acquires exclusive locks without waiting.
type Locker interface {
	TryLock(ctx context.Context, key string) (Release, error)
}
