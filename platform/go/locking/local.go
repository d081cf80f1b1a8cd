package locking

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// LocalLocker guards a key with an in-process mutex plus a lock file under Dir.
// flock alone cannot exclude goroutines of the same process, so both are taken.
type LocalLocker struct {
	Dir string

	mus sync.Map // key -> *sync.Mutex
}

// NewLocalLocker creates the lock directory if needed.
func NewLocalLocker(dir string) (*LocalLocker, error) {
	if dir == "" {
		return nil, fmt.Errorf("lock dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	return &LocalLocker{Dir: dir}, nil
}

// TryLock implements Locker.
func (l *LocalLocker) TryLock(ctx context.Context, key string) (Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v, _ := l.mus.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	if !mu.TryLock() {
		return nil, fmt.Errorf("%s: %w", key, ErrLocked)
	}

	fileLock := flock.New(filepath.Join(l.Dir, key+".lock"))
	locked, err := fileLock.TryLock()
	if err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("acquire lock file for %s: %w", key, err)
	}
	if !locked {
		mu.Unlock()
		return nil, fmt.Errorf("%s: %w", key, ErrLocked)
	}

	var once sync.Once
	return func(context.Context) error {
		var unlockErr error
		once.Do(func() {
			unlockErr = fileLock.Unlock()
			mu.Unlock()
		})
		return unlockErr
	}, nil
}
