// Package hostlock serializes harness processes on one host so that
// benchmark trials never contend with each other for CPU or disk.
package hostlock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
)

// retryInterval is the delay between attempts to take a held lock.
const retryInterval = 100 * time.Millisecond

// DefaultPath is used when no lock file is configured.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), "bootcheck.lock")
}

// Lock is a held host lock.
type Lock struct {
	fl     *flock.Flock
	logger zerolog.Logger
}

// Acquire blocks until the exclusive lock at path is held or ctx is done.
func Acquire(ctx context.Context, logger zerolog.Logger, path string) (*Lock, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create lock directory %s: %w", dir, err)
		}
	}

	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	if !locked {
		logger.Info().Str("path", path).Msg("Waiting for another bootcheck process to release the host lock")
		locked, err = fl.TryLockContext(ctx, retryInterval)
		if err != nil {
			return nil, fmt.Errorf("failed to lock %s: %w", path, err)
		}
		if !locked {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("failed to lock %s: %w", path, ctx.Err())
			}
			return nil, fmt.Errorf("failed to lock %s: lock not acquired", path)
		}
	}

	logger.Debug().Str("path", path).Msg("Host lock acquired")
	return &Lock{fl: fl, logger: logger}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.fl.Path()
}

// Release unlocks and closes the lock file. The file stays on disk; removing
// it could split waiters across two inodes.
func (l *Lock) Release() {
	if l == nil || l.fl == nil {
		return
	}
	if err := l.fl.Close(); err != nil {
		l.logger.Warn().Err(err).Str("path", l.fl.Path()).Msg("Failed to release host lock")
		return
	}
	l.logger.Debug().Str("path", l.fl.Path()).Msg("Host lock released")
}
