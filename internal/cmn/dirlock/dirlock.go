// Package dirlock provides a directory-based lock that keeps two scheduler
// processes from ticking over the same data directory.
package dirlock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	// ErrLockConflict indicates the lock is held by another process.
	ErrLockConflict = errors.New("directory is locked by another process")

	// ErrNotLocked indicates the operation requires holding the lock.
	ErrNotLocked = errors.New("directory is not locked")
)

// lockDirName is created inside the target directory while the lock is held.
// Its modification time is refreshed by Heartbeat and used for staleness.
const lockDirName = ".skymosaic_lock"

// DirLock is a lock over a directory shared between processes.
type DirLock interface {
	// TryLock acquires the lock without blocking. It returns ErrLockConflict
	// when another holder has a fresh lock.
	TryLock() error
	// Lock retries TryLock until it succeeds or ctx is done.
	Lock(ctx context.Context) error
	// Unlock releases the lock. Releasing a lock that is not held is a no-op.
	Unlock() error
	// Heartbeat refreshes the lock so it is not considered stale.
	Heartbeat(ctx context.Context) error
	// IsLocked reports whether anyone holds a fresh lock.
	IsLocked() bool
	// IsHeldByMe reports whether this instance holds the lock.
	IsHeldByMe() bool
	// Info describes the current holder, or nil when unlocked.
	Info() (*LockInfo, error)
}

// LockOptions configures lock behavior.
type LockOptions struct {
	// StaleThreshold after which an unrefreshed lock is reclaimed (default: 30s).
	StaleThreshold time.Duration
	// RetryInterval between acquisition attempts in Lock (default: 50ms).
	RetryInterval time.Duration
}

// LockInfo contains information about a held lock.
type LockInfo struct {
	AcquiredAt  time.Time
	LockDirName string
}

type dirLock struct {
	targetDir string
	lockPath  string
	opts      LockOptions
	isHeld    bool
	mu        sync.Mutex
}

// New creates a lock over directory. A nil opts uses the defaults.
func New(directory string, opts *LockOptions) DirLock {
	var o LockOptions
	if opts != nil {
		o = *opts
	}
	if o.StaleThreshold <= 0 {
		o.StaleThreshold = 30 * time.Second
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 50 * time.Millisecond
	}
	return &dirLock{
		targetDir: directory,
		lockPath:  filepath.Join(directory, lockDirName),
		opts:      o,
	}
}

func (l *dirLock) TryLock() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.isHeld {
		return nil
	}

	if err := os.MkdirAll(l.targetDir, 0750); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	if err := l.removeIfStale(); err != nil {
		return err
	}

	if err := os.Mkdir(l.lockPath, 0700); err != nil {
		if os.IsExist(err) {
			return ErrLockConflict
		}
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	l.isHeld = true
	return nil
}

func (l *dirLock) Lock(ctx context.Context) error {
	err := l.TryLock()
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrLockConflict) {
		return err
	}

	ticker := time.NewTicker(l.opts.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := l.TryLock()
			if err == nil {
				return nil
			}
			if !errors.Is(err, ErrLockConflict) {
				return err
			}
		}
	}
}

func (l *dirLock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.isHeld {
		return nil
	}
	if err := os.RemoveAll(l.lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock directory: %w", err)
	}
	l.isHeld = false
	return nil
}

func (l *dirLock) Heartbeat(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.isHeld {
		return ErrNotLocked
	}
	now := time.Now()
	if err := os.Chtimes(l.lockPath, now, now); err != nil {
		return fmt.Errorf("failed to refresh lock: %w", err)
	}
	return nil
}

func (l *dirLock) IsLocked() bool {
	info, err := os.Stat(l.lockPath)
	if err != nil {
		return false
	}
	return !l.stale(info)
}

func (l *dirLock) IsHeldByMe() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isHeld
}

func (l *dirLock) Info() (*LockInfo, error) {
	info, err := os.Stat(l.lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat lock directory: %w", err)
	}
	if l.stale(info) {
		return nil, nil
	}
	return &LockInfo{AcquiredAt: info.ModTime(), LockDirName: lockDirName}, nil
}

func (l *dirLock) removeIfStale() error {
	info, err := os.Stat(l.lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat lock directory: %w", err)
	}
	if !l.stale(info) {
		return nil
	}
	if err := os.RemoveAll(l.lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale lock: %w", err)
	}
	return nil
}

func (l *dirLock) stale(info os.FileInfo) bool {
	return time.Since(info.ModTime()) > l.opts.StaleThreshold
}
