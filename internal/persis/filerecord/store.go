// Package filerecord persists the window record as a flat JSON document.
package filerecord

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/skymosaic/skymosaic/internal/cmn/fileutil"
	"github.com/skymosaic/skymosaic/internal/core/record"
)

var _ record.Store = (*Store)(nil)

const lockRetryDelay = 10 * time.Millisecond

// Store reads and writes the record file. Access is serialized in process
// with a mutex and across processes with an advisory lock next to the file,
// so the server and the scheduler can share it.
type Store struct {
	path  string
	mu    sync.Mutex
	lock  *flock.Flock
	cache *fileutil.Cache[*record.Record]
}

// Option configures a Store.
type Option func(*Store)

// WithCache serves repeated loads of an unchanged file from cache.
func WithCache(cache *fileutil.Cache[*record.Record]) Option {
	return func(s *Store) {
		s.cache = cache
	}
}

// New creates a Store for the file at path.
func New(path string, opts ...Option) *Store {
	s := &Store{
		path: path,
		lock: flock.New(path + ".lock"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the record file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the persisted record, or record.ErrNotFound if the file does
// not exist yet.
func (s *Store) Load(ctx context.Context) (*record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); err != nil {
		if os.IsNotExist(err) {
			return nil, record.ErrNotFound
		}
		return nil, fmt.Errorf("failed to stat record file: %w", err)
	}

	if _, err := s.lock.TryRLockContext(ctx, lockRetryDelay); err != nil {
		return nil, fmt.Errorf("failed to lock record file: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	var (
		rec *record.Record
		err error
	)
	if s.cache != nil {
		rec, err = s.cache.LoadLatest(s.path, s.read)
	} else {
		rec, err = s.read()
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, record.ErrNotFound
		}
		return nil, err
	}
	return rec.Clone(), nil
}

// Save writes rec atomically.
func (s *Store) Save(ctx context.Context, rec *record.Record) error {
	data, err := encode(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0750); err != nil {
		return fmt.Errorf("failed to create record directory: %w", err)
	}
	if _, err := s.lock.TryLockContext(ctx, lockRetryDelay); err != nil {
		return fmt.Errorf("failed to lock record file: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	if err := fileutil.WriteFileAtomic(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write record file: %w", err)
	}
	if s.cache != nil {
		s.cache.Invalidate(s.path)
	}
	return nil
}

func (s *Store) read() (*record.Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read record file: %w", err)
	}
	rec, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	return rec, nil
}
