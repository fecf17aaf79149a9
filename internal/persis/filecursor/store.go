// Package filecursor persists the scheduler's window cursor so a restarted
// scheduler resumes where it stopped.
package filecursor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/skymosaic/skymosaic/internal/cmn/fileutil"
	"github.com/skymosaic/skymosaic/internal/core/window"
)

// ErrNotFound is returned when no cursor has been saved yet.
var ErrNotFound = errors.New("cursor not found")

const stateVersion = 1

// State is the persisted cursor.
type State struct {
	Version   int       `json:"version"`
	Start     time.Time `json:"start"`
	Width     int64     `json:"width"` // seconds
	UpdatedAt time.Time `json:"updatedAt"`
}

// Interval returns the window the state points at.
func (s State) Interval() window.Interval {
	return window.For(s.Start, time.Duration(s.Width)*time.Second)
}

// Store reads and writes the cursor file.
type Store struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// New creates a Store for the file at path.
func New(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// Load returns the saved cursor, or ErrNotFound. A corrupt file is an error.
func (s *Store) Load(_ context.Context) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path) //nolint:gosec // path derived from internal config
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read cursor: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse cursor %s: %w", s.path, err)
	}
	if st.Width <= 0 {
		return nil, fmt.Errorf("invalid cursor width %d in %s", st.Width, s.path)
	}
	return &st, nil
}

// Save writes the start of the current window atomically.
func (s *Store) Save(_ context.Context, in window.Interval) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0750); err != nil {
		return fmt.Errorf("failed to create cursor directory: %w", err)
	}
	st := State{
		Version:   stateVersion,
		Start:     in.Start.UTC(),
		Width:     int64(in.Width() / time.Second),
		UpdatedAt: s.now().UTC(),
	}
	if err := fileutil.WriteJSONAtomic(s.path, st, 0600); err != nil {
		return fmt.Errorf("failed to write cursor: %w", err)
	}
	return nil
}

// Restore returns a cursor positioned at the saved window, or at the window
// starting at now when nothing was saved. A saved width that differs from
// width is ignored in favor of width; the saved start is kept.
func (s *Store) Restore(ctx context.Context, now time.Time, width time.Duration) (*window.Cursor, error) {
	st, err := s.Load(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		return window.NewCursor(now, width), nil
	case err != nil:
		return nil, err
	}
	return window.NewCursor(st.Start, width), nil
}
