package filecursor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/skymosaic/skymosaic/internal/cmn/fileutil"
	"github.com/skymosaic/skymosaic/internal/core/window"
)

// Source resolves the current window from the cursor file written by a
// scheduler running in another process. Until a scheduler has saved a
// cursor, the fallback cursor is used.
//
// Resolution and the upload write are not atomic with respect to the other
// process advancing. An upload that lands in a window after its snapshot is
// carried forward by the same tick, or by the sweep of closed windows on a
// later one.
type Source struct {
	store    *Store
	fallback *window.Cursor
	cache    *fileutil.Cache[*State]
}

// NewSource creates a Source reading store.
func NewSource(store *Store, fallback *window.Cursor) *Source {
	return &Source{
		store:    store,
		fallback: fallback,
		cache:    fileutil.NewCache[*State]("cursor", 1, time.Minute),
	}
}

// Hold runs fn with the window the scheduler currently fills.
func (s *Source) Hold(fn func(window.Interval) error) error {
	st, err := s.cache.LoadLatest(s.store.path, func() (*State, error) {
		return s.store.Load(context.Background())
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return s.fallback.Hold(fn)
		}
		return fmt.Errorf("failed to resolve current window: %w", err)
	}
	return fn(st.Interval())
}
