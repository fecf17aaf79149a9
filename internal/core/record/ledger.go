package record

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Ledger is the in-memory owner of the Record, written through to a Store.
type Ledger struct {
	mu    sync.RWMutex
	store Store
	rec   *Record
}

// NewLedger creates a ledger backed by store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// Load reads the persisted record. When nothing is persisted yet a fresh
// record with defaultWidth is created and saved. A persisted width always
// takes precedence over defaultWidth; a missing one is replaced by it and a
// negative one is an error.
func (l *Ledger) Load(ctx context.Context, defaultWidth time.Duration) (*Record, error) {
	rec, err := l.store.Load(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		rec = New(defaultWidth)
		if err := l.store.Save(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to save initial record: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to load record: %w", err)
	}
	switch {
	case rec.UpdateRate < 0:
		return nil, fmt.Errorf("%w: %d", ErrInvalidUpdateRate, rec.UpdateRate)
	case rec.UpdateRate == 0:
		rec.UpdateRate = int(defaultWidth / time.Second)
	}

	l.mu.Lock()
	l.rec = rec
	l.mu.Unlock()
	return rec.Clone(), nil
}

// Snapshot returns a copy of the current record.
func (l *Ledger) Snapshot() *Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.rec == nil {
		return &Record{Windows: map[int]string{}}
	}
	return l.rec.Clone()
}

// Complete appends label and persists the result. The in-memory record only
// changes once the save succeeded.
func (l *Ledger) Complete(ctx context.Context, label string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rec == nil {
		return 0, errors.New("ledger is not loaded")
	}

	next := l.rec.Clone()
	idx := next.Complete(label)
	if err := l.store.Save(ctx, next); err != nil {
		return 0, fmt.Errorf("failed to persist window %s: %w", label, err)
	}
	l.rec = next
	return idx, nil
}

// Persist saves the current record as is.
func (l *Ledger) Persist(ctx context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.rec == nil {
		return nil
	}
	if err := l.store.Save(ctx, l.rec); err != nil {
		return fmt.Errorf("failed to persist record: %w", err)
	}
	return nil
}
