// Package record holds the persisted bookkeeping of completed windows.
package record

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"
)

// ErrNotFound is returned by a Store that has nothing persisted yet.
var ErrNotFound = errors.New("record not found")

// ErrInvalidUpdateRate is returned for a persisted window width below zero.
var ErrInvalidUpdateRate = errors.New("invalid update_rate")

// Record is the persisted configuration: the window width and the ordered
// labels of every window whose tiles were produced.
type Record struct {
	// UpdateRate is the window width in seconds.
	UpdateRate int
	// Counter is the number of completed windows and the index of the next one.
	Counter int
	// Windows maps the completion index to the window label.
	Windows map[int]string
	// Extra keeps unrecognized keys of the persisted document verbatim.
	Extra map[string][]byte
}

// New returns an empty record for windows of the given width.
func New(width time.Duration) *Record {
	return &Record{
		UpdateRate: int(width / time.Second),
		Windows:    make(map[int]string),
	}
}

// Width returns the window width.
func (r *Record) Width() time.Duration {
	return time.Duration(r.UpdateRate) * time.Second
}

// Complete appends label as the next completed window.
func (r *Record) Complete(label string) int {
	if r.Windows == nil {
		r.Windows = make(map[int]string)
	}
	idx := r.Counter
	r.Windows[idx] = label
	r.Counter++
	return idx
}

// Labels returns the completed window labels in completion order.
func (r *Record) Labels() []string {
	keys := slices.Sorted(maps.Keys(r.Windows))
	labels := make([]string, 0, len(keys))
	for _, k := range keys {
		labels = append(labels, r.Windows[k])
	}
	return labels
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	out := &Record{
		UpdateRate: r.UpdateRate,
		Counter:    r.Counter,
		Windows:    maps.Clone(r.Windows),
	}
	if out.Windows == nil {
		out.Windows = make(map[int]string)
	}
	if r.Extra != nil {
		out.Extra = make(map[string][]byte, len(r.Extra))
		for k, v := range r.Extra {
			out.Extra[k] = slices.Clone(v)
		}
	}
	return out
}

// Store persists a Record.
type Store interface {
	// Load returns the persisted record or ErrNotFound.
	Load(ctx context.Context) (*Record, error)
	// Save replaces the persisted record atomically.
	Save(ctx context.Context, rec *Record) error
}
