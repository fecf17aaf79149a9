// Package window maps time onto the fixed-width windows that group uploads.
package window

import (
	"path/filepath"
	"time"
)

// LabelLayout formats each bound of a window label. Every field has a fixed
// width, so lexical order of labels matches chronological order.
const LabelLayout = "2006-01-02_15:04:05"

// Directory name prefixes for a window's images and tiles.
const (
	ImageDirPrefix = "img"
	TileDirPrefix  = "tms"
)

// Interval is the half-open window [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// For returns the window starting at start with the given width.
func For(start time.Time, width time.Duration) Interval {
	return Interval{Start: start, End: start.Add(width)}
}

// Width is End - Start.
func (i Interval) Width() time.Duration {
	return i.End.Sub(i.Start)
}

// Next returns the window that immediately follows i.
func (i Interval) Next() Interval {
	return For(i.End, i.Width())
}

// Contains reports whether t falls within [Start, End).
func (i Interval) Contains(t time.Time) bool {
	return !t.Before(i.Start) && t.Before(i.End)
}

// Label returns the canonical name of the window, e.g.
// "2024-01-01_00:00:00_2024-01-01_00:10:00". Bounds are rendered in UTC.
func (i Interval) Label() string {
	return i.Start.UTC().Format(LabelLayout) + "_" + i.End.UTC().Format(LabelLayout)
}

func (i Interval) String() string {
	return i.Label()
}

// Label is shorthand for For(start, width).Label().
func Label(start time.Time, width time.Duration) string {
	return For(start, width).Label()
}

// Layout resolves window labels to directories.
type Layout struct {
	ImagesDir string
	TilesDir  string
}

// ImageDir is where uploads for the window with the given label are stored.
func (l Layout) ImageDir(label string) string {
	return filepath.Join(l.ImagesDir, ImageDirPrefix+label)
}

// TileDir is where the tile pyramid of the window is written.
func (l Layout) TileDir(label string) string {
	return filepath.Join(l.TilesDir, TileDirPrefix+label)
}
