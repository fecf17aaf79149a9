// Package tag provides standardized tag functions for structured logging.
//
// All tag keys use kebab-case. Use these helpers instead of raw strings so
// that log output stays consistent across packages.
package tag

import (
	"log/slog"
	"time"
)

// Error creates a tag for error values.
func Error(err any) slog.Attr {
	return slog.Any("err", err)
}

// String creates a free-form string tag.
func String(key, value string) slog.Attr {
	return slog.String(key, value)
}

// File creates a tag for file paths.
func File(path string) slog.Attr {
	return slog.String("file", path)
}

// Dir creates a tag for directory paths.
func Dir(path string) slog.Attr {
	return slog.String("dir", path)
}

// Path creates a tag for generic paths.
func Path(path string) slog.Attr {
	return slog.String("path", path)
}

// Window creates a tag for window labels.
func Window(label string) slog.Attr {
	return slog.String("window", label)
}

// Category creates a tag for the uploader-supplied category.
func Category(c string) slog.Attr {
	return slog.String("category", c)
}

// TickID creates a tag for tick identifiers.
func TickID(id string) slog.Attr {
	return slog.String("tick-id", id)
}

// Stage creates a tag for pipeline stage names.
func Stage(name string) slog.Attr {
	return slog.String("stage", name)
}

// Outcome creates a tag for tick outcomes.
func Outcome(o string) slog.Attr {
	return slog.String("outcome", o)
}

// Count creates a tag for numeric counts.
func Count(n int) slog.Attr {
	return slog.Int("count", n)
}

// Int creates a numeric tag with a custom key.
func Int(key string, n int) slog.Attr {
	return slog.Int(key, n)
}

// Counter creates a tag for the completed-window counter.
func Counter(n int) slog.Attr {
	return slog.Int("counter", n)
}

// Interval creates a tag for durations between runs.
func Interval(d time.Duration) slog.Attr {
	return slog.Duration("interval", d)
}

// Duration creates a tag for elapsed time.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Time creates a tag for points in time.
func Time(key string, t time.Time) slog.Attr {
	return slog.Time(key, t)
}

// Command creates a tag for external command lines.
func Command(cmd string) slog.Attr {
	return slog.String("command", cmd)
}

// Addr creates a tag for listen addresses.
func Addr(addr string) slog.Attr {
	return slog.String("addr", addr)
}
