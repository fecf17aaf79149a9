// Package ingest stores uploaded capture images in the directory of the
// window currently receiving uploads.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/skymosaic/skymosaic/internal/cmn/fileutil"
	"github.com/skymosaic/skymosaic/internal/cmn/logger"
	"github.com/skymosaic/skymosaic/internal/cmn/logger/tag"
	"github.com/skymosaic/skymosaic/internal/core/capture"
	"github.com/skymosaic/skymosaic/internal/core/window"
	"github.com/skymosaic/skymosaic/internal/metrics"
)

// ErrInvalidCategory is returned for categories that cannot be part of a
// file name.
var ErrInvalidCategory = errors.New("invalid category")

// WindowSource provides the window currently receiving uploads. fn runs
// while the window cannot be closed.
type WindowSource interface {
	Hold(fn func(window.Interval) error) error
}

// Sink accepts uploads.
type Sink struct {
	source  WindowSource
	layout  window.Layout
	metrics *metrics.Metrics
}

// NewSink creates a Sink storing files under layout.
func NewSink(source WindowSource, layout window.Layout, m *metrics.Metrics) *Sink {
	return &Sink{source: source, layout: layout, metrics: m}
}

// Accept stores the content of r as <category>_<filename> in the current
// window's image directory. Files whose name is not a capture image are
// ignored and (false, nil) is returned. Only the base name of filename is
// used. An existing file with the same stored name is replaced.
func (s *Sink) Accept(ctx context.Context, category, filename string, r io.Reader) (bool, error) {
	name := baseName(filename)
	if !capture.IsCaptureFilename(name) {
		s.metrics.Upload(metrics.ResultRejected)
		logger.Debug(ctx, "Ignoring upload", tag.File(filename))
		return false, nil
	}
	if err := validateCategory(category); err != nil {
		s.metrics.Upload(metrics.ResultRejected)
		return false, err
	}

	stored := capture.StoredName(category, name)
	var target string
	err := s.source.Hold(func(in window.Interval) error {
		dir := s.layout.ImageDir(in.Label())
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create window directory: %w", err)
		}
		target = filepath.Join(dir, stored)
		return fileutil.WriteReaderAtomic(target, r, 0640)
	})
	if err != nil {
		s.metrics.Upload(metrics.ResultError)
		return false, fmt.Errorf("failed to store %s: %w", stored, err)
	}

	s.metrics.Upload(metrics.ResultAccepted)
	logger.Info(ctx, "Upload stored",
		tag.Category(category),
		tag.File(stored),
		tag.Path(target),
	)
	return true, nil
}

// baseName strips any directory components a client may send, using both
// separators regardless of platform.
func baseName(filename string) string {
	if i := strings.LastIndexAny(filename, `/\`); i >= 0 {
		filename = filename[i+1:]
	}
	return filename
}

func validateCategory(category string) error {
	if strings.ContainsAny(category, `/\`) || strings.Contains(category, "..") ||
		strings.HasPrefix(category, ".") || strings.ContainsRune(category, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}
	return nil
}
