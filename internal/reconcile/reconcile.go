// Package reconcile carries files a window never consumed over to the next
// window.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/samber/lo"

	"github.com/skymosaic/skymosaic/internal/cmn/fileutil"
	"github.com/skymosaic/skymosaic/internal/cmn/logger"
	"github.com/skymosaic/skymosaic/internal/cmn/logger/tag"
	"github.com/skymosaic/skymosaic/internal/core/capture"
)

// Stragglers lists the files in dir that are neither one of files, nor the
// artifact of one of files, nor the merged raster. Hidden files, such as
// uploads still being written, are never stragglers. The result is sorted.
func Stragglers(dir string, files []string) ([]string, error) {
	present, err := fileutil.ListFiles(dir)
	if err != nil {
		return nil, err
	}

	consumed := make(map[string]struct{}, 2*len(files)+1)
	consumed[capture.MergedFileName] = struct{}{}
	for _, f := range files {
		consumed[f] = struct{}{}
		consumed[capture.ArtifactName(f)] = struct{}{}
	}

	return lo.Filter(present, func(name string, _ int) bool {
		_, ok := consumed[name]
		return !ok
	}), nil
}

// Relocate moves every straggler of dir into nextDir and returns the moved
// names. nextDir is only created when there is something to move. A file of
// the same name already in nextDir is replaced. A straggler that cannot be
// moved stays where it is and its error is returned.
func Relocate(ctx context.Context, dir, nextDir string, files []string) ([]string, error) {
	stragglers, err := Stragglers(dir, files)
	if err != nil {
		return nil, fmt.Errorf("failed to list stragglers: %w", err)
	}
	if len(stragglers) == 0 {
		return nil, nil
	}

	if err := os.MkdirAll(nextDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", nextDir, err)
	}

	var (
		moved []string
		errs  []error
	)
	for _, name := range stragglers {
		src := filepath.Join(dir, name)
		dst := filepath.Join(nextDir, name)
		if err := os.Rename(src, dst); err != nil {
			errs = append(errs, fmt.Errorf("failed to move %s: %w", name, err))
			continue
		}
		moved = append(moved, name)
		logger.Info(ctx, "Carried file forward", tag.File(name), tag.Dir(nextDir))
	}
	return moved, errors.Join(errs...)
}

// ManifestFileName holds the snapshot a tick took from a window directory.
// It is hidden, so it is never listed as an image or a straggler.
const ManifestFileName = ".snapshot.json"

type manifest struct {
	Files []string `json:"files"`
}

// WriteManifest records files as the snapshot taken from dir.
func WriteManifest(dir string, files []string) error {
	if err := fileutil.WriteJSONAtomic(filepath.Join(dir, ManifestFileName), manifest{Files: files}, 0600); err != nil {
		return fmt.Errorf("failed to write snapshot manifest: %w", err)
	}
	return nil
}

// ReadManifest returns the snapshot recorded in dir. ok is false when the
// window was never snapshotted.
func ReadManifest(dir string) (files []string, ok bool, err error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read snapshot manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false, fmt.Errorf("failed to decode snapshot manifest in %s: %w", dir, err)
	}
	return m.Files, true, nil
}

// Sweep moves files that reached the directory of an already closed window
// into nextDir. Files recorded in the window's manifest, and their artifacts,
// stay. Without a manifest the window had nothing to process, so every file
// found there moves.
func Sweep(ctx context.Context, dir, nextDir string) ([]string, error) {
	if !fileutil.IsDir(dir) {
		return nil, nil
	}
	files, _, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	return Relocate(ctx, dir, nextDir, files)
}
