// Package pipeline turns the images of a closed window into a merged raster
// and a tile pyramid.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/skymosaic/skymosaic/internal/cmn/fileutil"
	"github.com/skymosaic/skymosaic/internal/cmn/logger"
	"github.com/skymosaic/skymosaic/internal/cmn/logger/tag"
	"github.com/skymosaic/skymosaic/internal/core/capture"
	"github.com/skymosaic/skymosaic/internal/metrics"
)

// Result describes what a run left on disk.
type Result struct {
	// Processed is the number of images that produced an artifact.
	Processed int
	// Failed lists the stored names of images without an artifact.
	Failed []string
	// Artifacts are the produced artifact paths in input order.
	Artifacts []string
	// Merged is the merged raster path, empty when no artifact was produced.
	Merged string
	// Tiled reports whether the tile pyramid was written.
	Tiled bool
}

// Pipeline runs the per-image stages and the window-level merge and tiling.
type Pipeline struct {
	science     Science
	concurrency int
	noData      int
	metrics     *metrics.Metrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithConcurrency bounds how many images are processed at once.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithNoDataValue sets the no-data value applied to a single-artifact window.
func WithNoDataValue(v int) Option {
	return func(p *Pipeline) {
		p.noData = v
	}
}

// WithMetrics records per-image results.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// New creates a Pipeline backed by science.
func New(science Science, opts ...Option) *Pipeline {
	p := &Pipeline{science: science, concurrency: 1}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes files, the stored names of the images in dir, and writes
// the tile pyramid to tileDir.
//
// A failing image never stops the others; it is logged and left without an
// artifact. With two or more artifacts they are merged, a single artifact is
// copied and its no-data value normalized, and without artifacts nothing
// further happens. A merge or tiling failure is returned as a *StageError.
func (p *Pipeline) Run(ctx context.Context, dir, tileDir string, files []string) (*Result, error) {
	if len(files) == 0 {
		return nil, ErrNoInput
	}
	started := time.Now()
	logger.Info(ctx, "Processing window", tag.Dir(dir), tag.Count(len(files)))

	inputs := lo.Map(files, func(name string, _ int) Input {
		return newInput(dir, name)
	})
	failed := make([]bool, len(inputs))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, in := range inputs {
		g.Go(func() error {
			if err := p.processFile(ctx, in); err != nil {
				failed[i] = true
				p.metrics.PipelineFile(metrics.ResultFailed)
				logger.Warn(ctx, "Failed to process image", tag.File(in.File), tag.Error(err))
				discard(in.Artifact)
				return nil
			}
			p.metrics.PipelineFile(metrics.ResultOK)
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{}
	for i, in := range inputs {
		if !failed[i] && fileutil.IsFile(in.Artifact) {
			res.Artifacts = append(res.Artifacts, in.Artifact)
			continue
		}
		res.Failed = append(res.Failed, in.File)
	}
	res.Processed = len(res.Artifacts)

	if err := ctx.Err(); err != nil {
		return res, err
	}
	if len(res.Artifacts) == 0 {
		logger.Warn(ctx, "No artifacts produced", tag.Dir(dir), tag.Count(len(files)))
		return res, nil
	}

	merged := filepath.Join(dir, capture.MergedFileName)
	if err := p.merge(ctx, res.Artifacts, merged); err != nil {
		return res, err
	}
	res.Merged = merged

	if err := p.science.Tile(ctx, merged, tileDir); err != nil {
		return res, &StageError{Stage: StageTile, Err: err}
	}
	res.Tiled = true

	logger.Info(ctx, "Window processed",
		tag.Dir(dir),
		tag.Count(res.Processed),
		tag.Int("failed", len(res.Failed)),
		tag.Duration(time.Since(started)),
	)
	return res, nil
}

func (p *Pipeline) merge(ctx context.Context, artifacts []string, merged string) error {
	if len(artifacts) > 1 {
		if err := p.science.Merge(ctx, artifacts, merged); err != nil {
			return &StageError{Stage: StageMerge, Err: err}
		}
		return nil
	}
	if err := fileutil.CopyFile(artifacts[0], merged); err != nil {
		return &StageError{Stage: StageCopy, Err: err}
	}
	if err := p.science.SetNoData(ctx, merged, p.noData); err != nil {
		return &StageError{Stage: StageNoData, Err: err}
	}
	return nil
}

func (p *Pipeline) processFile(ctx context.Context, in Input) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.science.Preprocess(ctx, in); err != nil {
		return &StageError{Stage: stagePrepare, Err: err}
	}
	if err := p.science.Georeference(ctx, in); err != nil {
		return &StageError{Stage: stageGeoref, Err: err}
	}
	if !fileutil.IsFile(in.Artifact) {
		return &StageError{Stage: stageGeoref, Err: errors.New("artifact was not produced")}
	}
	return nil
}

func newInput(dir, name string) Input {
	in := Input{
		Path:     filepath.Join(dir, name),
		Artifact: filepath.Join(dir, capture.ArtifactName(name)),
		File:     name,
	}
	if category, filename, ok := capture.ParseStoredName(name); ok {
		in.Category = category
		in.Capture, _ = capture.Parse(filename)
	}
	return in
}

// discard removes a partial artifact so that only images that went through
// every stage have one.
func discard(path string) {
	_ = os.Remove(path)
}
