package pipeline

import (
	"context"

	"github.com/skymosaic/skymosaic/internal/core/capture"
)

// Input describes one stored image handed to the per-file stages.
type Input struct {
	// Path of the stored image.
	Path string
	// Artifact is the path the georeferenced artifact must be written to.
	Artifact string
	// File is the stored name, Category and Capture are parsed from it.
	File     string
	Category string
	Capture  *capture.Capture
}

// Science is the image-processing toolchain. Every method either produces
// its output file or returns an error.
type Science interface {
	// Preprocess converts in.Path into the artifact at in.Artifact.
	Preprocess(ctx context.Context, in Input) error
	// Georeference georeferences the artifact at in.Artifact in place.
	Georeference(ctx context.Context, in Input) error
	// Merge combines the artifacts into output.
	Merge(ctx context.Context, artifacts []string, output string) error
	// SetNoData sets the no-data value of the raster at path in place.
	SetNoData(ctx context.Context, path string, value int) error
	// Tile renders input as a tile pyramid under outDir.
	Tile(ctx context.Context, input, outDir string) error
}
