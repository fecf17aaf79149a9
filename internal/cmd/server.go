package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skymosaic/skymosaic/internal/cmn/logger"
	"github.com/skymosaic/skymosaic/internal/cmn/logger/tag"
	"github.com/skymosaic/skymosaic/internal/persis/filecursor"
)

func Server() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "server [flags]",
			Short: "Start the upload and tile server",
			Long: `Launch the HTTP server that receives capture uploads and serves tile pyramids.

Uploads are stored in the window published by the scheduler through the cursor
file. Run 'skymosaic scheduler' alongside, or use 'skymosaic start-all' to run
both in one process.

An upload that resolved its window just before the scheduler closed it may
finish after that window was processed. The scheduler sweeps the two windows
before the one it closes and moves such files forward; an upload that takes
longer than that stays in its old window.

Example:
  skymosaic server --host=0.0.0.0 --port=8080
`,
		}, serverFlags, runServer,
	)
}

var serverFlags = []commandLineFlag{hostFlag, portFlag, imagesFlag, tilesFlag}

func runServer(ctx *Context, _ []string) error {
	_, width, err := ctx.NewLedger()
	if err != nil {
		return fmt.Errorf("failed to load record: %w", err)
	}
	fallback, err := ctx.NewCursor(width)
	if err != nil {
		return err
	}
	source := filecursor.NewSource(ctx.Cursors, fallback)

	logger.Info(ctx, "Server initialization",
		tag.Dir(ctx.Config.Paths.ImagesDir),
		tag.Interval(width),
		tag.Time("window-start", fallback.Start()),
	)
	if err := ctx.NewServer(source).Serve(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}
