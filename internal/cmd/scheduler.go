package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skymosaic/skymosaic/internal/cmn/logger"
	"github.com/skymosaic/skymosaic/internal/cmn/logger/tag"
)

func Scheduler() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "scheduler [flags]",
			Short: "Start the window scheduler",
			Long: `Launch the scheduler that closes the current window every update rate,
processes its images into tiles and carries unprocessed files forward.

Only one scheduler may run per data directory.

Example:
  skymosaic scheduler --update-rate=600
`,
		}, schedulerFlags, runScheduler,
	)
}

var schedulerFlags = []commandLineFlag{imagesFlag, tilesFlag, updateRateFlag}

func runScheduler(ctx *Context, _ []string) error {
	sc, cursor, err := ctx.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	logger.Info(ctx, "Scheduler initialization",
		tag.Dir(ctx.Config.Paths.ImagesDir),
		tag.Window(cursor.Current().Label()),
	)
	if err := sc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	return nil
}
