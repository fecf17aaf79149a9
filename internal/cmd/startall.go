package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/skymosaic/skymosaic/internal/cmn/logger"
	"github.com/skymosaic/skymosaic/internal/cmn/logger/tag"
)

func StartAll() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "start-all [flags]",
			Short: "Launch the server and the scheduler in a single process",
			Long: `Simultaneously start the upload server and the window scheduler.

Both share the in-memory window cursor, so an upload either completes before a
window is closed or lands in the next window.

Example:
  skymosaic start-all --host=0.0.0.0 --port=8080 --update-rate=600

This process runs continuously in the foreground until terminated.
`,
		}, startAllFlags, runStartAll,
	)
}

var startAllFlags = []commandLineFlag{hostFlag, portFlag, imagesFlag, tilesFlag, updateRateFlag}

func runStartAll(ctx *Context, _ []string) error {
	signalCtx, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sc, cursor, err := ctx.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}
	server := ctx.NewServer(cursor)

	logger.Info(ctx, "Starting all services",
		tag.Window(cursor.Current().Label()),
		tag.Dir(ctx.Config.Paths.ImagesDir),
	)

	g, gctx := errgroup.WithContext(signalCtx)
	g.Go(func() error {
		if err := sc.Start(gctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		return context.Canceled
	})
	g.Go(func() error {
		if err := server.Serve(gctx); err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return context.Canceled
	})

	// Either service returning stops the other.
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info(ctx, "All services stopped")
	return nil
}
