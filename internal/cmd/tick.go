package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func Tick() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "tick [flags]",
			Short: "Close the current window once",
			Long: `Run a single scheduler tick: process the images of the current window,
advance the cursor and carry unprocessed files forward.

The command is refused while a scheduler holds the lock of the data directory.
`,
			Args: cobra.NoArgs,
		}, tickFlags, runTick,
	)
}

var tickFlags = []commandLineFlag{imagesFlag, tilesFlag, updateRateFlag}

func runTick(ctx *Context, _ []string) error {
	sc, cursor, err := ctx.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}
	label := cursor.Current().Label()

	outcome, err := sc.TickOnce(ctx)
	if err != nil {
		return fmt.Errorf("tick over window %s failed: %w", label, err)
	}
	_, _ = fmt.Fprintf(ctx.Command.OutOrStdout(), "%s\t%s\n", label, outcome)
	return nil
}
