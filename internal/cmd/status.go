package cmd

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/skymosaic/skymosaic/internal/cmn/dirlock"
	"github.com/skymosaic/skymosaic/internal/core/record"
	"github.com/skymosaic/skymosaic/internal/persis/filecursor"
)

func Status() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "status [flags]",
			Short: "Display the scheduler cursor and completed windows",
			Long: `Show whether a scheduler is running, the window currently receiving
uploads and every window whose tiles were produced.
`,
			Args: cobra.NoArgs,
		}, nil, runStatus,
	)
}

var statusHeader = table.Row{
	"Scheduler",
	"Current Window",
	"Update Rate",
	"Completed",
}

var windowsHeader = table.Row{
	"#",
	"Window",
}

func runStatus(ctx *Context, _ []string) error {
	rec, err := ctx.Records.Load(ctx)
	switch {
	case errors.Is(err, record.ErrNotFound):
		rec = record.New(ctx.Config.Scheduler.UpdateRate)
	case err != nil:
		return fmt.Errorf("failed to load record: %w", err)
	}

	current := "not started"
	st, err := ctx.Cursors.Load(ctx)
	switch {
	case errors.Is(err, filecursor.ErrNotFound):
	case err != nil:
		return fmt.Errorf("failed to load cursor: %w", err)
	default:
		current = st.Interval().Label()
	}

	state := "stopped"
	info, err := dirlock.New(ctx.Config.Paths.LockDir(), nil).Info()
	if err != nil {
		return fmt.Errorf("failed to read scheduler lock: %w", err)
	}
	if info != nil {
		state = "running (seen " + info.AcquiredAt.UTC().Format(time.RFC3339) + ")"
	}

	renderStatus(ctx.Command.OutOrStdout(), state, current, rec)
	return nil
}

func renderStatus(w io.Writer, state, current string, rec *record.Record) {
	summary := table.NewWriter()
	summary.SetOutputMirror(w)
	summary.AppendHeader(statusHeader)
	summary.AppendRow(table.Row{state, current, rec.Width().String(), rec.Counter})
	summary.Render()

	if len(rec.Windows) == 0 {
		return
	}
	windows := table.NewWriter()
	windows.SetOutputMirror(w)
	windows.AppendHeader(windowsHeader)
	for _, idx := range slices.Sorted(maps.Keys(rec.Windows)) {
		windows.AppendRow(table.Row{strconv.Itoa(idx), rec.Windows[idx]})
	}
	windows.Render()
}
