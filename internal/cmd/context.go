package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/skymosaic/skymosaic/internal/build"
	"github.com/skymosaic/skymosaic/internal/cmn/config"
	"github.com/skymosaic/skymosaic/internal/cmn/fileutil"
	"github.com/skymosaic/skymosaic/internal/cmn/logger"
	"github.com/skymosaic/skymosaic/internal/cmn/logger/tag"
	"github.com/skymosaic/skymosaic/internal/core/record"
	"github.com/skymosaic/skymosaic/internal/core/window"
	"github.com/skymosaic/skymosaic/internal/ingest"
	"github.com/skymosaic/skymosaic/internal/metrics"
	"github.com/skymosaic/skymosaic/internal/persis/filecursor"
	"github.com/skymosaic/skymosaic/internal/persis/filerecord"
	"github.com/skymosaic/skymosaic/internal/pipeline"
	"github.com/skymosaic/skymosaic/internal/pipeline/gdal"
	"github.com/skymosaic/skymosaic/internal/service/frontend"
	"github.com/skymosaic/skymosaic/internal/service/scheduler"
	"github.com/skymosaic/skymosaic/internal/tiles"
)

// Context holds the configuration and shared stores of a command.
type Context struct {
	context.Context

	Command  *cobra.Command
	Config   *config.Config
	Quiet    bool
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Records  *filerecord.Store
	Cursors  *filecursor.Store

	logFile *os.File
}

// NewContext loads the configuration and sets up the logger.
func NewContext(cmd *cobra.Command, flags []commandLineFlag) (*Context, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	v := viper.New()
	if err := bindFlags(v, cmd, flags...); err != nil {
		return nil, err
	}

	quiet, err := cmd.Flags().GetBool("quiet")
	if err != nil {
		return nil, fmt.Errorf("failed to get quiet flag: %w", err)
	}

	var loaderOpts []config.ConfigLoaderOption
	if cfgPath, _ := cmd.Flags().GetString("config"); cfgPath != "" {
		loaderOpts = append(loaderOpts, config.WithConfigFile(cfgPath))
	}
	cfg, err := config.NewConfigLoader(v, loaderOpts...).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	c := &Context{
		Context: ctx,
		Command: cmd,
		Config:  cfg,
		Quiet:   quiet,
		Records: filerecord.New(cfg.Paths.RecordFile,
			filerecord.WithCache(fileutil.NewCache[*record.Record]("record", 1, time.Minute)),
		),
		Cursors: filecursor.New(cfg.Paths.CursorFile),
	}

	var logFile *os.File
	switch cmd.Name() {
	case "server", "scheduler", "start-all":
		logFile, err = openLogFile(cfg.Paths.LogDir, cmd.Name())
		if err != nil {
			return nil, err
		}
		c.Registry = prometheus.NewRegistry()
		c.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		c.Metrics = metrics.New(c.Registry)
	}
	c.setupLogger(logFile)

	for _, w := range cfg.Warnings {
		logger.Warn(c, w)
	}
	if cfg.Global.ConfigFileUsed != "" {
		logger.Debug(c, "Configuration loaded", tag.File(cfg.Global.ConfigFileUsed))
	}
	return c, nil
}

func (c *Context) setupLogger(f *os.File) {
	var opts []logger.Option
	if c.Config.Global.Debug || os.Getenv("DEBUG") != "" {
		opts = append(opts, logger.WithDebug())
	}
	if c.Quiet {
		opts = append(opts, logger.WithQuiet())
	}
	if c.Config.Global.LogFormat != "" {
		opts = append(opts, logger.WithFormat(c.Config.Global.LogFormat))
	}
	if f != nil {
		opts = append(opts, logger.WithWriter(f))
		c.logFile = f
	}
	c.Context = logger.WithLogger(c.Context, logger.NewLogger(opts...))
}

// Close releases the log file.
func (c *Context) Close() {
	if c.logFile != nil {
		_ = c.logFile.Close()
	}
}

func openLogFile(dir, name string) (*os.File, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	f, err := fileutil.OpenOrCreateFile(filepath.Join(dir, build.Slug+"-"+name+".log"))
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// Layout returns the directory layout of windows.
func (c *Context) Layout() window.Layout {
	return window.Layout{
		ImagesDir: c.Config.Paths.ImagesDir,
		TilesDir:  c.Config.Paths.TilesDir,
	}
}

// NewLedger loads the record of completed windows. The window width stored in
// the record takes precedence over the configured one.
func (c *Context) NewLedger() (*record.Ledger, time.Duration, error) {
	ledger := record.NewLedger(c.Records)
	rec, err := ledger.Load(c, c.Config.Scheduler.UpdateRate)
	if err != nil {
		return nil, 0, err
	}
	width := rec.Width()
	if width != c.Config.Scheduler.UpdateRate {
		logger.Info(c, "Using window width from record",
			tag.Interval(width),
			tag.File(c.Records.Path()),
		)
	}
	return ledger, width, nil
}

// NewCursor restores the cursor saved by the last scheduler run, or starts a
// new one at the current time.
func (c *Context) NewCursor(width time.Duration) (*window.Cursor, error) {
	cursor, err := c.Cursors.Restore(c, time.Now(), width)
	if err != nil {
		return nil, fmt.Errorf("failed to restore cursor: %w", err)
	}
	return cursor, nil
}

// NewPipeline builds the pipeline running the configured toolchain.
func (c *Context) NewPipeline() *pipeline.Pipeline {
	p := c.Config.Pipeline
	science := gdal.New(gdal.Commands{
		Preprocess:   p.Preprocess,
		Georeference: p.Georeference,
		Merge:        p.Merge,
		NoData:       p.NoData,
		Tile:         p.Tile,
		WorkDir:      p.WorkDir,
	})
	return pipeline.New(science,
		pipeline.WithConcurrency(c.Config.Scheduler.Concurrency),
		pipeline.WithNoDataValue(p.NoDataValue),
		pipeline.WithMetrics(c.Metrics),
	)
}

// NewUpdater wires the tick handler over cursor.
func (c *Context) NewUpdater(cursor *window.Cursor, ledger *record.Ledger) *scheduler.Updater {
	return scheduler.NewUpdater(cursor, c.Layout(), c.NewPipeline(), ledger,
		scheduler.WithCursorStore(c.Cursors),
		scheduler.WithUpdaterMetrics(c.Metrics),
	)
}

// NewScheduler builds a scheduler together with the cursor it drives.
func (c *Context) NewScheduler() (*scheduler.Scheduler, *window.Cursor, error) {
	ledger, width, err := c.NewLedger()
	if err != nil {
		return nil, nil, err
	}
	cursor, err := c.NewCursor(width)
	if err != nil {
		return nil, nil, err
	}
	return scheduler.New(c.Config, c.NewUpdater(cursor, ledger)), cursor, nil
}

// NewServer builds the HTTP server storing uploads in the window resolved by
// source.
func (c *Context) NewServer(source ingest.WindowSource) *frontend.Server {
	sink := ingest.NewSink(source, c.Layout(), c.Metrics)
	var opts []frontend.ServerOption
	if c.Registry != nil {
		opts = append(opts, frontend.WithGatherer(c.Registry))
	}
	return frontend.NewServer(c.Config, sink, tiles.New(c.Config.Paths.TilesDir), c.Records, opts...)
}

// NewCommand creates a new command instance with the given cobra command and run function.
func NewCommand(cmd *cobra.Command, flags []commandLineFlag, runFunc func(cmd *Context, args []string) error) *cobra.Command {
	initFlags(cmd, flags...)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx, err := NewContext(cmd, flags)
		if err != nil {
			return fmt.Errorf("initialization error: %w", err)
		}
		defer ctx.Close()

		if err := runFunc(ctx, args); err != nil {
			logger.Error(ctx, "Command failed", tag.Error(err))
			return err
		}
		return nil
	}
	cmd.SilenceUsage = true
	return cmd
}
