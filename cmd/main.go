package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/skymosaic/skymosaic/internal/build"
	"github.com/skymosaic/skymosaic/internal/cmd"
)

var rootCmd = &cobra.Command{
	Use:   build.Slug,
	Short: "Skymosaic groups satellite captures into time windows and tiles them",
	Long: `Skymosaic receives satellite capture images from remote stations, groups
them into fixed-width time windows and, when a window closes, merges its
images into a single raster and renders it as a map tile pyramid.
`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(cmd.Server())
	rootCmd.AddCommand(cmd.Scheduler())
	rootCmd.AddCommand(cmd.StartAll())
	rootCmd.AddCommand(cmd.Tick())
	rootCmd.AddCommand(cmd.Status())
	rootCmd.AddCommand(cmd.Version())

	build.Version = version
}

var version = "0.0.0"
