package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type commandLineFlag struct {
	name, shorthand, defaultValue, usage string
	isBool                               bool
	// viperKey binds the flag to a configuration key when set.
	viperKey string
}

var (
	configFlag = commandLineFlag{
		name:      "config",
		shorthand: "c",
		usage:     "config file (default is $XDG_CONFIG_HOME/skymosaic/config.yaml)",
	}
	quietFlag = commandLineFlag{
		name:      "quiet",
		shorthand: "q",
		usage:     "suppress log output to stderr",
		isBool:    true,
	}
	hostFlag = commandLineFlag{
		name:      "host",
		shorthand: "s",
		usage:     "server host (default is 127.0.0.1)",
		viperKey:  "host",
	}
	portFlag = commandLineFlag{
		name:      "port",
		shorthand: "p",
		usage:     "server port (default is 8080)",
		viperKey:  "port",
	}
	imagesFlag = commandLineFlag{
		name:     "images",
		usage:    "directory receiving uploaded images",
		viperKey: "paths.imagesDir",
	}
	tilesFlag = commandLineFlag{
		name:     "tiles",
		usage:    "directory receiving tile pyramids",
		viperKey: "paths.tilesDir",
	}
	updateRateFlag = commandLineFlag{
		name:     "update-rate",
		usage:    "window width in seconds, used when the record does not define one",
		viperKey: "scheduler.updateRate",
	}
)

var commonFlags = []commandLineFlag{configFlag, quietFlag}

func initFlags(cmd *cobra.Command, flags ...commandLineFlag) {
	for _, flag := range append(commonFlags, flags...) {
		if flag.isBool {
			cmd.Flags().BoolP(flag.name, flag.shorthand, flag.defaultValue == "true", flag.usage)
			continue
		}
		cmd.Flags().StringP(flag.name, flag.shorthand, flag.defaultValue, flag.usage)
	}
}

// bindFlags binds every flag carrying a viper key so that an explicitly set
// flag overrides the configuration file and the environment.
func bindFlags(v *viper.Viper, cmd *cobra.Command, flags ...commandLineFlag) error {
	for _, flag := range flags {
		if flag.viperKey == "" {
			continue
		}
		if err := v.BindPFlag(flag.viperKey, cmd.Flags().Lookup(flag.name)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag.name, err)
		}
	}
	return nil
}
