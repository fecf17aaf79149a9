package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/skymosaic/skymosaic/internal/build"
	"github.com/skymosaic/skymosaic/internal/cmn/fileutil"
	"github.com/spf13/viper"
)

// Default command templates. They drive the GDAL command line tools.
const (
	DefaultPreprocessCommand   = `gdal_translate -q -of GTiff -mo "SAT_TYPE=$CATEGORY" "$INPUT" "$OUTPUT"`
	DefaultGeoreferenceCommand = `gdal_edit.py -a_srs EPSG:4326 "$INPUT"`
	DefaultMergeCommand        = `gdal_merge.py -q -n 0 -a_nodata 0 -o "$OUTPUT" $INPUTS`
	DefaultNoDataCommand       = `gdal_edit.py -a_nodata $NODATA "$INPUT"`
	DefaultTileCommand         = `gdal2tiles.py --profile=mercator -z 1-6 -w none "$INPUT" "$OUTPUT"`
)

// ConfigLoader reads and merges configuration from the config file, the
// environment and bound command line flags.
type ConfigLoader struct {
	v          *viper.Viper
	configFile string
	appHomeDir string
	warnings   []string
}

// ConfigLoaderOption defines a functional option for configuring a ConfigLoader.
type ConfigLoaderOption func(*ConfigLoader)

// WithConfigFile sets the configuration file path.
func WithConfigFile(configFile string) ConfigLoaderOption {
	return func(l *ConfigLoader) {
		l.configFile = configFile
	}
}

// WithAppHomeDir places every path under dir instead of the XDG locations,
// overriding SKYMOSAIC_HOME.
func WithAppHomeDir(dir string) ConfigLoaderOption {
	return func(l *ConfigLoader) {
		l.appHomeDir = dir
	}
}

// NewConfigLoader creates a ConfigLoader with the given viper instance and options.
func NewConfigLoader(v *viper.Viper, options ...ConfigLoaderOption) *ConfigLoader {
	loader := &ConfigLoader{v: v}
	for _, opt := range options {
		opt(loader)
	}
	return loader
}

// Load reads the configuration, applies defaults and environment overrides,
// and returns a validated Config.
func (l *ConfigLoader) Load() (*Config, error) {
	paths, err := l.resolveBasePaths()
	if err != nil {
		return nil, err
	}

	l.configureViper(paths.ConfigDir)
	l.bindEnvironmentVariables()
	l.setViperDefaultValues(paths)

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var def Definition
	if err := l.v.Unmarshal(&def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg, err := l.buildConfig(def, paths)
	if err != nil {
		return nil, err
	}
	cfg.Global.ConfigFileUsed = l.v.ConfigFileUsed()
	cfg.Warnings = append(cfg.Warnings, l.warnings...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) buildConfig(def Definition, base PathsConfig) (*Config, error) {
	cfg := &Config{
		Global: Global{
			Debug:     def.Debug,
			LogFormat: strings.ToLower(strings.TrimSpace(def.LogFormat)),
		},
		Server: Server{
			Host:            def.Host,
			Port:            def.Port,
			MaxUploadSize:   int64(def.MaxUploadSize) << 20,
			ShutdownTimeout: l.parseDuration("shutdownTimeout", def.ShutdownTimeout),
		},
		Paths: PathsConfig{ConfigDir: base.ConfigDir},
	}

	if def.Paths != nil {
		fields := []struct {
			name   string
			value  string
			target *string
		}{
			{"paths.dataDir", def.Paths.DataDir, &cfg.Paths.DataDir},
			{"paths.imagesDir", def.Paths.ImagesDir, &cfg.Paths.ImagesDir},
			{"paths.tilesDir", def.Paths.TilesDir, &cfg.Paths.TilesDir},
			{"paths.logDir", def.Paths.LogDir, &cfg.Paths.LogDir},
			{"paths.recordFile", def.Paths.RecordFile, &cfg.Paths.RecordFile},
			{"paths.cursorFile", def.Paths.CursorFile, &cfg.Paths.CursorFile},
		}
		for _, f := range fields {
			resolved, err := l.resolvePath(f.name, f.value)
			if err != nil {
				return nil, err
			}
			*f.target = resolved
		}
	}
	l.finalizePaths(cfg)

	if def.Scheduler != nil {
		cfg.Scheduler = Scheduler{
			UpdateRate:         time.Duration(def.Scheduler.UpdateRate) * time.Second,
			Concurrency:        def.Scheduler.Concurrency,
			LockStaleThreshold: l.parseDuration("scheduler.lockStaleThreshold", def.Scheduler.LockStaleThreshold),
			LockRetryInterval:  l.parseDuration("scheduler.lockRetryInterval", def.Scheduler.LockRetryInterval),
		}
	}

	if def.Pipeline != nil {
		workDir, err := l.resolvePath("pipeline.workDir", def.Pipeline.WorkDir)
		if err != nil {
			return nil, err
		}
		cfg.Pipeline = Pipeline{
			Preprocess:   strings.TrimSpace(def.Pipeline.Preprocess),
			Georeference: strings.TrimSpace(def.Pipeline.Georeference),
			Merge:        strings.TrimSpace(def.Pipeline.Merge),
			NoData:       strings.TrimSpace(def.Pipeline.NoData),
			Tile:         strings.TrimSpace(def.Pipeline.Tile),
			WorkDir:      workDir,
			NoDataValue:  def.Pipeline.NoDataValue,
		}
	}

	return cfg, nil
}

// finalizePaths derives the paths that were left empty from the data directory.
func (l *ConfigLoader) finalizePaths(cfg *Config) {
	p := &cfg.Paths
	if p.ImagesDir == "" {
		p.ImagesDir = filepath.Join(p.DataDir, "images")
	}
	if p.TilesDir == "" {
		p.TilesDir = filepath.Join(p.DataDir, "tms")
	}
	if p.RecordFile == "" {
		p.RecordFile = filepath.Join(p.DataDir, "conf.json")
	}
	if p.CursorFile == "" {
		p.CursorFile = filepath.Join(p.DataDir, "scheduler", "cursor.json")
	}
}

// resolveBasePaths picks the directory tree: an explicit home directory
// (option or SKYMOSAIC_HOME) holds everything, otherwise XDG locations are used.
func (l *ConfigLoader) resolveBasePaths() (PathsConfig, error) {
	home := l.appHomeDir
	if home == "" {
		home = os.Getenv(strings.ToUpper(build.Slug) + "_HOME")
	}
	if home != "" {
		resolved, err := l.resolvePath("home", home)
		if err != nil {
			return PathsConfig{}, err
		}
		return PathsConfig{
			ConfigDir: resolved,
			DataDir:   filepath.Join(resolved, "data"),
			LogDir:    filepath.Join(resolved, "logs"),
		}, nil
	}
	return PathsConfig{
		ConfigDir: filepath.Join(xdg.ConfigHome, build.Slug),
		DataDir:   filepath.Join(xdg.DataHome, build.Slug, "data"),
		LogDir:    filepath.Join(xdg.DataHome, build.Slug, "logs"),
	}, nil
}

func (l *ConfigLoader) resolvePath(fieldName, pathValue string) (string, error) {
	if pathValue == "" {
		return "", nil
	}
	resolved, err := fileutil.ResolvePath(pathValue)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s path %q: %w", fieldName, pathValue, err)
	}
	return resolved, nil
}

// parseDuration parses a duration string, returning zero and adding a warning if invalid.
func (l *ConfigLoader) parseDuration(fieldName, value string) time.Duration {
	if value == "" {
		return 0
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		l.warnings = append(l.warnings, fmt.Sprintf("Invalid %s value: %s", fieldName, value))
		return 0
	}
	return duration
}

func (l *ConfigLoader) setViperDefaultValues(paths PathsConfig) {
	l.v.SetDefault("debug", false)
	l.v.SetDefault("logFormat", "text")
	l.v.SetDefault("host", "127.0.0.1")
	l.v.SetDefault("port", 8080)
	l.v.SetDefault("maxUploadSize", 64)
	l.v.SetDefault("shutdownTimeout", "10s")

	l.v.SetDefault("paths.dataDir", paths.DataDir)
	l.v.SetDefault("paths.logDir", paths.LogDir)

	l.v.SetDefault("scheduler.updateRate", 600)
	l.v.SetDefault("scheduler.concurrency", 1)
	l.v.SetDefault("scheduler.lockStaleThreshold", "30s")
	l.v.SetDefault("scheduler.lockRetryInterval", "5s")

	l.v.SetDefault("pipeline.preprocess", DefaultPreprocessCommand)
	l.v.SetDefault("pipeline.georeference", DefaultGeoreferenceCommand)
	l.v.SetDefault("pipeline.merge", DefaultMergeCommand)
	l.v.SetDefault("pipeline.nodata", DefaultNoDataCommand)
	l.v.SetDefault("pipeline.tile", DefaultTileCommand)
	l.v.SetDefault("pipeline.nodataValue", 0)
}

type envBinding struct {
	key    string
	env    string
	isPath bool
}

var envBindings = []envBinding{
	{key: "debug", env: "DEBUG"},
	{key: "logFormat", env: "LOG_FORMAT"},
	{key: "host", env: "HOST"},
	{key: "port", env: "PORT"},
	{key: "maxUploadSize", env: "MAX_UPLOAD_SIZE"},
	{key: "shutdownTimeout", env: "SHUTDOWN_TIMEOUT"},

	{key: "paths.dataDir", env: "DATA_DIR", isPath: true},
	{key: "paths.imagesDir", env: "IMAGES_DIR", isPath: true},
	{key: "paths.tilesDir", env: "TILES_DIR", isPath: true},
	{key: "paths.logDir", env: "LOG_DIR", isPath: true},
	{key: "paths.recordFile", env: "RECORD_FILE", isPath: true},
	{key: "paths.cursorFile", env: "CURSOR_FILE", isPath: true},

	{key: "scheduler.updateRate", env: "UPDATE_RATE"},
	{key: "scheduler.concurrency", env: "CONCURRENCY"},
	{key: "scheduler.lockStaleThreshold", env: "LOCK_STALE_THRESHOLD"},
	{key: "scheduler.lockRetryInterval", env: "LOCK_RETRY_INTERVAL"},

	{key: "pipeline.preprocess", env: "PIPELINE_PREPROCESS"},
	{key: "pipeline.georeference", env: "PIPELINE_GEOREFERENCE"},
	{key: "pipeline.merge", env: "PIPELINE_MERGE"},
	{key: "pipeline.nodata", env: "PIPELINE_NODATA"},
	{key: "pipeline.tile", env: "PIPELINE_TILE"},
	{key: "pipeline.workDir", env: "PIPELINE_WORK_DIR", isPath: true},
	{key: "pipeline.nodataValue", env: "PIPELINE_NODATA_VALUE"},
}

func (l *ConfigLoader) bindEnvironmentVariables() {
	prefix := strings.ToUpper(build.Slug) + "_"

	for _, b := range envBindings {
		fullEnv := prefix + b.env

		if b.isPath {
			if val := os.Getenv(fullEnv); val != "" {
				if abs, err := filepath.Abs(val); err == nil && abs != val {
					_ = os.Setenv(fullEnv, abs)
				}
			}
		}

		_ = l.v.BindEnv(b.key, fullEnv)
	}
}

func (l *ConfigLoader) configureViper(configDir string) {
	if l.configFile == "" {
		l.v.AddConfigPath(configDir)
		l.v.SetConfigName("config")
	} else {
		l.v.SetConfigFile(l.configFile)
	}
	l.v.SetConfigType("yaml")
	l.v.SetEnvPrefix(strings.ToUpper(build.Slug))
	l.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	l.v.AutomaticEnv()
}
