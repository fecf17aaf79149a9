package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// ErrInvalidUpdateRate is returned when the window width is not positive.
var ErrInvalidUpdateRate = errors.New("update rate must be a positive number of seconds")

// Config holds the overall configuration for the application.
type Config struct {
	Global    Global
	Server    Server
	Paths     PathsConfig
	Scheduler Scheduler
	Pipeline  Pipeline
	Warnings  []string
}

// Global contains settings shared by every command.
type Global struct {
	Debug          bool
	LogFormat      string // "text" or "json"
	ConfigFileUsed string
}

// Server contains the upload and tile-serving HTTP settings.
type Server struct {
	Host string
	Port int
	// MaxUploadSize bounds a single multipart request body in bytes.
	MaxUploadSize int64
	// ShutdownTimeout bounds graceful shutdown of in-flight requests.
	ShutdownTimeout time.Duration
}

// PathsConfig holds the filesystem layout.
type PathsConfig struct {
	ConfigDir  string
	DataDir    string
	ImagesDir  string
	TilesDir   string
	LogDir     string
	RecordFile string
	CursorFile string
}

// LockDir is where the scheduler lock is created.
func (p PathsConfig) LockDir() string {
	return filepath.Join(p.DataDir, "scheduler", "locks")
}

// Scheduler contains the window and tick settings.
type Scheduler struct {
	// UpdateRate is the window width. The value stored in the record file,
	// when present, takes precedence.
	UpdateRate time.Duration
	// Concurrency bounds how many images of a window are processed at once.
	Concurrency        int
	LockStaleThreshold time.Duration
	LockRetryInterval  time.Duration
}

// Pipeline holds the command templates of the image-science toolchain.
// Templates are split like a shell command line after expanding $INPUT,
// $OUTPUT, $CATEGORY, $FILE, $NODATA and $INPUTS. An empty template disables
// the stage.
type Pipeline struct {
	Preprocess   string
	Georeference string
	Merge        string
	NoData       string
	Tile         string
	WorkDir      string
	NoDataValue  int
}

func (c *Config) Validate() error {
	if c.Scheduler.UpdateRate <= 0 {
		return fmt.Errorf("%w: got %s", ErrInvalidUpdateRate, c.Scheduler.UpdateRate)
	}
	if c.Scheduler.UpdateRate%time.Second != 0 {
		return fmt.Errorf("%w: %s is not a whole number of seconds", ErrInvalidUpdateRate, c.Scheduler.UpdateRate)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", c.Server.Port)
	}
	if c.Scheduler.Concurrency < 1 {
		return fmt.Errorf("invalid scheduler concurrency: %d", c.Scheduler.Concurrency)
	}
	switch c.Global.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %q", c.Global.LogFormat)
	}
	if c.Paths.ImagesDir == "" || c.Paths.TilesDir == "" || c.Paths.RecordFile == "" {
		return errors.New("images, tiles and record paths are required")
	}
	return nil
}
