// Package gdal implements the image-science stages by running external
// command line tools, GDAL by default.
package gdal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"mvdan.cc/sh/v3/shell"

	"github.com/skymosaic/skymosaic/internal/cmn/logger"
	"github.com/skymosaic/skymosaic/internal/cmn/logger/tag"
	"github.com/skymosaic/skymosaic/internal/pipeline"
)

var _ pipeline.Science = (*Toolchain)(nil)

// inputsMarker stands in for $INPUTS during expansion and is replaced by one
// argument per input afterwards.
const inputsMarker = "\x00inputs\x00"

// maxOutput bounds how much command output is kept in error messages.
const maxOutput = 2048

// Commands are the command templates of each stage. A template is split into
// arguments like a shell command line after variable expansion. Unknown
// variables are read from the environment. An empty template skips the stage.
type Commands struct {
	Preprocess   string
	Georeference string
	Merge        string
	NoData       string
	Tile         string
	// WorkDir is the working directory of every command.
	WorkDir string
}

// Runner executes argv and returns its combined output.
type Runner func(ctx context.Context, dir string, argv []string) ([]byte, error)

// Toolchain runs Commands.
type Toolchain struct {
	cmds Commands
	run  Runner
}

// Option configures a Toolchain.
type Option func(*Toolchain)

// WithRunner replaces process execution.
func WithRunner(r Runner) Option {
	return func(t *Toolchain) {
		t.run = r
	}
}

// New creates a Toolchain for cmds.
func New(cmds Commands, opts ...Option) *Toolchain {
	t := &Toolchain{cmds: cmds, run: execRunner}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Toolchain) Preprocess(ctx context.Context, in pipeline.Input) error {
	return t.exec(ctx, "preprocess", t.cmds.Preprocess, inputVars(in, in.Path, in.Artifact), nil)
}

func (t *Toolchain) Georeference(ctx context.Context, in pipeline.Input) error {
	return t.exec(ctx, "georeference", t.cmds.Georeference, inputVars(in, in.Artifact, in.Artifact), nil)
}

func (t *Toolchain) Merge(ctx context.Context, artifacts []string, output string) error {
	return t.exec(ctx, "merge", t.cmds.Merge, map[string]string{"OUTPUT": output}, artifacts)
}

func (t *Toolchain) SetNoData(ctx context.Context, path string, value int) error {
	return t.exec(ctx, "nodata", t.cmds.NoData, map[string]string{
		"INPUT":  path,
		"OUTPUT": path,
		"NODATA": strconv.Itoa(value),
	}, nil)
}

func (t *Toolchain) Tile(ctx context.Context, input, outDir string) error {
	return t.exec(ctx, "tile", t.cmds.Tile, map[string]string{
		"INPUT":  input,
		"OUTPUT": outDir,
	}, nil)
}

func (t *Toolchain) exec(ctx context.Context, stage, tpl string, vars map[string]string, inputs []string) error {
	if tpl == "" {
		return nil
	}
	argv, err := Expand(tpl, vars, inputs)
	if err != nil {
		return fmt.Errorf("%s: %w", stage, err)
	}

	started := time.Now()
	out, err := t.run(ctx, t.cmds.WorkDir, argv)
	if err != nil {
		return fmt.Errorf("%s: %s: %w%s", stage, argv[0], err, formatOutput(out))
	}
	logger.Debug(ctx, "Command finished",
		tag.Stage(stage),
		tag.Command(strings.Join(argv, " ")),
		tag.Duration(time.Since(started)),
	)
	return nil
}

// Expand splits tpl into arguments, substituting vars and replacing an
// argument that is exactly $INPUTS with one argument per input.
func Expand(tpl string, vars map[string]string, inputs []string) ([]string, error) {
	fields, err := shell.Fields(tpl, func(name string) string {
		if name == "INPUTS" {
			return inputsMarker
		}
		if v, ok := vars[name]; ok {
			return v
		}
		return os.Getenv(name)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid command template %q: %w", tpl, err)
	}

	argv := make([]string, 0, len(fields)+len(inputs))
	for _, f := range fields {
		switch {
		case f == inputsMarker:
			argv = append(argv, inputs...)
		case strings.Contains(f, inputsMarker):
			return nil, fmt.Errorf("$INPUTS must be a separate argument in %q", tpl)
		default:
			argv = append(argv, f)
		}
	}
	if len(argv) == 0 {
		return nil, errors.New("command template expands to nothing")
	}
	return argv, nil
}

func inputVars(in pipeline.Input, input, output string) map[string]string {
	vars := map[string]string{
		"INPUT":    input,
		"OUTPUT":   output,
		"FILE":     in.File,
		"CATEGORY": in.Category,
	}
	if in.Capture != nil {
		vars["FREQUENCY"] = strconv.FormatInt(in.Capture.FrequencyHz, 10)
		vars["CAPTURE_TIME"] = in.Capture.Time.UTC().Format(time.RFC3339)
	}
	return vars
}

func execRunner(ctx context.Context, dir string, argv []string) ([]byte, error) {
	// nolint: gosec
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

func formatOutput(out []byte) string {
	s := strings.TrimSpace(string(out))
	if s == "" {
		return ""
	}
	if len(s) > maxOutput {
		s = "..." + s[len(s)-maxOutput:]
	}
	return ": " + s
}
