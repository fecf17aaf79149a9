package pipeline

import (
	"errors"
	"fmt"
)

// ErrNoInput is returned when Run is called without files.
var ErrNoInput = errors.New("no input files")

// Window-level stage names.
const (
	StageMerge   = "merge"
	StageCopy    = "copy"
	StageNoData  = "nodata"
	StageTile    = "tile"
	stagePrepare = "preprocess"
	stageGeoref  = "georeference"
)

// StageError reports the stage that failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
