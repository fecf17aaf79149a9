package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/skymosaic/skymosaic/internal/cmn/fileutil"
	"github.com/skymosaic/skymosaic/internal/cmn/logger"
	"github.com/skymosaic/skymosaic/internal/cmn/logger/tag"
	"github.com/skymosaic/skymosaic/internal/core/record"
	"github.com/skymosaic/skymosaic/internal/core/window"
	"github.com/skymosaic/skymosaic/internal/metrics"
	"github.com/skymosaic/skymosaic/internal/pipeline"
	"github.com/skymosaic/skymosaic/internal/reconcile"
)

// ErrTickInProgress is returned when Update is called while another tick is
// still running.
var ErrTickInProgress = errors.New("tick already in progress")

// Outcome describes what a tick did.
type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeProcessed Outcome = "processed"
	OutcomeFailed    Outcome = "failed"
)

// Runner processes the images of a closed window.
type Runner interface {
	Run(ctx context.Context, dir, tileDir string, files []string) (*pipeline.Result, error)
}

// CursorStore persists the cursor position.
type CursorStore interface {
	Save(ctx context.Context, in window.Interval) error
}

// Updater performs one tick: it closes the current window, processes what it
// received and hands anything left over to the next one.
type Updater struct {
	cursor  *window.Cursor
	layout  window.Layout
	runner  Runner
	ledger  *record.Ledger
	cursors CursorStore
	metrics *metrics.Metrics
	active  atomic.Bool
}

// UpdaterOption configures an Updater.
type UpdaterOption func(*Updater)

// WithCursorStore persists the cursor after every advance.
func WithCursorStore(s CursorStore) UpdaterOption {
	return func(u *Updater) {
		u.cursors = s
	}
}

// WithUpdaterMetrics records tick outcomes.
func WithUpdaterMetrics(m *metrics.Metrics) UpdaterOption {
	return func(u *Updater) {
		u.metrics = m
	}
}

// NewUpdater creates an Updater.
func NewUpdater(cursor *window.Cursor, layout window.Layout, runner Runner, ledger *record.Ledger, opts ...UpdaterOption) *Updater {
	u := &Updater{
		cursor: cursor,
		layout: layout,
		runner: runner,
		ledger: ledger,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Cursor returns the cursor driven by the updater.
func (u *Updater) Cursor() *window.Cursor {
	return u.cursor
}

// sweepWindows is how many windows before the closed one are checked for
// uploads that arrived after they were closed.
const sweepWindows = 2

// Update runs one tick.
//
// The listing of the current image directory is taken while no upload is in
// flight. A non-empty snapshot is processed and the window label is appended
// to the record whatever the processing produced. The cursor then advances
// exactly once, whatever the outcome, and files the closed window did not
// consume are moved to the new one, together with files that reached the
// previous windows after they were closed.
func (u *Updater) Update(ctx context.Context) (Outcome, error) {
	if !u.active.CompareAndSwap(false, true) {
		return "", ErrTickInProgress
	}
	defer u.active.Store(false)

	started := time.Now()
	ctx = logger.WithValues(ctx, tag.TickID(newTickID()))

	var (
		current window.Interval
		files   []string
	)
	listErr := u.cursor.Exclusive(func(in window.Interval) error {
		current = in
		var err error
		files, err = fileutil.ListFiles(u.layout.ImageDir(in.Label()))
		return err
	})

	label := current.Label()
	ctx = logger.WithValues(ctx, tag.Window(label))
	dir := u.layout.ImageDir(label)

	if listErr != nil {
		next := u.cursor.Advance()
		logger.Error(ctx, "Failed to list window, skipping", tag.Error(listErr), tag.String("next", next.Label()))
		errs := []error{fmt.Errorf("failed to list window %s: %w", label, listErr)}
		if err := u.saveCursor(ctx, next); err != nil {
			errs = append(errs, err)
		}
		u.metrics.Tick(string(OutcomeFailed), time.Since(started))
		return OutcomeFailed, errors.Join(errs...)
	}

	var errs []error
	if len(files) > 0 {
		if err := reconcile.WriteManifest(dir, files); err != nil {
			logger.Error(ctx, "Failed to record snapshot", tag.Error(err))
			errs = append(errs, err)
		}
		_, runErr := u.runner.Run(ctx, dir, u.layout.TileDir(label), files)
		if runErr != nil {
			logger.Error(ctx, "Window processing failed", tag.Error(runErr))
			errs = append(errs, runErr)
		}
	}

	next := u.cursor.Advance()
	nextDir := u.layout.ImageDir(next.Label())

	moved, err := reconcile.Relocate(ctx, dir, nextDir, files)
	if err != nil {
		logger.Error(ctx, "Failed to carry files forward", tag.Error(err))
		errs = append(errs, err)
	}
	swept, err := u.sweep(ctx, current, nextDir)
	if err != nil {
		errs = append(errs, err)
	}
	moved = append(moved, swept...)
	u.metrics.StragglersMoved(len(moved))

	outcome := OutcomeSkipped
	if len(files) > 0 {
		outcome = OutcomeProcessed
		idx, err := u.ledger.Complete(ctx, label)
		if err != nil {
			errs = append(errs, err)
		} else {
			u.metrics.WindowCompleted()
			logger.Info(ctx, "Window completed", tag.Counter(idx))
		}
	} else {
		logger.Info(ctx, "Window is empty, skipping", tag.String("next", next.Label()))
	}

	if err := u.saveCursor(ctx, next); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		outcome = OutcomeFailed
	}
	u.metrics.Tick(string(outcome), time.Since(started))
	logger.Info(ctx, "Tick finished",
		tag.Outcome(string(outcome)),
		tag.Count(len(files)),
		tag.Int("moved", len(moved)),
		tag.Duration(time.Since(started)),
	)
	return outcome, errors.Join(errs...)
}

// sweep carries into nextDir the files that were written to the windows
// preceding closed after those windows were ticked.
func (u *Updater) sweep(ctx context.Context, closed window.Interval, nextDir string) ([]string, error) {
	width := closed.Width()
	var (
		moved []string
		errs  []error
	)
	for k := 1; k <= sweepWindows; k++ {
		prev := window.For(closed.Start.Add(-time.Duration(k)*width), width)
		names, err := reconcile.Sweep(ctx, u.layout.ImageDir(prev.Label()), nextDir)
		if err != nil {
			logger.Error(ctx, "Failed to sweep closed window", tag.String("swept", prev.Label()), tag.Error(err))
			errs = append(errs, err)
		}
		moved = append(moved, names...)
	}
	return moved, errors.Join(errs...)
}

// Persist saves the cursor and the record. It waits for a running tick to
// release the cursor.
func (u *Updater) Persist(ctx context.Context) error {
	var errs []error
	if err := u.saveCursor(ctx, u.cursor.Current()); err != nil {
		errs = append(errs, err)
	}
	if err := u.ledger.Persist(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (u *Updater) saveCursor(ctx context.Context, in window.Interval) error {
	if u.cursors == nil {
		return nil
	}
	if err := u.cursors.Save(ctx, in); err != nil {
		logger.Error(ctx, "Failed to save cursor", tag.Error(err))
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

func newTickID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
