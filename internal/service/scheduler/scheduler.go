package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/skymosaic/skymosaic/internal/cmn/config"
	"github.com/skymosaic/skymosaic/internal/cmn/dirlock"
	"github.com/skymosaic/skymosaic/internal/cmn/logger"
	"github.com/skymosaic/skymosaic/internal/cmn/logger/tag"
)

const heartbeatInterval = 7 * time.Second

// Scheduler fires a tick every window width while holding the scheduler lock.
type Scheduler struct {
	updater     *Updater
	width       time.Duration
	dirLock     dirlock.DirLock
	cron        *cron.Cron
	quit        chan struct{}
	running     atomic.Bool
	stopOnce    sync.Once
	cancelTicks context.CancelFunc
	lock        sync.Mutex
}

// New constructs a Scheduler driving updater.
func New(cfg *config.Config, updater *Updater) *Scheduler {
	lockOpts := &dirlock.LockOptions{
		StaleThreshold: cfg.Scheduler.LockStaleThreshold,
		RetryInterval:  cfg.Scheduler.LockRetryInterval,
	}
	return &Scheduler{
		updater: updater,
		width:   updater.Cursor().Width(),
		dirLock: dirlock.New(cfg.Paths.LockDir(), lockOpts),
		quit:    make(chan struct{}),
	}
}

// Start acquires the scheduler lock and runs ticks until ctx is done, a
// termination signal arrives or Stop is called. On return the cursor and the
// record have been persisted and the lock released.
func (s *Scheduler) Start(ctx context.Context) error {
	logger.Info(ctx, "Waiting to acquire scheduler lock")
	if err := s.dirLock.Lock(ctx); err != nil {
		return fmt.Errorf("failed to acquire scheduler lock: %w", err)
	}
	logger.Info(ctx, "Acquired scheduler lock")

	select {
	case <-s.quit:
		return s.dirLock.Unlock()
	default:
	}

	// Ticks outlive ctx so that Stop can let the running one finish.
	tickCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger{ctx: ctx}),
		cron.WithChain(
			cron.Recover(cronLogger{ctx: ctx}),
			cron.SkipIfStillRunning(cronLogger{ctx: ctx}),
		),
	)
	c.Schedule(cron.Every(s.width), cron.FuncJob(func() {
		s.tick(tickCtx)
	}))

	s.lock.Lock()
	s.cron = c
	s.cancelTicks = cancel
	s.lock.Unlock()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, stopSignals...)
	defer signal.Stop(sig)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.startHeartbeat(ctx)
	}()

	c.Start()
	s.running.Store(true)
	logger.Info(ctx, "Scheduler started",
		tag.Interval(s.width),
		tag.Window(s.updater.Cursor().Current().Label()),
	)

	select {
	case <-ctx.Done():
	case <-sig:
	case <-s.quit:
	}

	stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), 2*s.width)
	defer stopCancel()
	s.Stop(stopCtx)
	wg.Wait()
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	outcome, err := s.updater.Update(ctx)
	switch {
	case errors.Is(err, ErrTickInProgress):
		logger.Warn(ctx, "Previous tick still running, skipping")
	case err != nil:
		logger.Error(ctx, "Tick failed", tag.Outcome(string(outcome)), tag.Error(err))
	}
}

func (s *Scheduler) startHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.dirLock.Heartbeat(ctx); err != nil {
				logger.Error(ctx, "Failed to send heartbeat for scheduler lock", tag.Error(err))
			}
		}
	}
}

// IsRunning returns whether the scheduler is currently running.
func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

// Stop stops scheduling, waits for a running tick to finish and persists the
// cursor and the record before releasing the lock. When ctx expires first
// the running tick is cancelled.
func (s *Scheduler) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		close(s.quit)

		s.lock.Lock()
		c, cancel := s.cron, s.cancelTicks
		s.lock.Unlock()

		if c != nil {
			done := c.Stop()
			select {
			case <-done.Done():
			case <-ctx.Done():
				logger.Warn(ctx, "Cancelling running tick")
				cancel()
				<-done.Done()
			}
			cancel()
		}

		if err := s.updater.Persist(context.WithoutCancel(ctx)); err != nil {
			logger.Error(ctx, "Failed to persist state on shutdown", tag.Error(err))
		}

		if err := s.dirLock.Unlock(); err != nil {
			logger.Error(ctx, "Failed to release scheduler lock in Stop", tag.Error(err))
		}
		s.running.Store(false)
		logger.Info(ctx, "Scheduler stopped")
	})
}

// TickOnce runs a single tick outside the cron loop. It is refused while
// another process holds the scheduler lock.
func (s *Scheduler) TickOnce(ctx context.Context) (Outcome, error) {
	if err := s.dirLock.TryLock(); err != nil {
		return "", fmt.Errorf("scheduler is running elsewhere: %w", err)
	}
	defer func() {
		if err := s.dirLock.Unlock(); err != nil {
			logger.Error(ctx, "Failed to release scheduler lock", tag.Error(err))
		}
	}()
	return s.updater.Update(ctx)
}

// cronLogger routes cron's own messages to the context logger.
type cronLogger struct {
	ctx context.Context
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	logger.Debug(l.ctx, "cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	logger.Error(l.ctx, "cron: "+msg, append(keysAndValues, tag.Error(err))...)
}
