package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skymosaic/skymosaic/internal/cmn/config"
	"github.com/skymosaic/skymosaic/internal/cmn/dirlock"
	"github.com/skymosaic/skymosaic/internal/core/window"
	"github.com/skymosaic/skymosaic/internal/pipeline"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Paths.DataDir = t.TempDir()
	cfg.Scheduler.LockStaleThreshold = 30 * time.Second
	cfg.Scheduler.LockRetryInterval = 10 * time.Millisecond
	return cfg
}

func TestScheduler_StartStop(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	start := time.Now().UTC().Truncate(time.Second)
	f.cursor = window.NewCursor(start, time.Second)
	f.updater = NewUpdater(f.cursor, f.layout, pipeline.New(f.science), f.ledger,
		WithCursorStore(f.cursors),
	)
	cfg := testConfig(t)
	sc := New(cfg, f.updater)

	done := make(chan error, 1)
	go func() {
		done <- sc.Start(context.Background())
	}()

	require.Eventually(t, sc.IsRunning, 5*time.Second, 10*time.Millisecond)
	assert.True(t, dirlock.New(cfg.Paths.LockDir(), nil).IsLocked())

	require.Eventually(t, func() bool {
		return f.cursor.Start().After(start)
	}, 5*time.Second, 20*time.Millisecond)

	sc.Stop(context.Background())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	assert.False(t, sc.IsRunning())
	assert.False(t, dirlock.New(cfg.Paths.LockDir(), nil).IsLocked())

	st, err := f.cursors.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Start.Equal(f.cursor.Start()))

	// Stop is idempotent.
	sc.Stop(context.Background())
}

func TestScheduler_StopsWhenContextDone(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	cfg := testConfig(t)
	sc := New(cfg, f.updater)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- sc.Start(ctx)
	}()
	require.Eventually(t, sc.IsRunning, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.False(t, dirlock.New(cfg.Paths.LockDir(), nil).IsLocked())
}

func TestScheduler_TickOnce(t *testing.T) {
	t.Parallel()

	t.Run("RunsOneTick", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sc := New(testConfig(t), f.updater)

		outcome, err := sc.TickOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, OutcomeSkipped, outcome)
		assert.True(t, f.cursor.Start().Equal(epoch.Add(600*time.Second)))
	})

	t.Run("RefusedWhileLocked", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		cfg := testConfig(t)
		holder := dirlock.New(cfg.Paths.LockDir(), nil)
		require.NoError(t, holder.TryLock())
		t.Cleanup(func() { _ = holder.Unlock() })

		_, err := New(cfg, f.updater).TickOnce(context.Background())
		require.ErrorIs(t, err, dirlock.ErrLockConflict)
		assert.True(t, f.cursor.Start().Equal(epoch))
	})
}
