package fileutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_StoreLoadInvalidate(t *testing.T) {
	t.Parallel()

	cache := NewCache[string]("test", 10, time.Hour)
	assert.Equal(t, "test", cache.Name())

	filePath := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("content"), 0600))
	fi, err := os.Stat(filePath)
	require.NoError(t, err)

	cache.Store(filePath, "data", fi)
	data, ok := cache.Load(filePath)
	require.True(t, ok)
	assert.Equal(t, "data", data)

	cache.Invalidate(filePath)
	_, ok = cache.Load(filePath)
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Size())
}

func TestCache_LoadLatest(t *testing.T) {
	t.Parallel()

	cache := NewCache[string]("test", 0, time.Hour)
	filePath := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("v1"), 0600))

	calls := 0
	loader := func() (string, error) {
		calls++
		b, err := os.ReadFile(filePath)
		return string(b), err
	}

	got, err := cache.LoadLatest(filePath, loader)
	require.NoError(t, err)
	assert.Equal(t, "v1", got)

	got, err = cache.LoadLatest(filePath, loader)
	require.NoError(t, err)
	assert.Equal(t, "v1", got)
	assert.Equal(t, 1, calls, "unchanged file is served from cache")

	require.NoError(t, os.WriteFile(filePath, []byte("v2-longer"), 0600))
	got, err = cache.LoadLatest(filePath, loader)
	require.NoError(t, err)
	assert.Equal(t, "v2-longer", got)
	assert.Equal(t, 2, calls)
}

func TestCache_LoadLatestErrors(t *testing.T) {
	t.Parallel()

	cache := NewCache[int]("test", 0, time.Hour)
	_, err := cache.LoadLatest(filepath.Join(t.TempDir(), "missing"), func() (int, error) {
		return 1, nil
	})
	require.Error(t, err)

	filePath := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("x"), 0600))
	boom := errors.New("boom")
	_, err = cache.LoadLatest(filePath, func() (int, error) { return 0, boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, cache.Size())
}
