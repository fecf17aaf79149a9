package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skymosaic/skymosaic/internal/cmn/fileutil"
	"github.com/skymosaic/skymosaic/internal/core/capture"
)

const (
	fileA = "NOAA-19_SDRSharp_20240101_000100Z_137100000Hz_IQ.png"
	fileB = "NOAA-18_SDRSharp_20240101_000200Z_137912500Hz_IQ.png"
	late  = "NOAA-15_SDRSharp_20240101_000900Z_137620000Hz_IQ.png"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0750))
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte(n), 0600))
	}
}

func TestStragglers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	touch(t, dir,
		fileA, capture.ArtifactName(fileA),
		fileB,
		capture.MergedFileName,
		late,
		".upload.tmp",
	)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0750))

	got, err := Stragglers(dir, []string{fileA, fileB})
	require.NoError(t, err)
	assert.Equal(t, []string{late}, got)

	again, err := Stragglers(dir, []string{fileA, fileB})
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestStragglers_MissingDir(t *testing.T) {
	t.Parallel()

	got, err := Stragglers(filepath.Join(t.TempDir(), "missing"), []string{fileA})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRelocate(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dir := filepath.Join(root, "imgw0")
	next := filepath.Join(root, "imgw1")
	touch(t, dir, fileA, capture.ArtifactName(fileA), fileB, capture.MergedFileName, late)

	moved, err := Relocate(context.Background(), dir, next, []string{fileA, fileB})
	require.NoError(t, err)
	assert.Equal(t, []string{late}, moved)

	assert.NoFileExists(t, filepath.Join(dir, late))
	assert.FileExists(t, filepath.Join(next, late))
	assert.FileExists(t, filepath.Join(dir, fileB), "a failed original is not a straggler")

	remaining, err := fileutil.ListFiles(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{fileA, capture.ArtifactName(fileA), fileB, capture.MergedFileName}, remaining)
}

func TestRelocate_NothingToMove(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dir := filepath.Join(root, "imgw0")
	next := filepath.Join(root, "imgw1")
	touch(t, dir, fileA, capture.ArtifactName(fileA), capture.MergedFileName)

	moved, err := Relocate(context.Background(), dir, next, []string{fileA})
	require.NoError(t, err)
	assert.Empty(t, moved)
	assert.NoDirExists(t, next)
}

func TestRelocate_ReplacesSameName(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dir := filepath.Join(root, "imgw0")
	next := filepath.Join(root, "imgw1")
	touch(t, dir, late)
	require.NoError(t, os.MkdirAll(next, 0750))
	require.NoError(t, os.WriteFile(filepath.Join(next, late), []byte("older"), 0600))

	_, err := Relocate(context.Background(), dir, next, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(next, late))
	require.NoError(t, err)
	assert.Equal(t, late, string(data))
}

func TestRelocate_UnconsumedArtifactIsCarried(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dir := filepath.Join(root, "imgw0")
	next := filepath.Join(root, "imgw1")
	stray := capture.ArtifactName(late)
	touch(t, dir, fileA, stray)

	moved, err := Relocate(context.Background(), dir, next, []string{fileA})
	require.NoError(t, err)
	assert.Equal(t, []string{stray}, moved)
}

func TestManifest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, ok, err := ReadManifest(dir)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, WriteManifest(dir, []string{fileA, fileB}))
	files, ok, err := ReadManifest(dir)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{fileA, fileB}, files)

	got, err := Stragglers(dir, files)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFileName), []byte("{"), 0600))
	_, _, err = ReadManifest(dir)
	require.Error(t, err)
}

func TestSweep(t *testing.T) {
	t.Parallel()

	t.Run("WithManifest", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		dir := filepath.Join(root, "closed")
		nextDir := filepath.Join(root, "next")
		touch(t, dir, fileA, capture.ArtifactName(fileA), fileB, capture.MergedFileName)
		require.NoError(t, WriteManifest(dir, []string{fileA, fileB}))
		touch(t, dir, late)

		moved, err := Sweep(context.Background(), dir, nextDir)
		require.NoError(t, err)
		assert.Equal(t, []string{late}, moved)
		assert.FileExists(t, filepath.Join(nextDir, late))
		assert.FileExists(t, filepath.Join(dir, fileB))
		assert.FileExists(t, filepath.Join(dir, capture.MergedFileName))
	})

	t.Run("WithoutManifest", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		dir := filepath.Join(root, "closed")
		nextDir := filepath.Join(root, "next")
		touch(t, dir, late, fileA)

		moved, err := Sweep(context.Background(), dir, nextDir)
		require.NoError(t, err)
		assert.Equal(t, []string{late, fileA}, moved)
		files, err := fileutil.ListFiles(dir)
		require.NoError(t, err)
		assert.Empty(t, files)
	})

	t.Run("MissingDir", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		moved, err := Sweep(context.Background(), filepath.Join(root, "closed"), filepath.Join(root, "next"))
		require.NoError(t, err)
		assert.Empty(t, moved)
		assert.NoDirExists(t, filepath.Join(root, "next"))
	})
}
