package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/skymosaic/skymosaic/internal/core/capture"
)

type mockScience struct {
	mock.Mock
}

func (m *mockScience) Preprocess(ctx context.Context, in Input) error {
	return m.Called(ctx, in).Error(0)
}

func (m *mockScience) Georeference(ctx context.Context, in Input) error {
	return m.Called(ctx, in).Error(0)
}

func (m *mockScience) Merge(ctx context.Context, artifacts []string, output string) error {
	return m.Called(ctx, artifacts, output).Error(0)
}

func (m *mockScience) SetNoData(ctx context.Context, path string, value int) error {
	return m.Called(ctx, path, value).Error(0)
}

func (m *mockScience) Tile(ctx context.Context, input, outDir string) error {
	return m.Called(ctx, input, outDir).Error(0)
}

// writesArtifact makes a Preprocess expectation produce the artifact.
func writesArtifact(args mock.Arguments) {
	in := args.Get(1).(Input)
	if err := os.WriteFile(in.Artifact, []byte("geo:"+in.File), 0600); err != nil {
		panic(err)
	}
}

func forFile(name string) any {
	return mock.MatchedBy(func(in Input) bool { return in.File == name })
}

const (
	fileA = "NOAA-19_SDRSharp_20240101_000100Z_137100000Hz_IQ.png"
	fileB = "NOAA-18_SDRSharp_20240101_000200Z_137912500Hz_IQ.png"
	fileC = "NOAA-15_SDRSharp_20240101_000300Z_137620000Hz_IQ.png"
)

func setupWindow(t *testing.T, files ...string) (dir, tileDir string) {
	t.Helper()
	root := t.TempDir()
	dir = filepath.Join(root, "images", "imgw")
	tileDir = filepath.Join(root, "tms", "tmsw")
	require.NoError(t, os.MkdirAll(dir, 0750))
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte(f), 0600))
	}
	return dir, tileDir
}

func TestRun_NoInput(t *testing.T) {
	t.Parallel()

	_, err := New(&mockScience{}).Run(context.Background(), t.TempDir(), t.TempDir(), nil)
	require.ErrorIs(t, err, ErrNoInput)
}

func TestRun_FailureIsolation(t *testing.T) {
	t.Parallel()

	dir, tileDir := setupWindow(t, fileA, fileB, fileC)
	sci := &mockScience{}
	sci.On("Preprocess", mock.Anything, forFile(fileA)).Run(writesArtifact).Return(nil)
	sci.On("Preprocess", mock.Anything, forFile(fileB)).Run(writesArtifact).Return(nil)
	sci.On("Preprocess", mock.Anything, forFile(fileC)).Run(writesArtifact).Return(nil)
	sci.On("Georeference", mock.Anything, forFile(fileA)).Return(nil)
	sci.On("Georeference", mock.Anything, forFile(fileB)).Return(errors.New("no orbit data"))
	sci.On("Georeference", mock.Anything, forFile(fileC)).Return(nil)

	artifactA := filepath.Join(dir, capture.ArtifactName(fileA))
	artifactB := filepath.Join(dir, capture.ArtifactName(fileB))
	artifactC := filepath.Join(dir, capture.ArtifactName(fileC))
	merged := filepath.Join(dir, capture.MergedFileName)
	sci.On("Merge", mock.Anything, []string{artifactA, artifactC}, merged).Return(nil)
	sci.On("Tile", mock.Anything, merged, tileDir).Return(nil)

	res, err := New(sci).Run(context.Background(), dir, tileDir, []string{fileA, fileB, fileC})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, []string{fileB}, res.Failed)
	assert.Equal(t, []string{artifactA, artifactC}, res.Artifacts)
	assert.Equal(t, merged, res.Merged)
	assert.True(t, res.Tiled)
	assert.NoFileExists(t, artifactB, "a failed image keeps no artifact")
	assert.FileExists(t, filepath.Join(dir, fileB), "the original is left in place")
	sci.AssertExpectations(t)
	sci.AssertNotCalled(t, "SetNoData", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_SingleArtifactIsCopied(t *testing.T) {
	t.Parallel()

	dir, tileDir := setupWindow(t, fileA, fileB)
	sci := &mockScience{}
	sci.On("Preprocess", mock.Anything, forFile(fileA)).Run(writesArtifact).Return(nil)
	sci.On("Preprocess", mock.Anything, forFile(fileB)).Return(errors.New("corrupt png"))
	sci.On("Georeference", mock.Anything, forFile(fileA)).Return(nil)

	merged := filepath.Join(dir, capture.MergedFileName)
	sci.On("SetNoData", mock.Anything, merged, 0).Return(nil)
	sci.On("Tile", mock.Anything, merged, tileDir).Return(nil)

	res, err := New(sci).Run(context.Background(), dir, tileDir, []string{fileA, fileB})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.True(t, res.Tiled)

	want, err := os.ReadFile(filepath.Join(dir, capture.ArtifactName(fileA)))
	require.NoError(t, err)
	got, err := os.ReadFile(merged)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	sci.AssertExpectations(t)
	sci.AssertNotCalled(t, "Merge", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_NoArtifacts(t *testing.T) {
	t.Parallel()

	dir, tileDir := setupWindow(t, fileA, fileB)
	sci := &mockScience{}
	sci.On("Preprocess", mock.Anything, mock.Anything).Return(errors.New("decoder crashed"))

	res, err := New(sci).Run(context.Background(), dir, tileDir, []string{fileA, fileB})
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
	assert.Empty(t, res.Merged)
	assert.False(t, res.Tiled)
	assert.NoFileExists(t, filepath.Join(dir, capture.MergedFileName))
	assert.NoDirExists(t, tileDir)

	sci.AssertNotCalled(t, "Georeference", mock.Anything, mock.Anything)
	sci.AssertNotCalled(t, "Merge", mock.Anything, mock.Anything, mock.Anything)
	sci.AssertNotCalled(t, "Tile", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_PanicIsIsolated(t *testing.T) {
	t.Parallel()

	dir, tileDir := setupWindow(t, fileA, fileB)
	sci := &mockScience{}
	sci.On("Preprocess", mock.Anything, forFile(fileA)).Run(func(mock.Arguments) {
		panic("segfault in decoder")
	}).Return(nil)
	sci.On("Preprocess", mock.Anything, forFile(fileB)).Run(writesArtifact).Return(nil)
	sci.On("Georeference", mock.Anything, forFile(fileB)).Return(nil)
	sci.On("SetNoData", mock.Anything, mock.Anything, 0).Return(nil)
	sci.On("Tile", mock.Anything, mock.Anything, tileDir).Return(nil)

	res, err := New(sci).Run(context.Background(), dir, tileDir, []string{fileA, fileB})
	require.NoError(t, err)
	assert.Equal(t, []string{fileA}, res.Failed)
	assert.Equal(t, 1, res.Processed)
}

func TestRun_MissingArtifactCountsAsFailure(t *testing.T) {
	t.Parallel()

	dir, tileDir := setupWindow(t, fileA)
	sci := &mockScience{}
	sci.On("Preprocess", mock.Anything, mock.Anything).Return(nil)
	sci.On("Georeference", mock.Anything, mock.Anything).Return(nil)

	res, err := New(sci).Run(context.Background(), dir, tileDir, []string{fileA})
	require.NoError(t, err)
	assert.Equal(t, []string{fileA}, res.Failed)
	assert.Empty(t, res.Merged)
}

func TestRun_WindowStageErrors(t *testing.T) {
	t.Parallel()

	t.Run("Merge", func(t *testing.T) {
		t.Parallel()

		dir, tileDir := setupWindow(t, fileA, fileB)
		sci := &mockScience{}
		sci.On("Preprocess", mock.Anything, mock.Anything).Run(writesArtifact).Return(nil)
		sci.On("Georeference", mock.Anything, mock.Anything).Return(nil)
		sci.On("Merge", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("gdal_merge failed"))

		res, err := New(sci).Run(context.Background(), dir, tileDir, []string{fileA, fileB})
		var stageErr *StageError
		require.ErrorAs(t, err, &stageErr)
		assert.Equal(t, StageMerge, stageErr.Stage)
		assert.Equal(t, 2, res.Processed)
		assert.Empty(t, res.Merged)
		sci.AssertNotCalled(t, "Tile", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Tile", func(t *testing.T) {
		t.Parallel()

		dir, tileDir := setupWindow(t, fileA)
		sci := &mockScience{}
		sci.On("Preprocess", mock.Anything, mock.Anything).Run(writesArtifact).Return(nil)
		sci.On("Georeference", mock.Anything, mock.Anything).Return(nil)
		sci.On("SetNoData", mock.Anything, mock.Anything, 0).Return(nil)
		sci.On("Tile", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("gdal2tiles failed"))

		res, err := New(sci).Run(context.Background(), dir, tileDir, []string{fileA})
		var stageErr *StageError
		require.ErrorAs(t, err, &stageErr)
		assert.Equal(t, StageTile, stageErr.Stage)
		assert.NotEmpty(t, res.Merged)
		assert.False(t, res.Tiled)
	})
}

func TestRun_Concurrency(t *testing.T) {
	t.Parallel()

	dir, tileDir := setupWindow(t, fileA, fileB, fileC)
	sci := &mockScience{}
	sci.On("Preprocess", mock.Anything, mock.Anything).Run(writesArtifact).Return(nil)
	sci.On("Georeference", mock.Anything, mock.Anything).Return(nil)
	sci.On("Merge", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	sci.On("Tile", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	res, err := New(sci, WithConcurrency(3)).Run(context.Background(), dir, tileDir, []string{fileA, fileB, fileC})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, []string{
		filepath.Join(dir, capture.ArtifactName(fileA)),
		filepath.Join(dir, capture.ArtifactName(fileB)),
		filepath.Join(dir, capture.ArtifactName(fileC)),
	}, res.Artifacts, "artifacts keep input order")
}

func TestNewInput(t *testing.T) {
	t.Parallel()

	in := newInput("/data/imgw", fileA)
	assert.Equal(t, "/data/imgw/"+fileA, in.Path)
	assert.Equal(t, "/data/imgw/"+capture.ArtifactName(fileA), in.Artifact)
	assert.Equal(t, "NOAA-19", in.Category)
	require.NotNil(t, in.Capture)
	assert.Equal(t, int64(137100000), in.Capture.FrequencyHz)

	other := newInput("/data/imgw", "unknown.png")
	assert.Empty(t, other.Category)
	assert.Nil(t, other.Capture)
}
