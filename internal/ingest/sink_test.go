package ingest

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/skymosaic/skymosaic/internal/cmn/fileutil"
	"github.com/skymosaic/skymosaic/internal/core/window"
	"github.com/skymosaic/skymosaic/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const captureName = "SDRSharp_20240101_000500Z_137100000Hz_IQ.png"

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestSink(t *testing.T) (*Sink, *window.Cursor, window.Layout) {
	t.Helper()
	root := t.TempDir()
	layout := window.Layout{
		ImagesDir: filepath.Join(root, "images"),
		TilesDir:  filepath.Join(root, "tms"),
	}
	cursor := window.NewCursor(epoch, 10*time.Minute)
	return NewSink(cursor, layout, nil), cursor, layout
}

func TestSink_AcceptCapture(t *testing.T) {
	t.Parallel()

	sink, cursor, layout := newTestSink(t)
	ok, err := sink.Accept(context.Background(), "NOAA-19", captureName, strings.NewReader("pixels"))
	require.NoError(t, err)
	require.True(t, ok)

	dir := layout.ImageDir(cursor.Current().Label())
	data, err := os.ReadFile(filepath.Join(dir, "NOAA-19_"+captureName))
	require.NoError(t, err)
	assert.Equal(t, "pixels", string(data))

	names, err := fileutil.ListFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"NOAA-19_" + captureName}, names)
}

func TestSink_IgnoresNonCapture(t *testing.T) {
	t.Parallel()

	sink, _, layout := newTestSink(t)
	for _, name := range []string{"notes.txt", "SDRSharp_2024_IQ.png", ""} {
		ok, err := sink.Accept(context.Background(), "NOAA-19", name, strings.NewReader("x"))
		require.NoError(t, err)
		assert.False(t, ok, name)
	}
	_, err := os.Stat(layout.ImagesDir)
	assert.True(t, os.IsNotExist(err), "nothing is written for ignored uploads")
}

func TestSink_StripsPathComponents(t *testing.T) {
	t.Parallel()

	sink, cursor, layout := newTestSink(t)
	for _, name := range []string{"../../" + captureName, `C:\captures\` + captureName} {
		ok, err := sink.Accept(context.Background(), "NOAA-18", name, strings.NewReader("x"))
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.FileExists(t, filepath.Join(layout.ImageDir(cursor.Current().Label()), "NOAA-18_"+captureName))
}

func TestSink_RejectsUnsafeCategory(t *testing.T) {
	t.Parallel()

	sink, _, _ := newTestSink(t)
	for _, category := range []string{"../x", "a/b", `a\b`, ".hidden"} {
		ok, err := sink.Accept(context.Background(), category, captureName, strings.NewReader("x"))
		require.ErrorIs(t, err, ErrInvalidCategory, category)
		assert.False(t, ok)
	}
}

func TestSink_LastWriteWins(t *testing.T) {
	t.Parallel()

	sink, cursor, layout := newTestSink(t)
	ctx := context.Background()
	_, err := sink.Accept(ctx, "NOAA-19", captureName, strings.NewReader("first"))
	require.NoError(t, err)
	_, err = sink.Accept(ctx, "NOAA-19", captureName, strings.NewReader("second"))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(layout.ImageDir(cursor.Current().Label()), "NOAA-19_"+captureName))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestSink_FollowsCursor(t *testing.T) {
	t.Parallel()

	sink, cursor, layout := newTestSink(t)
	ctx := context.Background()
	first := cursor.Current()

	_, err := sink.Accept(ctx, "NOAA-19", captureName, strings.NewReader("a"))
	require.NoError(t, err)
	next := cursor.Advance()
	_, err = sink.Accept(ctx, "NOAA-15", captureName, strings.NewReader("b"))
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(layout.ImageDir(first.Label()), "NOAA-19_"+captureName))
	assert.FileExists(t, filepath.Join(layout.ImageDir(next.Label()), "NOAA-15_"+captureName))
	assert.NoFileExists(t, filepath.Join(layout.ImageDir(first.Label()), "NOAA-15_"+captureName))
}

// blockingReader delivers its content only after release is closed.
type blockingReader struct {
	started chan struct{}
	release chan struct{}
	done    bool
}

func (r *blockingReader) Read(p []byte) (int, error) {
	if r.done {
		return 0, io.EOF
	}
	close(r.started)
	<-r.release
	r.done = true
	return copy(p, "late"), nil
}

func TestSink_AdvanceWaitsForInFlightUpload(t *testing.T) {
	t.Parallel()

	sink, cursor, layout := newTestSink(t)
	first := cursor.Current()
	r := &blockingReader{started: make(chan struct{}), release: make(chan struct{})}

	uploaded := make(chan error, 1)
	go func() {
		_, err := sink.Accept(context.Background(), "NOAA-19", captureName, r)
		uploaded <- err
	}()
	<-r.started

	advanced := make(chan struct{})
	go func() {
		cursor.Advance()
		close(advanced)
	}()

	select {
	case <-advanced:
		t.Fatal("window advanced during an in-flight upload")
	case <-time.After(20 * time.Millisecond):
	}

	close(r.release)
	require.NoError(t, <-uploaded)
	<-advanced

	assert.FileExists(t, filepath.Join(layout.ImageDir(first.Label()), "NOAA-19_"+captureName))
}

func TestSink_Metrics(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	sink := NewSink(window.NewCursor(epoch, time.Minute), window.Layout{ImagesDir: root, TilesDir: root}, m)

	ctx := context.Background()
	_, _ = sink.Accept(ctx, "NOAA-19", captureName, strings.NewReader("x"))
	_, _ = sink.Accept(ctx, "NOAA-19", "notes.txt", strings.NewReader("x"))

	expected := `
# HELP skymosaic_uploads_total Total number of uploaded files by result
# TYPE skymosaic_uploads_total counter
skymosaic_uploads_total{result="accepted"} 1
skymosaic_uploads_total{result="rejected"} 1
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "skymosaic_uploads_total"))
}
