package window

import (
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabel(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		start time.Time
		width time.Duration
		want  string
	}{
		{
			name:  "TenMinutes",
			start: start,
			width: 10 * time.Minute,
			want:  "2024-01-01_00:00:00_2024-01-01_00:10:00",
		},
		{
			name:  "CrossesMidnight",
			start: time.Date(2023, 12, 31, 23, 55, 0, 0, time.UTC),
			width: 10 * time.Minute,
			want:  "2023-12-31_23:55:00_2024-01-01_00:05:00",
		},
		{
			name:  "NonUTCInput",
			start: start.In(time.FixedZone("UTC+2", 2*60*60)),
			width: time.Hour,
			want:  "2024-01-01_00:00:00_2024-01-01_01:00:00",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Label(tt.start, tt.width))
		})
	}
}

func TestLabel_Deterministic(t *testing.T) {
	t.Parallel()

	start := time.Unix(1700000000, 0)
	assert.Equal(t, Label(start, time.Minute), Label(start, time.Minute))
	assert.Len(t, Label(start, time.Minute), len(LabelLayout)*2+1)
}

func TestLabel_OrderMatchesTime(t *testing.T) {
	t.Parallel()

	width := 10 * time.Minute
	in := For(time.Date(2024, 9, 30, 23, 50, 0, 0, time.UTC), width)

	var labels []string
	for range 50 {
		labels = append(labels, in.Label())
		in = in.Next()
	}
	assert.True(t, sort.StringsAreSorted(labels))
}

func TestInterval(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	in := For(start, 10*time.Minute)

	assert.Equal(t, start.Add(10*time.Minute), in.End)
	assert.Equal(t, 10*time.Minute, in.Width())
	assert.True(t, in.Contains(start))
	assert.False(t, in.Contains(in.End))

	next := in.Next()
	assert.Equal(t, in.End, next.Start)
	assert.Equal(t, in.Width(), next.Width())
	assert.NotEqual(t, in.Label(), next.Label())
}

func TestLayout(t *testing.T) {
	t.Parallel()

	layout := Layout{ImagesDir: "/srv/images", TilesDir: "/srv/tms"}
	label := "2024-01-01_00:00:00_2024-01-01_00:10:00"

	assert.Equal(t, filepath.Join("/srv/images", "img"+label), layout.ImageDir(label))
	assert.Equal(t, filepath.Join("/srv/tms", "tms"+label), layout.TileDir(label))

	other := "2024-01-01_00:10:00_2024-01-01_00:20:00"
	require.NotEqual(t, layout.ImageDir(label), layout.ImageDir(other))
	require.NotEqual(t, layout.TileDir(label), layout.TileDir(other))
}
