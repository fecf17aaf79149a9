// Package capture recognizes capture images by name and derives the names of
// the files produced from them.
package capture

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MergedFileName is the merged raster written into a window's image directory.
const MergedFileName = "merged.tif"

// ArtifactSuffix replaces the extension of a stored image to name its
// georeferenced artifact.
const ArtifactSuffix = "_geo.tif"

// ErrNotCapture is returned by Parse for names that are not capture images.
var ErrNotCapture = errors.New("not a capture filename")

// SDRSharp_<yyyymmdd>_<hhmmss>Z_<frequency>Hz_IQ.png
var capturePattern = regexp.MustCompile(`^(SDRSharp)_([0-9]{8}_[0-9]{6})Z_([0-9]{9})Hz_IQ\.png$`)

const captureTimeLayout = "20060102_150405"

// Capture is the metadata encoded in a capture filename.
type Capture struct {
	Device      string
	Time        time.Time
	FrequencyHz int64
}

// IsCaptureFilename reports whether name is an accepted capture image.
func IsCaptureFilename(name string) bool {
	return capturePattern.MatchString(name)
}

// Parse extracts the metadata of a capture filename.
func Parse(name string) (*Capture, error) {
	m := capturePattern.FindStringSubmatch(name)
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotCapture, name)
	}
	ts, err := time.ParseInLocation(captureTimeLayout, m[2], time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid capture time in %q: %w", name, err)
	}
	freq, err := strconv.ParseInt(m[3], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid capture frequency in %q: %w", name, err)
	}
	return &Capture{Device: m[1], Time: ts, FrequencyHz: freq}, nil
}

// StoredName is the name an upload is saved under inside a window directory.
func StoredName(category, filename string) string {
	return category + "_" + filename
}

// ParseStoredName splits a stored name into its category and capture
// filename. The category may itself contain underscores.
func ParseStoredName(stored string) (category, filename string, ok bool) {
	idx := strings.LastIndex(stored, "_SDRSharp_")
	if idx < 0 {
		return "", "", false
	}
	category, filename = stored[:idx], stored[idx+1:]
	if !IsCaptureFilename(filename) {
		return "", "", false
	}
	return category, filename, true
}

// ArtifactName is the georeferenced artifact derived from a stored image.
func ArtifactName(stored string) string {
	return strings.TrimSuffix(stored, filepath.Ext(stored)) + ArtifactSuffix
}
