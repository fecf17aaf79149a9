// Package tiles serves files of the tile pyramids written by the pipeline.
package tiles

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/skymosaic/skymosaic/internal/cmn/fileutil"
)

// ErrNotFound is returned for paths that do not name a file under the root.
var ErrNotFound = errors.New("tile not found")

const (
	defaultCacheSize = 1024
	defaultCacheTTL  = 10 * time.Minute
	maxCachedSize    = 1 << 20
)

// Tile is a file read from the tiles root.
type Tile struct {
	Name    string
	Data    []byte
	ModTime time.Time
}

// Store reads files below a root directory.
type Store struct {
	root  string
	cache *fileutil.Cache[*Tile]
}

// Option configures a Store.
type Option func(*Store)

// WithCache replaces the default read cache. A nil cache disables caching.
func WithCache(c *fileutil.Cache[*Tile]) Option {
	return func(s *Store) {
		s.cache = c
	}
}

// New creates a Store rooted at root.
func New(root string, opts ...Option) *Store {
	s := &Store{
		root:  root,
		cache: fileutil.NewCache[*Tile]("tiles", defaultCacheSize, defaultCacheTTL),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the tiles root directory.
func (s *Store) Root() string {
	return s.root
}

// Read returns the file at the slash-separated path rel. Paths that escape
// the root, name a directory or do not exist yield ErrNotFound.
func (s *Store) Read(ctx context.Context, rel string) (*Tile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}

	load := func() (*Tile, error) {
		return readTile(p)
	}
	if s.cache == nil {
		return load()
	}

	fi, err := os.Stat(p)
	if err != nil || !fi.Mode().IsRegular() {
		return nil, ErrNotFound
	}
	if fi.Size() > maxCachedSize {
		return load()
	}
	t, err := s.cache.LoadLatest(p, load)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return t, err
}

func (s *Store) resolve(rel string) (string, error) {
	if rel == "" || strings.ContainsRune(rel, 0) || strings.Contains(rel, `\`) {
		return "", ErrNotFound
	}
	for _, part := range strings.Split(rel, "/") {
		if part == ".." {
			return "", ErrNotFound
		}
	}
	cleaned := path.Clean("/" + rel)
	if cleaned == "/" {
		return "", ErrNotFound
	}
	p := filepath.Join(s.root, filepath.FromSlash(cleaned[1:]))
	r, err := filepath.Rel(s.root, p)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", ErrNotFound
	}
	return p, nil
}

func readTile(p string) (*Tile, error) {
	fi, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to stat tile: %w", err)
	}
	if !fi.Mode().IsRegular() {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(p) //nolint:gosec // confined to the tiles root
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read tile: %w", err)
	}
	return &Tile{Name: filepath.Base(p), Data: data, ModTime: fi.ModTime()}, nil
}
