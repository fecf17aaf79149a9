package fileutil

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// entry holds cached data alongside file metadata for staleness detection.
type entry[T any] struct {
	data    T
	size    int64
	modTime int64
}

// Cache is a file-keyed LRU with TTL expiration. Entries remember the size
// and modification time of the file they were loaded from, so a file that
// changed on disk (for example rewritten by another process) is reloaded.
type Cache[T any] struct {
	name string
	lru  *expirable.LRU[string, entry[T]]
}

// NewCache creates a cache. A capacity of 0 means unlimited size.
func NewCache[T any](name string, capacity int, ttl time.Duration) *Cache[T] {
	return &Cache[T]{
		name: name,
		lru:  expirable.NewLRU[string, entry[T]](capacity, nil, ttl),
	}
}

// Name returns the cache name.
func (c *Cache[T]) Name() string {
	return c.name
}

// Size returns the current number of entries.
func (c *Cache[T]) Size() int {
	return c.lru.Len()
}

// Store adds or replaces the entry for fileName.
func (c *Cache[T]) Store(fileName string, data T, fi os.FileInfo) {
	c.lru.Add(fileName, entry[T]{
		data:    data,
		size:    fi.Size(),
		modTime: fi.ModTime().UnixNano(),
	})
}

// Invalidate removes the entry for fileName.
func (c *Cache[T]) Invalidate(fileName string) {
	c.lru.Remove(fileName)
}

// Load returns the cached entry without checking the file.
func (c *Cache[T]) Load(fileName string) (T, bool) {
	e, ok := c.lru.Get(fileName)
	return e.data, ok
}

// LoadLatest returns the cached entry for filePath unless the file changed on
// disk, in which case loader is invoked and its result cached.
func (c *Cache[T]) LoadLatest(filePath string, loader func() (T, error)) (T, error) {
	var zero T
	fi, err := os.Stat(filePath)
	if err != nil {
		c.Invalidate(filePath)
		return zero, fmt.Errorf("failed to stat file %s: %w", filePath, err)
	}
	if e, ok := c.lru.Get(filePath); ok &&
		e.size == fi.Size() && e.modTime == fi.ModTime().UnixNano() {
		return e.data, nil
	}
	data, err := loader()
	if err != nil {
		return zero, err
	}
	c.Store(filePath, data, fi)
	return data, nil
}
