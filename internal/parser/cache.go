package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/maypok86/otter"

	"ffibind/internal/model"
)

// Cache holds parsed units keyed by path, backend and content hash, so that
// watch mode only reparses headers that changed.
type Cache struct {
	units otter.Cache[string, *model.Unit]
}

// NewCache creates a cache holding at most capacity units.
func NewCache(capacity int) (*Cache, error) {
	units, err := otter.MustBuilder[string, *model.Unit](capacity).
		CollectStats().
		Build()
	if err != nil {
		return nil, fmt.Errorf("creating parse cache: %w", err)
	}
	return &Cache{units: units}, nil
}

// Get returns the cached unit for key.
func (c *Cache) Get(key string) (*model.Unit, bool) {
	return c.units.Get(key)
}

// Set stores a parsed unit.
func (c *Cache) Set(key string, unit *model.Unit) {
	c.units.Set(key, unit)
}

// Hits returns the number of cache hits so far.
func (c *Cache) Hits() int64 {
	return c.units.Stats().Hits()
}

// Close releases the cache.
func (c *Cache) Close() {
	c.units.Close()
}

func cacheKey(path string, backend Backend, src []byte) string {
	sum := sha256.Sum256(src)
	return path + "|" + string(backend) + "|" + hex.EncodeToString(sum[:])
}
