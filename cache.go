package novasite

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/genesinova/novasite/media"
)

// ManifestCache is an in-memory copy of the media manifest with TTL.
type ManifestCache struct {
	mu       sync.RWMutex
	manifest media.Manifest
	fetched  time.Time
	ttl      time.Duration
	path     string
	log      *zap.Logger
}

// NewManifestCache creates a ManifestCache reading the manifest at path.
func NewManifestCache(path string, ttl time.Duration, log *zap.Logger) *ManifestCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &ManifestCache{path: path, ttl: ttl, log: log}
}

func (c *ManifestCache) valid() bool {
	return c.manifest != nil && time.Since(c.fetched) < c.ttl
}

// Invalidate clears the cache so the next read triggers a fresh load.
func (c *ManifestCache) Invalidate() {
	c.mu.Lock()
	c.manifest = nil
	c.mu.Unlock()
}

func (c *ManifestCache) load() error {
	if c.valid() {
		return nil
	}
	m, err := media.LoadManifest(c.path)
	if errors.Is(err, media.ErrCorruptManifest) {
		// Serve nothing rather than fail every request until the next run.
		c.log.Warn("manifest unreadable", zap.String("path", c.path), zap.Error(err))
	} else if err != nil {
		return err
	}
	c.manifest = m
	c.fetched = time.Now()
	return nil
}

// ensureLoaded returns the cached manifest after ensuring the cache is fresh.
// It tries a read lock first; only takes a write lock if a reload is needed.
func (c *ManifestCache) ensureLoaded() (media.Manifest, error) {
	c.mu.RLock()
	if c.valid() {
		m := c.manifest
		c.mu.RUnlock()
		return m, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.load(); err != nil {
		return nil, err
	}
	return c.manifest, nil
}

// IDs returns the sorted ids of all manifest entries.
func (c *ManifestCache) IDs() ([]string, error) {
	m, err := c.ensureLoaded()
	if err != nil {
		return nil, err
	}
	return m.IDs(), nil
}

// Get returns the manifest entry for id, or ErrNotFound.
func (c *ManifestCache) Get(id string) (media.ManifestEntry, error) {
	m, err := c.ensureLoaded()
	if err != nil {
		return media.ManifestEntry{}, err
	}
	e, ok := m.Get(id)
	if !ok {
		return media.ManifestEntry{}, ErrNotFound
	}
	return e, nil
}
