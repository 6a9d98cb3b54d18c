// Package cache provides caching for rendered frames and query results.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	FrameCacheSizeMB int
	FrameTTL         time.Duration
	QueryCacheSize   int
}

// Manager manages the rendered-frame and query caches.
type Manager struct {
	frameCache *bigcache.BigCache
	queryCache *lru.Cache[string, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	frameCacheConfig := bigcache.Config{
		Shards:             256,
		LifeWindow:         cfg.FrameTTL,
		CleanWindow:        cfg.FrameTTL / 2,
		MaxEntriesInWindow: 10000,
		MaxEntrySize:       512 * 1024, // a PNG frame with outlines
		HardMaxCacheSize:   cfg.FrameCacheSizeMB,
		Verbose:            false,
	}

	frameCache, err := bigcache.New(context.Background(), frameCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create frame cache: %w", err)
	}

	queryCache, err := lru.New[string, []byte](cfg.QueryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}

	return &Manager{
		frameCache: frameCache,
		queryCache: queryCache,
	}, nil
}

// GetFrame retrieves a rendered frame from cache.
func (m *Manager) GetFrame(key string) ([]byte, bool) {
	data, err := m.frameCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetFrame stores a rendered frame in cache.
func (m *Manager) SetFrame(key string, data []byte) error {
	return m.frameCache.Set(key, data)
}

// GetQuery retrieves a query result from cache.
func (m *Manager) GetQuery(key string) ([]byte, bool) {
	return m.queryCache.Get(key)
}

// SetQuery stores a query result in cache.
func (m *Manager) SetQuery(key string, data []byte) {
	m.queryCache.Add(key, data)
}

// FrameKey generates a cache key for a rendered frame. Plain frames do not
// depend on brush state; variant carries whatever else changes the pixels
// (outline, coloring, brush generation).
func FrameKey(dataset string, location, frame int, variant string) string {
	key := fmt.Sprintf("frame:%s/%d/%d", dataset, location, frame)
	if variant != "" {
		key += ":" + variant
	}
	return key
}

// MontageKey generates a cache key for a track montage. Highlighted cells
// change with the brush, so the brush generation is part of the key.
func MontageKey(dataset, curveID string, generation uint64, columns int) string {
	return fmt.Sprintf("montage:%s/%s:g%d:c%d", dataset, curveID, generation, columns)
}

// QueryKey generates a cache key for a JSON query result computed at one
// brush generation. Params are order-independent and hashed.
func QueryKey(dataset, query string, generation uint64, params map[string]string) string {
	base := fmt.Sprintf("query:%s/%s:g%d", dataset, query, generation)
	if len(params) == 0 {
		return base
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k + "=" + params[k] + ";"))
	}
	return base + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

// PurgeQueries drops every cached query of dataset.
func (m *Manager) PurgeQueries(dataset string) int {
	prefix := "query:" + dataset + "/"
	n := 0
	for _, k := range m.queryCache.Keys() {
		if strings.HasPrefix(k, prefix) {
			m.queryCache.Remove(k)
			n++
		}
	}
	return n
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"frame_cache_len": m.frameCache.Len(),
		"frame_cache_cap": m.frameCache.Capacity(),
		"query_cache_len": m.queryCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.frameCache.Close()
}
