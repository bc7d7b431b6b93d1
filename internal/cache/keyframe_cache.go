// Package cache keeps a rolling window of precomputed keyframes so stream
// and API readers never evaluate the catalog on the request path.
//
// The window covers [now-Buffer, now+Horizon] at Step resolution. A
// maintenance loop fills the leading edge and drops the trailing edge.
// When the catalog changes the whole window is regenerated off to the
// side and swapped in while readers keep using the old one.
package cache

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AmoditYadav/amodit-space/internal/catalog"
	"github.com/AmoditYadav/amodit-space/internal/metrics"
	"github.com/AmoditYadav/amodit-space/internal/propagation"
)

// latestLookback is how many steps GetLatest walks back from now.
const latestLookback = 10

// Config holds cache configuration.
type Config struct {
	Step        time.Duration // keyframe spacing
	Horizon     time.Duration // how far ahead of now to keep keyframes
	GracePeriod time.Duration // budget for a catalog rebuild; 0 means unbounded
	Buffer      time.Duration // how long keyframes stay after their time passes
}

// KeyframeCache is safe for concurrent use.
type KeyframeCache struct {
	config Config
	prop   *propagation.Propagator
	store  *catalog.Store
	logger *slog.Logger

	mu  sync.RWMutex
	win *window

	// built is the dataset the current window was generated from.
	built      atomic.Pointer[catalog.Dataset]
	rebuilding atomic.Bool

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// NewKeyframeCache returns an empty cache. Call Start to fill it.
func NewKeyframeCache(config Config, prop *propagation.Propagator, store *catalog.Store, logger *slog.Logger) *KeyframeCache {
	logger.Info("keyframe cache configured",
		"step_seconds", config.Step.Seconds(),
		"horizon_seconds", config.Horizon.Seconds(),
		"buffer_seconds", config.Buffer.Seconds(),
		"grace_period_seconds", config.GracePeriod.Seconds(),
	)

	return &KeyframeCache{
		config: config,
		prop:   prop,
		store:  store,
		logger: logger,
		win:    newWindow(config.Step, 0),
	}
}

// RoundToStep returns the start of the step containing t, in UTC.
func (c *KeyframeCache) RoundToStep(t time.Time) time.Time {
	return slotTime(slotOf(t, c.config.Step), c.config.Step)
}

func (c *KeyframeCache) frames() int {
	return int(c.config.Horizon/c.config.Step) + 1
}

// Get returns the keyframe for the step containing t, or nil.
func (c *KeyframeCache) Get(t time.Time) *propagation.Keyframe {
	c.mu.RLock()
	kf := c.win.get(c.win.slot(t))
	c.mu.RUnlock()

	c.count(kf != nil)
	return kf
}

// GetRecent returns up to count keyframes ending at the step containing t,
// oldest first. Missing steps are skipped. Readers build trails from it.
func (c *KeyframeCache) GetRecent(t time.Time, count int) []*propagation.Keyframe {
	if count <= 0 {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	last := c.win.slot(t)
	out := make([]*propagation.Keyframe, 0, count)
	for slot := last - int64(count) + 1; slot <= last; slot++ {
		if kf := c.win.get(slot); kf != nil {
			out = append(out, kf)
		}
	}
	return out
}

// GetLatest returns the newest keyframe at or before now.
func (c *KeyframeCache) GetLatest() *propagation.Keyframe {
	c.mu.RLock()
	now := c.win.slot(time.Now())
	var kf *propagation.Keyframe
	for slot := now; slot > now-latestLookback && kf == nil; slot-- {
		kf = c.win.get(slot)
	}
	c.mu.RUnlock()

	c.count(kf != nil)
	return kf
}

func (c *KeyframeCache) count(hit bool) {
	if hit {
		c.hits.Add(1)
		metrics.IncCacheHits()
		return
	}
	c.misses.Add(1)
	metrics.IncCacheMisses()
}

func (c *KeyframeCache) put(kf *propagation.Keyframe) {
	c.mu.Lock()
	c.win.put(kf)
	n, size := len(c.win.slots), c.win.bytes
	c.mu.Unlock()

	publish(n, size)
}

// evict drops keyframes whose step ended more than Buffer before now.
func (c *KeyframeCache) evict(now time.Time) int {
	c.mu.Lock()
	removed := c.win.dropBefore(c.win.slot(now.Add(-c.config.Buffer)))
	n, size := len(c.win.slots), c.win.bytes
	c.mu.Unlock()

	if removed > 0 {
		c.evictions.Add(int64(removed))
		metrics.AddCacheEvictions(removed)
		publish(n, size)
		c.logger.Debug("keyframes evicted", "removed", removed, "remaining", n)
	}
	return removed
}

func (c *KeyframeCache) swap(next *window) {
	c.mu.Lock()
	c.win = next
	n, size := len(next.slots), next.bytes
	c.mu.Unlock()

	publish(n, size)
}

func publish(entries int, size int64) {
	metrics.SetCacheEntries(entries)
	metrics.SetCacheSizeBytes(size)
}

// CacheStats is the body of the cache stats endpoint.
type CacheStats struct {
	Entries         int       `json:"entries"`
	SizeBytes       int64     `json:"size_bytes"`
	OldestTimestamp time.Time `json:"oldest_timestamp"`
	NewestTimestamp time.Time `json:"newest_timestamp"`
	Hits            int64     `json:"hits"`
	Misses          int64     `json:"misses"`
	Evictions       int64     `json:"evictions"`
	InGracePeriod   bool      `json:"in_grace_period"`
	CatalogSource   string    `json:"catalog_source,omitempty"`
	CatalogLoadedAt time.Time `json:"catalog_loaded_at"`
}

// Stats returns a snapshot of cache counters and window bounds.
func (c *KeyframeCache) Stats() CacheStats {
	c.mu.RLock()
	st := CacheStats{
		Entries:   len(c.win.slots),
		SizeBytes: c.win.bytes,
	}
	if oldest, newest, ok := c.win.bounds(); ok {
		st.OldestTimestamp = c.win.timeOf(oldest)
		st.NewestTimestamp = c.win.timeOf(newest)
	}
	c.mu.RUnlock()

	st.Hits = c.hits.Load()
	st.Misses = c.misses.Load()
	st.Evictions = c.evictions.Load()
	st.InGracePeriod = c.rebuilding.Load()
	if ds := c.built.Load(); ds != nil {
		st.CatalogSource = ds.Source
		st.CatalogLoadedAt = ds.LoadedAt
	}
	return st
}
