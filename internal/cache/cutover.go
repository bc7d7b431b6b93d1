package cache

import (
	"context"
	"time"

	"github.com/AmoditYadav/amodit-space/internal/catalog"
	"github.com/AmoditYadav/amodit-space/internal/metrics"
)

// catalogChanged reports whether the store holds a different dataset from
// the one the window was built from.
func (c *KeyframeCache) catalogChanged() (*catalog.Dataset, bool) {
	ds := c.store.Get()
	if ds == nil {
		return nil, false
	}
	return ds, ds != c.built.Load()
}

// rebuild regenerates the window for ds into a fresh window and swaps it
// in. Readers keep the old window until the swap. A rebuild that runs past
// GracePeriod swaps in what it has, dropping the old catalog's frames, and
// leaves the catalog marked as changed so the next pass retries.
func (c *KeyframeCache) rebuild(ctx context.Context, ds *catalog.Dataset) {
	var prevSource string
	if old := c.built.Load(); old != nil {
		prevSource = old.Source
	}
	c.logger.Info("catalog changed, rebuilding keyframes",
		"previous_source", prevSource,
		"source", ds.Source,
		"loaded_at", ds.LoadedAt.UTC().Format(time.RFC3339),
		"bodies", len(ds.Bodies),
	)

	c.rebuilding.Store(true)
	metrics.SetCacheGracePeriodActive(true)
	defer func() {
		c.rebuilding.Store(false)
		metrics.SetCacheGracePeriodActive(false)
	}()

	buildCtx := ctx
	if c.config.GracePeriod > 0 {
		var cancel context.CancelFunc
		buildCtx, cancel = context.WithTimeout(ctx, c.config.GracePeriod)
		defer cancel()
	}

	start := time.Now()
	next := newWindow(c.config.Step, c.frames())
	generated, err := c.fill(buildCtx, c.RoundToStep(start), c.frames(), next.put)

	switch {
	case ctx.Err() != nil:
		c.logger.Warn("keyframe rebuild cancelled")
		return
	case err != nil:
		c.logger.Warn("keyframe rebuild exceeded grace period, dropping stale frames",
			"grace_period_seconds", c.config.GracePeriod.Seconds(),
			"generated", generated,
		)
		c.swap(next)
		metrics.IncCacheRegenerationErrors()
		return
	}

	c.swap(next)
	c.built.Store(ds)
	metrics.SetCatalogBodies(len(ds.Bodies))

	duration := time.Since(start)
	metrics.ObserveCacheRegenerationDuration(duration)
	c.logger.Info("keyframe rebuild complete",
		"frames", generated,
		"duration_ms", duration.Milliseconds(),
	)
}
