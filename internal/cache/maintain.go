package cache

import (
	"context"
	"time"

	"github.com/AmoditYadav/amodit-space/internal/metrics"
	"github.com/AmoditYadav/amodit-space/internal/propagation"
)

const catalogPollInterval = 500 * time.Millisecond

// Start fills the window once a catalog is available and then maintains it
// every Step until ctx is cancelled.
func (c *KeyframeCache) Start(ctx context.Context) {
	if !c.waitForCatalog(ctx) {
		return
	}

	c.warmup(ctx)

	ticker := time.NewTicker(c.config.Step)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("keyframe cache stopped")
			return
		case now := <-ticker.C:
			c.maintain(ctx, now)
		}
	}
}

func (c *KeyframeCache) waitForCatalog(ctx context.Context) bool {
	if c.store.Get() != nil {
		return true
	}

	c.logger.Info("keyframe cache waiting for catalog")
	ticker := time.NewTicker(catalogPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if c.store.Get() != nil {
				return true
			}
		}
	}
}

// warmup fills the live window for [now, now+Horizon]. Readers see frames
// as they land.
func (c *KeyframeCache) warmup(ctx context.Context) {
	ds := c.store.Get()
	if ds == nil {
		return
	}
	c.built.Store(ds)
	metrics.SetCatalogBodies(len(ds.Bodies))

	from := c.RoundToStep(time.Now())
	start := time.Now()
	generated, err := c.fill(ctx, from, c.frames(), c.put)
	if err != nil {
		return
	}

	c.logger.Info("keyframe cache warm",
		"frames", generated,
		"from", from.Format(time.RFC3339),
		"to", from.Add(c.config.Horizon).Format(time.RFC3339),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// fill propagates frames consecutive steps starting at from and hands each
// keyframe to emit. Propagation failures skip the frame; a done ctx stops
// the fill and is returned.
func (c *KeyframeCache) fill(ctx context.Context, from time.Time, frames int, emit func(*propagation.Keyframe)) (int, error) {
	var generated int
	for i := 0; i < frames; i++ {
		if err := ctx.Err(); err != nil {
			return generated, err
		}

		at := from.Add(time.Duration(i) * c.config.Step)
		kf, err := c.prop.PropagateToTime(ctx, at)
		if err != nil {
			if ctx.Err() != nil {
				return generated, ctx.Err()
			}
			c.logger.Warn("keyframe generation failed", "timestamp", at.Format(time.RFC3339), "error", err)
			metrics.IncCacheRegenerationErrors()
			continue
		}
		emit(kf)
		generated++
	}
	return generated, nil
}

// maintain runs one pass of the loop: rebuild on catalog change, otherwise
// fill missing steps ahead of now and evict the trailing edge.
func (c *KeyframeCache) maintain(ctx context.Context, now time.Time) {
	if ds, changed := c.catalogChanged(); changed {
		c.rebuild(ctx, ds)
		return
	}

	c.fillGaps(ctx, now)
	c.evict(now)
}

// fillGaps generates every step in [now, now+Horizon] that is not cached.
// In steady state that is only the leading edge.
func (c *KeyframeCache) fillGaps(ctx context.Context, now time.Time) {
	first := slotOf(now, c.config.Step)
	last := slotOf(now.Add(c.config.Horizon), c.config.Step)

	var missing []int64
	c.mu.RLock()
	for slot := first; slot <= last; slot++ {
		if c.win.get(slot) == nil {
			missing = append(missing, slot)
		}
	}
	c.mu.RUnlock()

	for _, slot := range missing {
		start := time.Now()
		n, err := c.fill(ctx, slotTime(slot, c.config.Step), 1, c.put)
		if err != nil {
			return
		}
		if n == 1 {
			metrics.ObserveCacheRegenerationDuration(time.Since(start))
		}
	}

	if len(missing) > 1 {
		c.logger.Debug("keyframe gaps filled", "frames", len(missing))
	}
}
