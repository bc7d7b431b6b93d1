package propagation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AmoditYadav/amodit-space/internal/catalog"
	"github.com/AmoditYadav/amodit-space/internal/metrics"
	"github.com/AmoditYadav/amodit-space/internal/simclock"
)

// bodyCache holds the bodies of a specific dataset that passed validation.
// Immutable after construction; safe for concurrent reads.
type bodyCache struct {
	bodies []catalog.Body
	ds     *catalog.Dataset
}

// Propagator orchestrates keyframe generation for the active catalog.
type Propagator struct {
	store  *catalog.Store
	clock  *simclock.Clock
	pool   *WorkerPool
	config PropConfig
	logger *slog.Logger
	valid  atomic.Pointer[bodyCache]
	mu     sync.Mutex // serializes cache rebuilds
}

// NewPropagator creates a new propagation orchestrator.
func NewPropagator(store *catalog.Store, clock *simclock.Clock, config PropConfig, logger *slog.Logger) *Propagator {
	pool := NewWorkerPool(config.Workers, logger)
	return &Propagator{
		store:  store,
		clock:  clock,
		pool:   pool,
		config: config,
		logger: logger,
	}
}

// Clock returns the simulation clock keyframes are evaluated against.
func (p *Propagator) Clock() *simclock.Clock {
	return p.clock
}

// validBodies returns the bodies of ds whose elements are in the engine's
// domain. The result is cached per dataset pointer (double-checked locking).
func (p *Propagator) validBodies(ds *catalog.Dataset) []catalog.Body {
	if c := p.valid.Load(); c != nil && c.ds == ds {
		return c.bodies
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c := p.valid.Load(); c != nil && c.ds == ds {
		return c.bodies
	}

	bodies := make([]catalog.Body, 0, len(ds.Bodies))
	var skipped int
	for _, b := range ds.Bodies {
		if err := b.Orbit.Validate(); err != nil {
			p.logger.Warn("skipping body with invalid elements", "body_id", b.ID, "error", err)
			skipped++
			continue
		}
		bodies = append(bodies, b)
	}

	p.logger.Info("body cache rebuilt",
		"cached", len(bodies),
		"skipped", skipped,
		"dataset_loaded_at", ds.LoadedAt.UTC().Format(time.RFC3339),
	)
	p.valid.Store(&bodyCache{bodies: bodies, ds: ds})
	return bodies
}

// PropagateToTime generates a single keyframe for wall time targetTime.
// Uses the current catalog from the store.
func (p *Propagator) PropagateToTime(ctx context.Context, targetTime time.Time) (*Keyframe, error) {
	ds := p.store.Get()
	if ds == nil {
		return nil, catalog.ErrNoDataset
	}

	bodies := p.validBodies(ds)
	simTime := p.clock.At(targetTime)

	p.logger.Debug("propagating",
		"body_count", len(bodies),
		"target_time", targetTime.UTC().Format(time.RFC3339Nano),
		"sim_time", simTime,
		"workers", p.config.Workers,
	)

	start := time.Now()
	positions, successCount, errorCount := p.pool.PropagateBatch(ctx, bodies, simTime)
	duration := time.Since(start)

	metrics.RecordPropagation(duration, successCount, errorCount)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.logger.Debug("propagation complete",
		"success", successCount,
		"errors", errorCount,
		"duration_us", duration.Microseconds(),
	)

	return &Keyframe{
		Timestamp: targetTime,
		SimTime:   simTime,
		Bodies:    positions,
	}, nil
}

// GenerateKeyframes generates keyframes from startTime over the configured horizon
// at the configured step interval.
func (p *Propagator) GenerateKeyframes(ctx context.Context, startTime time.Time) ([]*Keyframe, error) {
	if p.store.Get() == nil {
		return nil, catalog.ErrNoDataset
	}

	numFrames := int(p.config.Horizon/p.config.Step) + 1
	keyframes := make([]*Keyframe, 0, numFrames)

	for i := 0; i < numFrames; i++ {
		select {
		case <-ctx.Done():
			return keyframes, ctx.Err()
		default:
		}

		targetTime := startTime.Add(time.Duration(i) * p.config.Step)
		kf, err := p.PropagateToTime(ctx, targetTime)
		if err != nil {
			return keyframes, fmt.Errorf("keyframe %d at %s: %w", i, targetTime.Format(time.RFC3339), err)
		}
		keyframes = append(keyframes, kf)
	}

	return keyframes, nil
}
