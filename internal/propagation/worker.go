package propagation

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/AmoditYadav/amodit-space/internal/catalog"
	"github.com/AmoditYadav/amodit-space/internal/kepler"
	"github.com/AmoditYadav/amodit-space/internal/metrics"
)

var errNonFinite = errors.New("non-finite position")

// propagateJob is a unit of work for the worker pool.
type propagateJob struct {
	index   int
	body    catalog.Body
	simTime float64
}

// propagateResult is the output of a single body evaluation.
type propagateResult struct {
	index      int
	position   BodyPosition
	err        error
	id         string
	iterations int
	converged  bool
}

// WorkerPool manages a fixed number of goroutines for parallel evaluation.
type WorkerPool struct {
	workers int
	logger  *slog.Logger
}

// NewWorkerPool creates a worker pool with the given number of workers.
func NewWorkerPool(workers int, logger *slog.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{
		workers: workers,
		logger:  logger,
	}
}

// PropagateBatch evaluates every body at simTime using the worker pool.
// Results come back in input order. Bodies that yield non-finite positions
// are logged and skipped.
func (wp *WorkerPool) PropagateBatch(ctx context.Context, bodies []catalog.Body, simTime float64) ([]BodyPosition, int, int) {
	if len(bodies) == 0 {
		return nil, 0, 0
	}

	jobs := make(chan propagateJob, wp.workers*2)
	results := make(chan propagateResult, wp.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < wp.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				result := propagateSingle(job)
				select {
				case results <- result:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, body := range bodies {
			job := propagateJob{
				index:   i,
				body:    body,
				simTime: simTime,
			}
			select {
			case jobs <- job:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	collected := make([]propagateResult, 0, len(bodies))
	var successCount, errorCount int

	for result := range results {
		if !result.converged {
			metrics.IncKeplerNonConverged()
			wp.logger.Debug("kepler solve hit iteration cap",
				"body_id", result.id,
				"iterations", result.iterations,
				"sim_time", simTime,
			)
		}
		if result.err != nil {
			errorCount++
			wp.logger.Warn("propagation failed",
				"body_id", result.id,
				"sim_time", simTime,
				"error", result.err,
			)
			continue
		}
		successCount++
		collected = append(collected, result)
	}

	sort.Slice(collected, func(i, j int) bool {
		return collected[i].index < collected[j].index
	})
	positions := make([]BodyPosition, len(collected))
	for i, r := range collected {
		positions[i] = r.position
	}

	return positions, successCount, errorCount
}

// propagateSingle evaluates one body and, if it has one, its moon.
func propagateSingle(job propagateJob) propagateResult {
	el := job.body.Orbit
	st := kepler.StateAt(el, job.simTime)
	pos := st.Position(el)
	speed := st.RelativeSpeed(el)

	res := propagateResult{
		index:      job.index,
		id:         job.body.ID,
		iterations: st.Iterations,
		converged:  st.Converged,
	}
	if !pos.IsFinite() {
		res.err = errNonFinite
		return res
	}

	res.position = BodyPosition{
		ID:       job.body.ID,
		Position: pos,
		Speed:    speed,
	}
	if job.body.Moon != nil {
		mp := kepler.MoonPosition(pos, *job.body.Moon, job.simTime)
		res.position.MoonPosition = &mp
	}
	return res
}
