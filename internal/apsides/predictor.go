// Package apsides predicts periapsis and apoapsis passages of catalog bodies.
package apsides

import (
	"context"
	"errors"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/AmoditYadav/amodit-space/internal/catalog"
	"github.com/AmoditYadav/amodit-space/internal/kepler"
	"github.com/AmoditYadav/amodit-space/internal/metrics"
	"github.com/AmoditYadav/amodit-space/internal/simclock"
)

// Event kinds.
const (
	KindPeriapsis = "periapsis"
	KindApoapsis  = "apoapsis"
)

// Event is one closest or farthest approach to the focus.
type Event struct {
	Kind     string      `json:"kind"`
	SimTime  float64     `json:"sim_time"`
	WallTime *time.Time  `json:"wall_time,omitempty"`
	Radius   float64     `json:"radius"`
	Position kepler.Vec3 `json:"position"`
}

// BodyApsides holds the predicted events for one body.
type BodyApsides struct {
	ID     string  `json:"id"`
	Events []Event `json:"events"`
	Error  string  `json:"error,omitempty"`
}

// Request holds the parameters for an apsides prediction.
type Request struct {
	Bodies    []catalog.Body
	Start     float64 // sim time
	Span      float64 // sim time units to search
	MaxEvents int     // per body
	// Clock, if set, is used to attach wall times to events.
	Clock *simclock.Clock
}

// DefaultMaxEvents is used when a request does not set MaxEvents.
const DefaultMaxEvents = 8

const (
	coarseSamples      = 64   // radius samples per orbital period
	circularEpsilon    = 1e-9 // eccentricities below this have no apsides
	refineRelTolerance = 1e-9 // golden-section tolerance as a fraction of the period
	boundarySlack      = 1e-6 // events this close outside the window still count
)

var errCircular = errors.New("circular orbit has no apsides")

// Predict computes apsides for every body in req.
// Each body is processed in its own goroutine, bounded by a semaphore.
func Predict(ctx context.Context, req Request) []BodyApsides {
	if req.MaxEvents <= 0 {
		req.MaxEvents = DefaultMaxEvents
	}

	results := make([]BodyApsides, len(req.Bodies))
	sem := make(chan struct{}, runtime.NumCPU())
	var wg sync.WaitGroup

	for i, body := range req.Bodies {
		wg.Add(1)
		go func(idx int, b catalog.Body) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = BodyApsides{ID: b.ID, Error: "cancelled"}
				return
			}

			events, err := predictBody(ctx, req, b.Orbit)
			if err != nil {
				results[idx] = BodyApsides{ID: b.ID, Events: []Event{}, Error: err.Error()}
				return
			}
			results[idx] = BodyApsides{ID: b.ID, Events: events}
		}(i, body)
	}

	wg.Wait()

	for _, r := range results {
		var peri, apo int
		for _, ev := range r.Events {
			if ev.Kind == KindPeriapsis {
				peri++
			} else {
				apo++
			}
		}
		metrics.AddApsidesEvents(KindPeriapsis, peri)
		metrics.AddApsidesEvents(KindApoapsis, apo)
	}
	return results
}

// predictBody scans the radius over [Start, Start+Span] for local extrema.
func predictBody(ctx context.Context, req Request, el kepler.Elements) ([]Event, error) {
	if err := el.Validate(); err != nil {
		return nil, err
	}
	if el.Eccentricity < circularEpsilon {
		return nil, errCircular
	}

	step := el.OrbitalPeriod / coarseSamples
	end := req.Start + req.Span
	radius := func(t float64) float64 { return kepler.StateAt(el, t).Radius }

	events := make([]Event, 0, 4)

	// Start one step early so an extremum exactly at Start is bracketed.
	t0 := req.Start - step
	r0 := radius(t0)
	r1 := radius(t0 + step)
	for i := 2; ; i++ {
		if len(events) >= req.MaxEvents {
			break
		}
		if ctx.Err() != nil {
			return events, nil
		}

		t2 := t0 + float64(i)*step
		if t2-step > end {
			break
		}
		r2 := radius(t2)

		var kind string
		switch {
		case r1 <= r0 && r1 < r2:
			kind = KindPeriapsis
		case r1 >= r0 && r1 > r2:
			kind = KindApoapsis
		}

		if kind != "" {
			lo, hi := t2-2*step, t2
			var tm float64
			if kind == KindPeriapsis {
				tm = goldenMin(radius, lo, hi, el.OrbitalPeriod*refineRelTolerance)
			} else {
				tm = goldenMin(func(t float64) float64 { return -radius(t) }, lo, hi, el.OrbitalPeriod*refineRelTolerance)
			}
			slack := el.OrbitalPeriod * boundarySlack
			if tm >= req.Start-slack && tm <= end+slack {
				st := kepler.StateAt(el, tm)
				ev := Event{
					Kind:     kind,
					SimTime:  tm,
					Radius:   st.Radius,
					Position: st.Position(el),
				}
				if req.Clock != nil && !req.Clock.Frozen {
					wt := req.Clock.WallTime(tm).UTC()
					ev.WallTime = &wt
				}
				events = append(events, ev)
			}
		}

		r0, r1 = r1, r2
	}

	return events, nil
}

var invPhi = (math.Sqrt(5) - 1) / 2

// goldenMin returns the argument minimizing f on [a, b], assuming f is
// unimodal there.
func goldenMin(f func(float64) float64, a, b, tol float64) float64 {
	c := b - invPhi*(b-a)
	d := a + invPhi*(b-a)
	fc, fd := f(c), f(d)
	for i := 0; i < 200 && b-a > tol; i++ {
		if fc < fd {
			b, d, fd = d, c, fc
			c = b - invPhi*(b-a)
			fc = f(c)
		} else {
			a, c, fc = c, d, fd
			d = a + invPhi*(b-a)
			fd = f(d)
		}
	}
	return (a + b) / 2
}
