package propagation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"testing"
	"time"

	"github.com/AmoditYadav/amodit-space/internal/catalog"
	"github.com/AmoditYadav/amodit-space/internal/kepler"
	"github.com/AmoditYadav/amodit-space/internal/simclock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

var testEpoch = time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)

func testClock() *simclock.Clock {
	return &simclock.Clock{Epoch: testEpoch, Rate: 2.0}
}

func circular(id string, a, period float64) catalog.Body {
	return catalog.Body{
		ID:   id,
		Size: 0.5,
		Orbit: kepler.Elements{
			SemiMajorAxis: a,
			OrbitalPeriod: period,
		},
	}
}

// TestPropagateSingle verifies a circular orbit a quarter period in.
func TestPropagateSingle(t *testing.T) {
	res := propagateSingle(propagateJob{body: circular("c", 10, 100), simTime: 25})
	if res.err != nil {
		t.Fatalf("unexpected error: %v", res.err)
	}
	want := kepler.Vec3{0, 0, 10}
	for i := range want {
		if math.Abs(res.position.Position[i]-want[i]) > 1e-9 {
			t.Errorf("position = %v, want %v", res.position.Position, want)
			break
		}
	}
	if math.Abs(res.position.Speed-1) > 1e-12 {
		t.Errorf("speed = %g, want 1", res.position.Speed)
	}
	if res.position.MoonPosition != nil {
		t.Error("body without moon should have no moon position")
	}
	if !res.converged {
		t.Error("expected converged solve")
	}
}

func TestPropagateSingleMoon(t *testing.T) {
	b := circular("m", 10, 100)
	b.Moon = &kepler.Moon{OrbitRadius: 1, AngularRate: 0, Offset: 0}
	res := propagateSingle(propagateJob{body: b, simTime: 0})
	if res.position.MoonPosition == nil {
		t.Fatal("expected moon position")
	}
	got := *res.position.MoonPosition
	if math.Abs(got[0]-11) > 1e-9 || math.Abs(got[1]) > 1e-9 || math.Abs(got[2]) > 1e-9 {
		t.Errorf("moon = %v, want (11, 0, 0)", got)
	}
}

// TestPropagateSingleNonFinite verifies out-of-domain elements are reported
// as errors instead of leaking NaN into keyframes.
func TestPropagateSingleNonFinite(t *testing.T) {
	res := propagateSingle(propagateJob{body: circular("bad", 10, 0), simTime: 1})
	if !errors.Is(res.err, errNonFinite) {
		t.Errorf("expected errNonFinite, got %v", res.err)
	}
}

// TestWorkerPoolBatch verifies the worker pool processes bodies in catalog order.
func TestWorkerPoolBatch(t *testing.T) {
	pool := NewWorkerPool(4, testLogger())

	bodies := make([]catalog.Body, 20)
	for i := range bodies {
		bodies[i] = circular(fmt.Sprintf("b%02d", i), float64(i+1), 100)
	}
	bodies[7] = circular("broken", 5, 0)

	positions, successCount, errorCount := pool.PropagateBatch(context.Background(), bodies, 10)
	if successCount != 19 || errorCount != 1 {
		t.Fatalf("success=%d errors=%d, want 19/1", successCount, errorCount)
	}
	if len(positions) != 19 {
		t.Fatalf("got %d positions, want 19", len(positions))
	}

	j := 0
	for _, b := range bodies {
		if b.ID == "broken" {
			continue
		}
		if positions[j].ID != b.ID {
			t.Errorf("position %d: id %s, want %s", j, positions[j].ID, b.ID)
		}
		if r := positions[j].Position.Norm(); math.Abs(r-b.Orbit.SemiMajorAxis) > 1e-9 {
			t.Errorf("%s: |p| = %g, want %g", b.ID, r, b.Orbit.SemiMajorAxis)
		}
		j++
	}
}

// TestWorkerPoolCancellation verifies the worker pool respects context cancellation.
func TestWorkerPoolCancellation(t *testing.T) {
	pool := NewWorkerPool(2, testLogger())

	bodies := make([]catalog.Body, 1000)
	for i := range bodies {
		bodies[i] = circular(fmt.Sprintf("b%d", i), 10, 100)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	positions, _, _ := pool.PropagateBatch(ctx, bodies, 0)
	if len(positions) >= len(bodies) {
		t.Errorf("expected fewer results with cancelled context, got %d/%d", len(positions), len(bodies))
	}
}

func TestWorkerPoolEmpty(t *testing.T) {
	pool := NewWorkerPool(0, testLogger())
	positions, s, e := pool.PropagateBatch(context.Background(), nil, 0)
	if positions != nil || s != 0 || e != 0 {
		t.Errorf("expected empty result, got %v %d %d", positions, s, e)
	}
}

// TestPropagatorGenerateKeyframes verifies keyframe generation over a horizon.
func TestPropagatorGenerateKeyframes(t *testing.T) {
	store := catalog.NewStore()
	store.Set(&catalog.Dataset{
		Source:   "test",
		LoadedAt: time.Now(),
		Bodies:   catalog.DefaultBodies(),
	})

	cfg := PropConfig{
		Workers: 2,
		Step:    5 * time.Second,
		Horizon: 15 * time.Second,
	}

	prop := NewPropagator(store, testClock(), cfg, testLogger())
	keyframes, err := prop.GenerateKeyframes(context.Background(), testEpoch)
	if err != nil {
		t.Fatalf("GenerateKeyframes failed: %v", err)
	}

	// With 15s horizon and 5s step: frames at 0s, 5s, 10s, 15s = 4 frames.
	if len(keyframes) != 4 {
		t.Fatalf("got %d keyframes, want 4", len(keyframes))
	}

	for i, kf := range keyframes {
		expectedTime := testEpoch.Add(time.Duration(i) * cfg.Step)
		if !kf.Timestamp.Equal(expectedTime) {
			t.Errorf("keyframe %d: time = %v, want %v", i, kf.Timestamp, expectedTime)
		}
		if want := float64(i) * 10; math.Abs(kf.SimTime-want) > 1e-9 {
			t.Errorf("keyframe %d: sim time = %g, want %g", i, kf.SimTime, want)
		}
		if len(kf.Bodies) != 4 {
			t.Fatalf("keyframe %d: %d bodies, want 4", i, len(kf.Bodies))
		}
		for _, bp := range kf.Bodies {
			b, _ := store.Get().Lookup(bp.ID)
			want := kepler.Position(b.Orbit, kf.SimTime)
			if bp.Position != want {
				t.Errorf("keyframe %d %s: position %v, want %v", i, bp.ID, bp.Position, want)
			}
			if bp.MoonPosition == nil {
				t.Errorf("keyframe %d %s: missing moon", i, bp.ID)
			}
		}
	}
	if keyframes[0].Bodies[0].ID != "about" || keyframes[0].Bodies[3].ID != "contact" {
		t.Error("bodies should follow catalog order")
	}
}

// TestPropagatorSkipsInvalidBodies verifies hand-built datasets with
// out-of-domain elements do not poison keyframes.
func TestPropagatorSkipsInvalidBodies(t *testing.T) {
	store := catalog.NewStore()
	store.Set(&catalog.Dataset{
		Source:   "test",
		LoadedAt: time.Now(),
		Bodies: []catalog.Body{
			circular("ok", 10, 100),
			{ID: "hyperbolic", Orbit: kepler.Elements{SemiMajorAxis: 10, Eccentricity: 1.5, OrbitalPeriod: 100}},
		},
	})

	prop := NewPropagator(store, testClock(), PropConfig{Workers: 1, Step: time.Second, Horizon: time.Second}, testLogger())
	kf, err := prop.PropagateToTime(context.Background(), testEpoch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(kf.Bodies) != 1 || kf.Bodies[0].ID != "ok" {
		t.Errorf("expected only the valid body, got %+v", kf.Bodies)
	}

	// Same dataset: cache is reused.
	first := prop.valid.Load()
	if _, err := prop.PropagateToTime(context.Background(), testEpoch); err != nil {
		t.Fatal(err)
	}
	if prop.valid.Load() != first {
		t.Error("body cache rebuilt for unchanged dataset")
	}

	// New dataset: cache is rebuilt.
	store.Set(&catalog.Dataset{Source: "test2", LoadedAt: time.Now().Add(time.Second), Bodies: catalog.DefaultBodies()})
	kf, err = prop.PropagateToTime(context.Background(), testEpoch)
	if err != nil {
		t.Fatal(err)
	}
	if len(kf.Bodies) != 4 {
		t.Errorf("expected 4 bodies after reload, got %d", len(kf.Bodies))
	}
}

// TestPropagatorReloadSameLoadedAt swaps in a dataset carrying the previous
// LoadedAt; the new bodies must still be used.
func TestPropagatorReloadSameLoadedAt(t *testing.T) {
	loadedAt := time.Date(2026, 2, 6, 3, 45, 0, 0, time.UTC)
	store := catalog.NewStore()
	store.Set(&catalog.Dataset{Source: "a", LoadedAt: loadedAt, Bodies: []catalog.Body{circular("one", 10, 100)}})

	prop := NewPropagator(store, testClock(), PropConfig{Workers: 1, Step: time.Second, Horizon: time.Second}, testLogger())
	if _, err := prop.PropagateToTime(context.Background(), testEpoch); err != nil {
		t.Fatal(err)
	}

	store.Set(&catalog.Dataset{Source: "b", LoadedAt: loadedAt, Bodies: []catalog.Body{
		circular("two", 12, 100),
		circular("three", 14, 120),
	}})
	kf, err := prop.PropagateToTime(context.Background(), testEpoch)
	if err != nil {
		t.Fatal(err)
	}
	if len(kf.Bodies) != 2 || kf.Bodies[0].ID == "one" {
		t.Errorf("stale bodies after reload: %+v", kf.Bodies)
	}
}

// TestPropagatorNoDataset verifies error when no catalog is loaded.
func TestPropagatorNoDataset(t *testing.T) {
	cfg := PropConfig{Workers: 2, Step: 5 * time.Second, Horizon: 60 * time.Second}
	prop := NewPropagator(catalog.NewStore(), testClock(), cfg, testLogger())

	_, err := prop.PropagateToTime(context.Background(), time.Now())
	if !errors.Is(err, catalog.ErrNoDataset) {
		t.Fatalf("expected ErrNoDataset, got %v", err)
	}
	if _, err := prop.GenerateKeyframes(context.Background(), time.Now()); !errors.Is(err, catalog.ErrNoDataset) {
		t.Fatalf("expected ErrNoDataset, got %v", err)
	}
}

// BenchmarkPropagate1000 benchmarks evaluating 1000 bodies.
func BenchmarkPropagate1000(b *testing.B) {
	bodies := make([]catalog.Body, 1000)
	for i := range bodies {
		bodies[i] = catalog.Body{
			ID: fmt.Sprintf("b%d", i),
			Orbit: kepler.Elements{
				SemiMajorAxis: 5 + float64(i%50),
				Eccentricity:  float64(i%9) / 10,
				Inclination:   0.1,
				OrbitalPeriod: 100,
			},
		}
	}

	store := catalog.NewStore()
	store.Set(&catalog.Dataset{Source: "bench", LoadedAt: time.Now(), Bodies: bodies})

	cfg := PropConfig{Workers: 4, Step: 5 * time.Second, Horizon: 5 * time.Second}
	prop := NewPropagator(store, testClock(), cfg, testLogger())
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := prop.PropagateToTime(ctx, testEpoch.Add(time.Duration(i)*time.Second)); err != nil {
			b.Fatal(err)
		}
	}
}
