package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/AmoditYadav/amodit-space/internal/apsides"
	"github.com/AmoditYadav/amodit-space/internal/cache"
	"github.com/AmoditYadav/amodit-space/internal/catalog"
	"github.com/AmoditYadav/amodit-space/internal/kepler"
	"github.com/AmoditYadav/amodit-space/internal/propagation"
	"github.com/AmoditYadav/amodit-space/internal/simclock"
)

const (
	maxPathSegments  = 4096
	maxApsidesEvents = 64
	// maxApsidesSpan bounds the sim time scanned per request.
	maxApsidesSpan = 1e6
)

type handlers struct {
	store  *catalog.Store
	clock  *simclock.Clock
	prop   *propagation.Propagator
	cache  *cache.KeyframeCache
	logger *slog.Logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// finiteParam parses an optional float query parameter.
func finiteParam(r *http.Request, name string, def float64) (float64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid %s parameter, must be a finite number", name)
	}
	return f, nil
}

// intParam parses an optional integer query parameter within [lo, hi].
func intParam(r *http.Request, name string, def, lo, hi int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s parameter, must be %d-%d", name, lo, hi)
	}
	return n, nil
}

type bodiesResponse struct {
	Source   string         `json:"source"`
	LoadedAt string         `json:"loaded_at"`
	Count    int            `json:"count"`
	Bodies   []catalog.Body `json:"bodies"`
}

// GET /api/v1/bodies
func (h *handlers) listBodies(w http.ResponseWriter, r *http.Request) {
	ds := h.store.Get()
	if ds == nil {
		writeError(w, http.StatusServiceUnavailable, catalog.ErrNoDataset.Error())
		return
	}
	writeJSON(w, http.StatusOK, bodiesResponse{
		Source:   ds.Source,
		LoadedAt: ds.LoadedAt.UTC().Format(time.RFC3339),
		Count:    len(ds.Bodies),
		Bodies:   ds.Bodies,
	})
}

func (h *handlers) body(w http.ResponseWriter, r *http.Request) (catalog.Body, bool) {
	id := r.PathValue("id")
	b, err := h.store.Body(id)
	if err != nil {
		writeError(w, statusFor(err), fmt.Sprintf("%s: %s", err, id))
		return catalog.Body{}, false
	}
	return b, true
}

type positionResponse struct {
	ID               string       `json:"id"`
	SimTime          float64      `json:"sim_time"`
	Position         kepler.Vec3  `json:"position"`
	Radius           float64      `json:"radius"`
	Speed            float64      `json:"speed"`
	MeanAnomaly      float64      `json:"mean_anomaly"`
	EccentricAnomaly float64      `json:"eccentric_anomaly"`
	TrueAnomaly      float64      `json:"true_anomaly"`
	Iterations       int          `json:"iterations"`
	Converged        bool         `json:"converged"`
	MoonPosition     *kepler.Vec3 `json:"moon_position,omitempty"`
}

// GET /api/v1/bodies/{id}/position?t=<sim time>
func (h *handlers) bodyPosition(w http.ResponseWriter, r *http.Request) {
	b, ok := h.body(w, r)
	if !ok {
		return
	}
	t, err := finiteParam(r, "t", h.clock.At(time.Now()))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st := kepler.StateAt(b.Orbit, t)
	pos := st.Position(b.Orbit)
	if !pos.IsFinite() {
		writeError(w, http.StatusUnprocessableEntity, "orbit produces a non-finite position")
		return
	}

	resp := positionResponse{
		ID:               b.ID,
		SimTime:          t,
		Position:         pos,
		Radius:           st.Radius,
		Speed:            st.RelativeSpeed(b.Orbit),
		MeanAnomaly:      st.MeanAnomaly,
		EccentricAnomaly: st.EccentricAnomaly,
		TrueAnomaly:      st.TrueAnomaly,
		Iterations:       st.Iterations,
		Converged:        st.Converged,
	}
	if b.Moon != nil {
		m := kepler.MoonPosition(pos, *b.Moon, t)
		resp.MoonPosition = &m
	}
	writeJSON(w, http.StatusOK, resp)
}

type pathResponse struct {
	ID       string        `json:"id"`
	Segments int           `json:"segments"`
	Period   float64       `json:"period"`
	Points   []kepler.Vec3 `json:"points"`
}

// GET /api/v1/bodies/{id}/path?segments=128
func (h *handlers) bodyPath(w http.ResponseWriter, r *http.Request) {
	b, ok := h.body(w, r)
	if !ok {
		return
	}
	segments, err := intParam(r, "segments", kepler.DefaultSegments, 1, maxPathSegments)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, pathResponse{
		ID:       b.ID,
		Segments: segments,
		Period:   b.Orbit.OrbitalPeriod,
		Points:   kepler.OrbitPath(b.Orbit, segments),
	})
}

type summaryResponse struct {
	ID         string  `json:"id"`
	Periapsis  float64 `json:"periapsis"`
	Apoapsis   float64 `json:"apoapsis"`
	Period     float64 `json:"period"`
	MeanMotion float64 `json:"mean_motion"`
	MinSpeed   float64 `json:"min_speed"`
	MaxSpeed   float64 `json:"max_speed"`
	MeanSpeed  float64 `json:"mean_speed"`
	PathLength float64 `json:"path_length"`
	Samples    int     `json:"samples"`
}

// GET /api/v1/bodies/{id}/summary?segments=128
//
// Speeds and path length are sampled at the same uniform time steps as
// the orbit path.
func (h *handlers) bodySummary(w http.ResponseWriter, r *http.Request) {
	b, ok := h.body(w, r)
	if !ok {
		return
	}
	segments, err := intParam(r, "segments", kepler.DefaultSegments, 1, maxPathSegments)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := b.Orbit.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, summarize(b, segments))
}

func summarize(b catalog.Body, segments int) summaryResponse {
	el := b.Orbit
	dt := el.OrbitalPeriod / float64(segments)
	speeds := make([]float64, segments)
	for i := range speeds {
		speeds[i] = kepler.RelativeSpeed(el, float64(i)*dt)
	}

	path := kepler.OrbitPath(el, segments)
	var length float64
	for i := 1; i < len(path); i++ {
		length += floats.Distance(path[i][:], path[i-1][:], 2)
	}

	return summaryResponse{
		ID:         b.ID,
		Periapsis:  el.Periapsis(),
		Apoapsis:   el.Apoapsis(),
		Period:     el.OrbitalPeriod,
		MeanMotion: el.MeanMotion(),
		MinSpeed:   floats.Min(speeds),
		MaxSpeed:   floats.Max(speeds),
		MeanSpeed:  floats.Sum(speeds) / float64(len(speeds)),
		PathLength: length,
		Samples:    segments,
	}
}

type apsidesResponse struct {
	Start  float64               `json:"start"`
	Span   float64               `json:"span"`
	Bodies []apsides.BodyApsides `json:"bodies"`
}

// GET /api/v1/apsides?start=&span=&max=&ids=a,b
//
// start defaults to the current sim time and span to two periods of the
// slowest selected body.
func (h *handlers) apsides(w http.ResponseWriter, r *http.Request) {
	ds := h.store.Get()
	if ds == nil {
		writeError(w, http.StatusServiceUnavailable, catalog.ErrNoDataset.Error())
		return
	}

	bodies := ds.Bodies
	if v := r.URL.Query().Get("ids"); v != "" {
		bodies = nil
		for _, id := range strings.Split(v, ",") {
			b, ok := ds.Lookup(strings.TrimSpace(id))
			if !ok {
				writeError(w, http.StatusNotFound, fmt.Sprintf("%s: %s", catalog.ErrUnknownBody, id))
				return
			}
			bodies = append(bodies, b)
		}
	}

	start, err := finiteParam(r, "start", h.clock.At(time.Now()))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var longest float64
	for _, b := range bodies {
		longest = math.Max(longest, b.Orbit.OrbitalPeriod)
	}
	span, err := finiteParam(r, "span", 2*longest)
	if err != nil || span <= 0 || span > maxApsidesSpan {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid span parameter, must be in (0, %g]", maxApsidesSpan))
		return
	}

	maxEvents, err := intParam(r, "max", apsides.DefaultMaxEvents, 1, maxApsidesEvents)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results := apsides.Predict(r.Context(), apsides.Request{
		Bodies:    bodies,
		Start:     start,
		Span:      span,
		MaxEvents: maxEvents,
		Clock:     h.clock,
	})

	writeJSON(w, http.StatusOK, apsidesResponse{Start: start, Span: span, Bodies: results})
}

// GET /api/v1/keyframes/latest
func (h *handlers) latestKeyframe(w http.ResponseWriter, r *http.Request) {
	kf := h.cache.GetLatest()
	if kf == nil {
		writeError(w, http.StatusServiceUnavailable, "no keyframes cached yet")
		return
	}
	writeJSON(w, http.StatusOK, kf)
}

// GET /api/v1/keyframes/at?t=<RFC3339>
//
// Served from the cache when the step-rounded time is cached; computed on
// demand otherwise. X-Cache reports which.
func (h *handlers) keyframeAt(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query().Get("t")
	if v == "" {
		writeError(w, http.StatusBadRequest, "missing t parameter (RFC3339)")
		return
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid t parameter, must be RFC3339")
		return
	}

	if kf := h.cache.Get(t); kf != nil {
		w.Header().Set("X-Cache", "HIT")
		writeJSON(w, http.StatusOK, kf)
		return
	}

	kf, err := h.prop.PropagateToTime(r.Context(), h.cache.RoundToStep(t))
	if err != nil {
		h.logger.Warn("on-demand keyframe failed", "timestamp", t.UTC().Format(time.RFC3339), "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.Header().Set("X-Cache", "MISS")
	writeJSON(w, http.StatusOK, kf)
}

// GET /api/v1/cache/stats
func (h *handlers) cacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cache.Stats())
}
