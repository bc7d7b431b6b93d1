// Package metrics exposes Prometheus collectors for the orrery service.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orrery_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	httpRateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orrery_http_rate_limited_total",
		Help: "Requests rejected by the per-IP rate limiter.",
	})

	// Catalog.
	catalogBodies = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orrery_catalog_bodies",
		Help: "Number of bodies in the active catalog.",
	})
	catalogAgeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orrery_catalog_age_seconds",
		Help: "Seconds since the active catalog was loaded.",
	})
	catalogReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_catalog_reloads_total",
			Help: "Catalog reload attempts by result.",
		},
		[]string{"result"},
	)

	// Propagation.
	propagationDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orrery_propagation_duration_seconds",
		Help:    "Time to evaluate every body for one keyframe.",
		Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
	})
	propagationBodiesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_propagation_bodies_total",
			Help: "Body evaluations by result.",
		},
		[]string{"result"},
	)
	propagationWorkersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orrery_propagation_workers",
		Help: "Configured propagation worker count.",
	})
	keplerNonConvergedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orrery_kepler_nonconverged_total",
		Help: "Kepler solves that hit the iteration cap before reaching tolerance.",
	})

	// Keyframe cache.
	cacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orrery_cache_hits_total",
		Help: "Keyframe cache hits.",
	})
	cacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orrery_cache_misses_total",
		Help: "Keyframe cache misses.",
	})
	cacheEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orrery_cache_evictions_total",
		Help: "Keyframes evicted from the trailing edge.",
	})
	cacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orrery_cache_entries",
		Help: "Keyframes currently cached.",
	})
	cacheSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orrery_cache_size_bytes",
		Help: "Estimated keyframe cache footprint.",
	})
	cacheRegenerationDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orrery_cache_regeneration_duration_seconds",
		Help:    "Duration of leading-edge generation and cutovers.",
		Buckets: prometheus.DefBuckets,
	})
	cacheRegenerationErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orrery_cache_regeneration_errors_total",
		Help: "Keyframe generation failures.",
	})
	cacheGracePeriodActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orrery_cache_grace_period_active",
		Help: "1 while a catalog cutover is rebuilding the cache.",
	})

	// Streaming.
	streamConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_stream_connections_total",
			Help: "Stream connection events.",
		},
		[]string{"transport", "event"},
	)
	streamsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "orrery_streams_active",
			Help: "Open stream connections.",
		},
		[]string{"transport"},
	)
	streamMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_stream_messages_total",
			Help: "Messages written to stream clients.",
		},
		[]string{"transport"},
	)
	streamBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_stream_bytes_total",
			Help: "Bytes written to stream clients.",
		},
		[]string{"transport"},
	)
	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_stream_errors_total",
			Help: "Stream errors by reason.",
		},
		[]string{"reason"},
	)

	// Apsides.
	apsidesEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orrery_apsides_events_total",
			Help: "Predicted apsis passages by kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		httpRateLimitedTotal,
		catalogBodies,
		catalogAgeSeconds,
		catalogReloadsTotal,
		propagationDurationSeconds,
		propagationBodiesTotal,
		propagationWorkersActive,
		keplerNonConvergedTotal,
		cacheHitsTotal,
		cacheMissesTotal,
		cacheEvictionsTotal,
		cacheEntries,
		cacheSizeBytes,
		cacheRegenerationDurationSeconds,
		cacheRegenerationErrorsTotal,
		cacheGracePeriodActive,
		streamConnectionsTotal,
		streamsActive,
		streamMessagesTotal,
		streamBytesTotal,
		streamErrorsTotal,
		apsidesEventsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// exactRoutes are label values passed through unchanged.
var exactRoutes = map[string]bool{
	"/":                        true,
	"/healthz":                 true,
	"/readyz":                  true,
	"/metrics":                 true,
	"/api/v1/bodies":           true,
	"/api/v1/apsides":          true,
	"/api/v1/keyframes/latest": true,
	"/api/v1/keyframes/at":     true,
	"/api/v1/cache/stats":      true,
	"/api/v1/stream/keyframes": true,
	"/api/v1/stream/ws":        true,
}

var bodySubroutes = map[string]bool{
	"position": true,
	"path":     true,
	"summary":  true,
}

// normalizeRoute maps a request path to a bounded set of label values so
// arbitrary body IDs and scanner traffic cannot blow up label cardinality.
func normalizeRoute(path string) string {
	if exactRoutes[path] {
		return path
	}
	if rest, ok := strings.CutPrefix(path, "/api/v1/bodies/"); ok {
		id, sub, found := strings.Cut(rest, "/")
		if found && id != "" && bodySubroutes[sub] {
			return "/api/v1/bodies/{id}/" + sub
		}
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the underlying writer so SSE keeps working.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack forwards to the underlying writer for websocket upgrades.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}

// IncRateLimited counts a request rejected by the rate limiter.
func IncRateLimited() { httpRateLimitedTotal.Inc() }

// SetCatalogBodies sets the active catalog size.
func SetCatalogBodies(n int) { catalogBodies.Set(float64(n)) }

// SetCatalogAge sets the active catalog age in seconds.
func SetCatalogAge(seconds float64) { catalogAgeSeconds.Set(seconds) }

// IncCatalogReloads counts a reload attempt; result is "success" or "error".
func IncCatalogReloads(result string) { catalogReloadsTotal.WithLabelValues(result).Inc() }

// RecordPropagation records one batch evaluation.
func RecordPropagation(d time.Duration, success, errors int) {
	propagationDurationSeconds.Observe(d.Seconds())
	if success > 0 {
		propagationBodiesTotal.WithLabelValues("success").Add(float64(success))
	}
	if errors > 0 {
		propagationBodiesTotal.WithLabelValues("error").Add(float64(errors))
	}
}

// SetPropagationWorkersActive sets the worker pool size gauge.
func SetPropagationWorkersActive(n int) { propagationWorkersActive.Set(float64(n)) }

// IncKeplerNonConverged counts a solve that returned a best-effort estimate.
func IncKeplerNonConverged() { keplerNonConvergedTotal.Inc() }

func IncCacheHits()               { cacheHitsTotal.Inc() }
func IncCacheMisses()             { cacheMissesTotal.Inc() }
func AddCacheEvictions(n int)     { cacheEvictionsTotal.Add(float64(n)) }
func SetCacheEntries(n int)       { cacheEntries.Set(float64(n)) }
func SetCacheSizeBytes(n int64)   { cacheSizeBytes.Set(float64(n)) }
func IncCacheRegenerationErrors() { cacheRegenerationErrorsTotal.Inc() }

// ObserveCacheRegenerationDuration records a leading-edge or cutover duration.
func ObserveCacheRegenerationDuration(d time.Duration) {
	cacheRegenerationDurationSeconds.Observe(d.Seconds())
}

// SetCacheGracePeriodActive toggles the cutover gauge.
func SetCacheGracePeriodActive(active bool) {
	if active {
		cacheGracePeriodActive.Set(1)
		return
	}
	cacheGracePeriodActive.Set(0)
}

// IncStreamConnections counts a connect or disconnect on transport ("sse", "ws").
func IncStreamConnections(transport, event string) {
	streamConnectionsTotal.WithLabelValues(transport, event).Inc()
}

func IncStreamsActive(transport string)  { streamsActive.WithLabelValues(transport).Inc() }
func DecStreamsActive(transport string)  { streamsActive.WithLabelValues(transport).Dec() }
func IncStreamMessages(transport string) { streamMessagesTotal.WithLabelValues(transport).Inc() }
func AddStreamBytes(transport string, n int64) {
	streamBytesTotal.WithLabelValues(transport).Add(float64(n))
}

// IncStreamErrors counts a stream error by reason.
func IncStreamErrors(reason string) { streamErrorsTotal.WithLabelValues(reason).Inc() }

// AddApsidesEvents counts predicted passages of one kind.
func AddApsidesEvents(kind string, n int) {
	if n > 0 {
		apsidesEventsTotal.WithLabelValues(kind).Add(float64(n))
	}
}
