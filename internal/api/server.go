package api

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/AmoditYadav/amodit-space/internal/auth"
	"github.com/AmoditYadav/amodit-space/internal/cache"
	"github.com/AmoditYadav/amodit-space/internal/catalog"
	"github.com/AmoditYadav/amodit-space/internal/health"
	"github.com/AmoditYadav/amodit-space/internal/httputil"
	"github.com/AmoditYadav/amodit-space/internal/metrics"
	"github.com/AmoditYadav/amodit-space/internal/propagation"
	"github.com/AmoditYadav/amodit-space/internal/simclock"
	"github.com/AmoditYadav/amodit-space/internal/stream"
)

// Deps are the components the HTTP surface serves from.
type Deps struct {
	Store      *catalog.Store
	Clock      *simclock.Clock
	Propagator *propagation.Propagator
	Cache      *cache.KeyframeCache
	Stream     *stream.Handler

	Auth      auth.Config
	RateLimit httputil.RateLimitConfig
	Limiter   *httputil.IPRateLimiter
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(addr string, logger *slog.Logger, deps Deps) *Server {
	h := &handlers{
		store:  deps.Store,
		clock:  deps.Clock,
		prop:   deps.Propagator,
		cache:  deps.Cache,
		logger: logger,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(deps.Store))
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/v1/bodies", h.listBodies)
	mux.HandleFunc("GET /api/v1/bodies/{id}/position", h.bodyPosition)
	mux.HandleFunc("GET /api/v1/bodies/{id}/path", h.bodyPath)
	mux.HandleFunc("GET /api/v1/bodies/{id}/summary", h.bodySummary)
	mux.HandleFunc("GET /api/v1/apsides", h.apsides)

	mux.HandleFunc("GET /api/v1/keyframes/latest", h.latestKeyframe)
	mux.HandleFunc("GET /api/v1/keyframes/at", h.keyframeAt)
	mux.HandleFunc("GET /api/v1/cache/stats", h.cacheStats)

	if deps.Stream != nil {
		mux.HandleFunc("GET /api/v1/stream/keyframes", deps.Stream.HandleKeyframes)
		mux.HandleFunc("GET /api/v1/stream/ws", deps.Stream.HandleWS)
	}

	limiter := deps.Limiter
	if limiter == nil {
		limiter = httputil.NewIPRateLimiter(0, 0)
	}

	// Build middleware chain: metrics -> logging -> rate limit -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(deps.Auth)(handler)
	handler = httputil.RateLimitMiddleware(deps.RateLimit, limiter, logger)(handler)
	handler = loggingMiddleware(logger, deps.RateLimit.TrustProxy)(handler)
	handler = metrics.Middleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler returns the full middleware chain, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE working through the logging layer.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the WebSocket upgrader take over the connection.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	sr.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", httputil.ClientIP(r, trustProxy),
			)
		})
	}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, catalog.ErrNoDataset):
		return http.StatusServiceUnavailable
	case errors.Is(err, catalog.ErrUnknownBody):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
