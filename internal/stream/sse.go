package stream

import (
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/AmoditYadav/amodit-space/internal/httputil"
	"github.com/AmoditYadav/amodit-space/internal/metrics"
)

const transportSSE = "sse"

// HandleKeyframes serves the SSE keyframe stream.
// GET /api/v1/stream/keyframes?step=1&trail=20
//
// Keep-alive comments (:\n\n) are sent every KeepaliveInterval to prevent timeout.
func (h *Handler) HandleKeyframes(w http.ResponseWriter, r *http.Request) {
	p, err := parseParams(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if !h.acquire(w, ip) {
		return
	}

	metrics.IncStreamConnections(transportSSE, "connect")
	metrics.IncStreamsActive(transportSSE)

	startTime := time.Now()
	h.logger.Info("stream connected",
		"transport", transportSSE,
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
		"step_seconds", int(p.step.Seconds()),
		"trail", p.trail,
	)

	// Cleanup on disconnect: release rate limit slot and update metrics.
	defer func() {
		h.limiter.release(ip)
		metrics.IncStreamConnections(transportSSE, "disconnect")
		metrics.DecStreamsActive(transportSSE)
		h.logger.Info("stream disconnected",
			"transport", transportSSE,
			"remote_ip", ip,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Clear the server's default WriteTimeout for this connection.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	c := &sseClient{
		ctx:       r.Context(),
		w:         w,
		flusher:   flusher,
		rc:        rc,
		bandwidth: newBandwidthLimiter(h.config.BandwidthLimit),
		logger:    h.logger,
	}

	// Jittered retry interval (3-7s) spreads reconnects after a restart.
	retryMs := 3000 + rand.Intn(4000)
	fmt.Fprintf(w, "retry: %d\n\n", retryMs)
	flusher.Flush()

	h.run(r.Context(), c, p, ip)
}

// acquire reserves a stream slot for ip or writes a 429.
func (h *Handler) acquire(w http.ResponseWriter, ip string) bool {
	if h.limiter.acquire(ip) {
		return true
	}
	metrics.IncStreamErrors("rate_limit")
	h.logger.Warn("stream rate limit exceeded",
		"remote_ip", ip,
		"current_count", h.limiter.count(ip),
		"total", h.limiter.totalCount(),
	)
	w.Header().Set("Retry-After", "30")
	writeJSONError(w, http.StatusTooManyRequests, "too many concurrent streams")
	return false
}

// newBandwidthLimiter returns a byte budget of bytesPerSec, or nil when
// unlimited.
func newBandwidthLimiter(bytesPerSec int) *rate.Limiter {
	if bytesPerSec <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec)
}
