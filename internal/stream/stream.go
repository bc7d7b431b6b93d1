// Package stream pushes keyframe batches to renderers over Server-Sent Events
// (GET /api/v1/stream/keyframes) and WebSocket (GET /api/v1/stream/ws).
//
// Both transports carry the same JSON messages. The first message on every
// connection is metadata describing the catalog and the simulation clock:
//
//	{"type":"metadata","catalog_source":"builtin","sim_rate":2,"epoch_jd":2461330.5,...}
//
// followed by one batch per step:
//
//	{"type":"keyframe_batch","t":"2026-02-06T04:00:00Z","sim_t":120,"bodies":[{"id":"about","p":[x,z,y],"s":1.01}]}
//
// Reconnecting clients receive a fresh metadata message on each connection.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/AmoditYadav/amodit-space/internal/cache"
	"github.com/AmoditYadav/amodit-space/internal/catalog"
	"github.com/AmoditYadav/amodit-space/internal/kepler"
	"github.com/AmoditYadav/amodit-space/internal/metrics"
	"github.com/AmoditYadav/amodit-space/internal/propagation"
	"github.com/AmoditYadav/amodit-space/internal/simclock"
)

// Config holds streaming configuration.
type Config struct {
	MaxConcurrentPerIP int           // Max concurrent streams per IP (default: 10).
	MaxTotal           int           // Max concurrent streams overall (default: 1000).
	BandwidthLimit     int           // Bytes per second per stream (default: 1048576).
	KeepaliveInterval  time.Duration // Keep-alive ping interval (default: 30s).
	TrustProxy         bool          // Honor X-Forwarded-For when keying limits.
	AllowedOrigins     []string      // WebSocket origins; empty allows any.
}

// Handler manages streaming connections for both transports.
type Handler struct {
	cache    *cache.KeyframeCache
	store    *catalog.Store
	clock    *simclock.Clock
	config   Config
	limiter  *streamLimiter
	upgrader ws.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a new streaming handler.
func NewHandler(kfCache *cache.KeyframeCache, store *catalog.Store, clock *simclock.Clock, config Config, logger *slog.Logger) *Handler {
	if config.MaxTotal <= 0 {
		config.MaxTotal = 1000
	}
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = 30 * time.Second
	}
	h := &Handler{
		cache:   kfCache,
		store:   store,
		clock:   clock,
		config:  config,
		limiter: newStreamLimiter(config.MaxConcurrentPerIP, config.MaxTotal),
		logger:  logger,
	}
	h.upgrader = ws.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 16 * 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range h.config.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// params are the query parameters shared by both transports.
type params struct {
	step  time.Duration
	trail int
}

// parseParams reads ?step=1..60 (seconds) and ?trail=0..120 (keyframes).
func parseParams(r *http.Request) (params, error) {
	p := params{step: time.Second, trail: 20}

	if v := r.URL.Query().Get("step"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 60 {
			return p, fmt.Errorf("invalid step parameter, must be 1-60")
		}
		p.step = time.Duration(n) * time.Second
	}

	if v := r.URL.Query().Get("trail"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 120 {
			return p, fmt.Errorf("invalid trail parameter, must be 0-120")
		}
		p.trail = n
	}

	return p, nil
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// sender is one connected client, independent of transport.
type sender interface {
	sendJSON(v any) error
	sendRaw(data []byte) error
	sendKeepalive() error
}

// metadata builds the first message of a connection, or nil before any
// catalog is loaded.
func (h *Handler) metadata(now time.Time) *metadataMessage {
	ds := h.store.Get()
	if ds == nil {
		return nil
	}
	ids := make([]string, len(ds.Bodies))
	for i, b := range ds.Bodies {
		ids[i] = b.ID
	}
	return &metadataMessage{
		Type:            "metadata",
		CatalogSource:   ds.Source,
		CatalogLoadedAt: ds.LoadedAt.UTC().Format(time.RFC3339),
		CatalogAge:      int(now.Sub(ds.LoadedAt).Seconds()),
		Bodies:          ids,
		SimEpoch:        h.clock.Epoch.UTC().Format(time.RFC3339),
		SimRate:         h.clock.Rate,
		Frozen:          h.clock.Frozen,
		SimTime:         h.clock.At(now),
		EpochJD:         h.clock.JulianDay(now),
	}
}

// run streams keyframes to s until ctx is cancelled or a write fails.
func (h *Handler) run(ctx context.Context, s sender, p params, ip string) {
	if meta := h.metadata(time.Now()); meta != nil {
		if err := s.sendJSON(meta); err != nil {
			metrics.IncStreamErrors("send_error")
			h.logger.Warn("stream send error (metadata)", "remote_ip", ip, "error", err)
			return
		}
	}

	ticker := time.NewTicker(p.step)
	defer ticker.Stop()

	keepaliveTicker := time.NewTicker(h.config.KeepaliveInterval)
	defer keepaliveTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case t := <-ticker.C:
			kf := h.cache.Get(t)
			if kf == nil {
				metrics.IncStreamErrors("cache_miss")
				h.logger.Debug("stream cache miss",
					"timestamp", h.cache.RoundToStep(t).UTC().Format(time.RFC3339),
					"remote_ip", ip,
				)
				continue
			}

			var trailKFs []*propagation.Keyframe
			if p.trail > 0 {
				trailKFs = h.cache.GetRecent(t, p.trail)
			}

			data, err := json.Marshal(buildBatchMessage(kf, trailKFs))
			if err != nil {
				metrics.IncStreamErrors("marshal_error")
				h.logger.Warn("stream marshal error", "remote_ip", ip, "error", err)
				continue
			}
			if err := s.sendRaw(data); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
				return
			}

			// Reset keepalive since we just sent data.
			keepaliveTicker.Reset(h.config.KeepaliveInterval)

		case <-keepaliveTicker.C:
			if err := s.sendKeepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}

// buildBatchMessage formats a keyframe into the batch payload.
// If trailKFs is non-empty, each body includes past positions (oldest first).
func buildBatchMessage(kf *propagation.Keyframe, trailKFs []*propagation.Keyframe) keyframeBatchMessage {
	var trailIndex map[string][]kepler.Vec3
	if len(trailKFs) > 0 {
		trailIndex = make(map[string][]kepler.Vec3, len(kf.Bodies))
		for _, tkf := range trailKFs {
			for _, b := range tkf.Bodies {
				trailIndex[b.ID] = append(trailIndex[b.ID], b.Position)
			}
		}
	}

	bodies := make([]bodyPayload, len(kf.Bodies))
	for i, b := range kf.Bodies {
		bodies[i] = bodyPayload{
			ID: b.ID,
			P:  b.Position,
			S:  b.Speed,
			M:  b.MoonPosition,
		}
		if trailIndex != nil {
			if tr, ok := trailIndex[b.ID]; ok {
				bodies[i].Tr = tr
			}
		}
	}
	return keyframeBatchMessage{
		Type:    "keyframe_batch",
		T:       kf.Timestamp.UTC().Format(time.RFC3339Nano),
		SimTime: kf.SimTime,
		Bodies:  bodies,
	}
}

// Message payload types.

type metadataMessage struct {
	Type            string   `json:"type"`
	CatalogSource   string   `json:"catalog_source"`
	CatalogLoadedAt string   `json:"catalog_loaded_at"`
	CatalogAge      int      `json:"catalog_age_seconds"`
	Bodies          []string `json:"bodies"`
	SimEpoch        string   `json:"sim_epoch"`
	SimRate         float64  `json:"sim_rate"`
	Frozen          bool     `json:"frozen"`
	SimTime         float64  `json:"sim_t"`
	EpochJD         float64  `json:"epoch_jd"`
}

type keyframeBatchMessage struct {
	Type    string        `json:"type"`
	T       string        `json:"t"`
	SimTime float64       `json:"sim_t"`
	Bodies  []bodyPayload `json:"bodies"`
}

type bodyPayload struct {
	ID string        `json:"id"`
	P  kepler.Vec3   `json:"p"`
	S  float64       `json:"s"`
	M  *kepler.Vec3  `json:"m,omitempty"`
	Tr []kepler.Vec3 `json:"tr,omitempty"`
}
