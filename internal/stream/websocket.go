package stream

import (
	"context"
	"net/http"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/AmoditYadav/amodit-space/internal/httputil"
	"github.com/AmoditYadav/amodit-space/internal/metrics"
)

const (
	transportWS = "ws"

	// Clients only send control frames and close; anything bigger is abuse.
	maxClientMessage = 512
)

// HandleWS serves the keyframe stream over a WebSocket. Each batch is one
// text frame; keep-alives are ping control frames.
// GET /api/v1/stream/ws?step=1&trail=20
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	p, err := parseParams(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if !h.acquire(w, ip) {
		return
	}
	defer h.limiter.release(ip)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		metrics.IncStreamErrors("upgrade_error")
		h.logger.Warn("websocket upgrade failed", "remote_ip", ip, "error", err)
		return
	}
	defer conn.Close()

	metrics.IncStreamConnections(transportWS, "connect")
	metrics.IncStreamsActive(transportWS)

	startTime := time.Now()
	h.logger.Info("stream connected",
		"transport", transportWS,
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
		"step_seconds", int(p.step.Seconds()),
		"trail", p.trail,
	)

	defer func() {
		metrics.IncStreamConnections(transportWS, "disconnect")
		metrics.DecStreamsActive(transportWS)
		h.logger.Info("stream disconnected",
			"transport", transportWS,
			"remote_ip", ip,
			"duration_seconds", int(time.Since(startTime).Seconds()),
		)
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The read side only exists to process control frames and notice the
	// peer going away.
	conn.SetReadLimit(maxClientMessage)
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if ws.IsUnexpectedCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
					h.logger.Debug("websocket read error", "remote_ip", ip, "error", err)
				}
				return
			}
		}
	}()

	c := &wsClient{
		ctx:       ctx,
		conn:      conn,
		bandwidth: newBandwidthLimiter(h.config.BandwidthLimit),
	}
	h.run(ctx, c, p, ip)

	conn.WriteControl(ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}
