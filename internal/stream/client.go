package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	ws "github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/AmoditYadav/amodit-space/internal/metrics"
)

const writeTimeout = 30 * time.Second

// throttle blocks until n bytes fit in the connection's bandwidth budget.
// Writes larger than the burst are charged at the burst size.
func throttle(ctx context.Context, l *rate.Limiter, n int) error {
	if l == nil {
		return nil
	}
	if b := l.Burst(); n > b {
		n = b
	}
	return l.WaitN(ctx, n)
}

// sseClient manages a single SSE connection's write operations.
type sseClient struct {
	ctx       context.Context
	w         http.ResponseWriter
	flusher   http.Flusher
	rc        *http.ResponseController
	bandwidth *rate.Limiter
	logger    *slog.Logger

	messagesSent int64
	bytesSent    int64
}

// sendJSON marshals v as JSON and sends it as an SSE "data:" message.
func (c *sseClient) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	return c.sendRaw(data)
}

// sendRaw sends pre-encoded JSON as "data: {json}\n\n".
func (c *sseClient) sendRaw(data []byte) error {
	if err := throttle(c.ctx, c.bandwidth, len(data)+8); err != nil {
		return fmt.Errorf("bandwidth wait: %w", err)
	}

	// Extend write deadline before each write to prevent timeout on long-lived connections.
	if err := c.rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		c.logger.Debug("could not set write deadline", "error", err)
	}

	n, err := fmt.Fprintf(c.w, "data: %s\n\n", data)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}

	c.flusher.Flush()
	c.messagesSent++
	c.bytesSent += int64(n)
	metrics.IncStreamMessages(transportSSE)
	metrics.AddStreamBytes(transportSSE, int64(n))

	return nil
}

// sendKeepalive sends an SSE comment line to keep the connection alive.
func (c *sseClient) sendKeepalive() error {
	if err := c.rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		c.logger.Debug("could not set write deadline", "error", err)
	}

	n, err := fmt.Fprint(c.w, ":\n\n")
	if err != nil {
		return fmt.Errorf("keepalive write: %w", err)
	}

	c.flusher.Flush()
	c.bytesSent += int64(n)
	metrics.AddStreamBytes(transportSSE, int64(n))

	return nil
}

// wsClient manages a single WebSocket connection's write operations.
// Only the stream loop writes; gorilla connections allow one concurrent writer.
type wsClient struct {
	ctx       context.Context
	conn      *ws.Conn
	bandwidth *rate.Limiter
}

func (c *wsClient) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	return c.sendRaw(data)
}

func (c *wsClient) sendRaw(data []byte) error {
	if err := throttle(c.ctx, c.bandwidth, len(data)); err != nil {
		return fmt.Errorf("bandwidth wait: %w", err)
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(ws.TextMessage, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	metrics.IncStreamMessages(transportWS)
	metrics.AddStreamBytes(transportWS, int64(len(data)))
	return nil
}

func (c *wsClient) sendKeepalive() error {
	if err := c.conn.WriteControl(ws.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}
