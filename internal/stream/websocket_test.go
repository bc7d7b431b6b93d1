package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
)

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestWebSocketStream(t *testing.T) {
	store := testStore()
	clock := testClock()
	handler := NewHandler(runningCache(t, store, clock), store, clock, testConfig(), testLogger())

	srv := httptest.NewServer(http.HandlerFunc(handler.HandleWS))
	defer srv.Close()

	conn, resp, err := ws.DefaultDialer.Dial(wsURL(srv, "/api/v1/stream/ws?step=1&trail=0"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Errorf("status = %d, want 101", resp.StatusCode)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var meta metadataMessage
	if err := conn.ReadJSON(&meta); err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	if meta.Type != "metadata" || meta.CatalogSource != "test" {
		t.Errorf("metadata = %+v", meta)
	}

	var batch keyframeBatchMessage
	if err := conn.ReadJSON(&batch); err != nil {
		t.Fatalf("read batch: %v", err)
	}
	if batch.Type != "keyframe_batch" {
		t.Errorf("type = %q, want keyframe_batch", batch.Type)
	}
	if len(batch.Bodies) != 4 {
		t.Errorf("batch has %d bodies, want 4", len(batch.Bodies))
	}
	for _, b := range batch.Bodies {
		if b.Tr != nil {
			t.Errorf("%s: trail sent with trail=0", b.ID)
		}
		if b.M == nil {
			t.Errorf("%s: missing moon", b.ID)
		}
	}

	// Closing from the client frees the stream slot.
	conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
	deadline := time.Now().Add(3 * time.Second)
	for handler.limiter.totalCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream slot not released after close")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWebSocketRateLimit(t *testing.T) {
	store := testStore()
	cfg := testConfig()
	cfg.MaxConcurrentPerIP = 1
	handler := NewHandler(idleCache(store), store, testClock(), cfg, testLogger())

	srv := httptest.NewServer(http.HandlerFunc(handler.HandleWS))
	defer srv.Close()

	first, _, err := ws.DefaultDialer.Dial(wsURL(srv, "/"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer first.Close()

	_, resp, err := ws.DefaultDialer.Dial(wsURL(srv, "/"), nil)
	if err == nil {
		t.Fatal("second dial should be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("response = %v, want 429", resp)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body["error"] == "" {
		t.Errorf("expected JSON error body, got %v (%v)", body, err)
	}
}

func TestWebSocketOrigin(t *testing.T) {
	store := testStore()
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://amodit.space"}
	handler := NewHandler(idleCache(store), store, testClock(), cfg, testLogger())

	srv := httptest.NewServer(http.HandlerFunc(handler.HandleWS))
	defer srv.Close()

	_, resp, err := ws.DefaultDialer.Dial(wsURL(srv, "/"), http.Header{"Origin": {"https://evil.example"}})
	if err == nil {
		t.Fatal("foreign origin should be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v, want 403", resp)
	}

	conn, _, err := ws.DefaultDialer.Dial(wsURL(srv, "/"), http.Header{"Origin": {"https://amodit.space"}})
	if err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
	conn.Close()
}
