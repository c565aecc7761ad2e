package main

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

func newTestConfig() *Config {
	return &Config{
		bind:          "127.0.0.1",
		port:          8080,
		sendBuffer:    8,
		sweepInterval: 10 * time.Second,
	}
}

func newTestArena() *Arena {
	return newArena(newTestConfig())
}

// recvFrame pops one queued outbound frame from a client and decodes it.
func recvFrame(t *testing.T, c *Client) map[string]any {
	t.Helper()

	select {
	case payload, ok := <-c.send:
		if !ok {
			t.Fatal("Send channel closed while expecting a frame")
		}
		var frame map[string]any
		if err := json.Unmarshal(payload, &frame); err != nil {
			t.Fatalf("Failed to decode frame %q: %v", payload, err)
		}
		return frame
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for a frame")
		return nil
	}
}

func expectNoFrame(t *testing.T, c *Client) {
	t.Helper()

	select {
	case payload, ok := <-c.send:
		if ok {
			t.Fatalf("Expected no frame, got %q", payload)
		}
	default:
	}
}

func drainFrames(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

// newWSServer wires the arena routes the way ServePage does and returns a
// running test server.
func newWSServer(t *testing.T, arena *Arena) *httptest.Server {
	t.Helper()

	mux := httprouter.New()
	errs := make(chan error, 64)
	registerArena(arena.cfg, mux, arena, errs)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

// dialWS opens a websocket session against a newWSServer instance.
func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})

	return conn
}

// readWS reads one frame from a live connection and decodes it.
func readWS(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}

	var frame map[string]any
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.Fatalf("Failed to decode frame %q: %v", payload, err)
	}

	return frame
}

func writeWS(t *testing.T, conn *websocket.Conn, msg any) {
	t.Helper()

	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("Failed to write frame: %v", err)
	}
}

// expectNoWSMessage asserts that nothing arrives on the connection before
// the timeout expires. The probe reads the underlying net.Conn directly: a
// timed-out websocket.Conn read would leave a sticky read error that poisons
// every subsequent ReadMessage on the connection.
func expectNoWSMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()

	raw := conn.NetConn()
	if err := raw.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	buf := make([]byte, 1)
	n, err := raw.Read(buf)
	if err == nil || n > 0 {
		t.Fatal("Expected no message, got data on the wire")
	}
	if netErr, ok := err.(interface{ Timeout() bool }); !ok || !netErr.Timeout() {
		t.Fatalf("Unexpected error while waiting for absence of message: %v", err)
	}
	if err := raw.SetReadDeadline(time.Time{}); err != nil {
		t.Fatalf("Failed to clear read deadline: %v", err)
	}
}
