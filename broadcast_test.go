package main

import (
	"testing"
)

func TestBroadcastExceptSkipsOrigin(t *testing.T) {
	a := newTestArena()

	origin := newClient(nil, 8)
	other1 := newClient(nil, 8)
	other2 := newClient(nil, 8)

	originID := a.reg.Register(origin).ID
	a.reg.Register(other1)
	a.reg.Register(other2)

	a.bcast.BroadcastExcept(originID, MoveMessage{Type: "move", ID: originID, X: 5, Y: 7})

	for _, c := range []*Client{other1, other2} {
		frame := recvFrame(t, c)
		if frame["type"] != "move" {
			t.Errorf("Expected a move frame, got %v", frame["type"])
		}
		if frame["x"] != 5.0 || frame["y"] != 7.0 {
			t.Errorf("Expected position {5, 7}, got {%v, %v}", frame["x"], frame["y"])
		}
	}

	expectNoFrame(t, origin)
}

func TestBroadcastAllIncludesOrigin(t *testing.T) {
	a := newTestArena()

	origin := newClient(nil, 8)
	other := newClient(nil, 8)
	originID := a.reg.Register(origin).ID
	a.reg.Register(other)

	a.bcast.BroadcastAll(ChatMessage{Type: "chat", ID: originID, Name: "Player1", Message: "hi"})

	for _, c := range []*Client{origin, other} {
		frame := recvFrame(t, c)
		if frame["type"] != "chat" || frame["message"] != "hi" {
			t.Errorf("Expected the chat frame, got %v", frame)
		}
	}
}

// One stalled recipient loses the message but must not abort the batch.
func TestBroadcastSkipsFullBuffer(t *testing.T) {
	a := newTestArena()

	stalled := newClient(nil, 1)
	healthy := newClient(nil, 8)
	a.reg.Register(stalled)
	a.reg.Register(healthy)

	if !stalled.trySend([]byte(`{"type":"ping"}`)) {
		t.Fatal("Failed to pre-fill the stalled client's buffer")
	}

	a.bcast.BroadcastAll(RosterMessage{Type: "user_names", Users: a.reg.Names()})

	frame := recvFrame(t, healthy)
	if frame["type"] != "user_names" {
		t.Errorf("Healthy client did not receive the broadcast, got %v", frame)
	}

	if a.reg.Len() != 2 {
		t.Errorf("Broadcast must not evict; expected 2 sessions, got %d", a.reg.Len())
	}
}

func TestBroadcastToClosedClient(t *testing.T) {
	a := newTestArena()

	closed := newClient(nil, 8)
	healthy := newClient(nil, 8)
	a.reg.Register(closed)
	a.reg.Register(healthy)

	closed.shutdown()
	closed.shutdown() // second call must be a no-op

	a.bcast.BroadcastAll(PingMessage{Type: "ping"})

	frame := recvFrame(t, healthy)
	if frame["type"] != "ping" {
		t.Errorf("Healthy client did not receive the broadcast, got %v", frame)
	}
}

func TestTrySendAfterShutdown(t *testing.T) {
	c := newClient(nil, 8)
	c.shutdown()

	if c.trySend([]byte("x")) {
		t.Error("trySend succeeded on a closed client")
	}
}
