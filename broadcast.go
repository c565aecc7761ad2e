// Wire catalogue and broadcast engine.
//
// Every frame on the wire is a JSON object with a mandatory "type" field.
// Outbound messages are serialized once per broadcast, then fanned out to a
// registry snapshot with a non-blocking send per recipient. A recipient whose
// buffer is full loses that one message; it is logged and skipped, never
// retried, and never evicted from here (eviction belongs to the lifecycle
// and the sweeper).

package main

import (
	"encoding/json"
)

// Messages coming from clients. One struct covers all four inbound kinds;
// which fields are required depends on Type. Value fields are pointers so an
// absent field can be told apart from a legitimate zero or empty string:
// only absence is a decode error, values themselves pass through unvalidated.
type ClientMessage struct {
	Type    string          `json:"type"`              // "move", "chat", "update_sprite", "update_name"
	X       *float64        `json:"x,omitempty"`       // move
	Y       *float64        `json:"y,omitempty"`       // move
	Message *string         `json:"message,omitempty"` // chat
	Style   json.RawMessage `json:"style,omitempty"`   // chat, passed through untouched
	Sprite  *string         `json:"sprite,omitempty"`  // update_sprite
	Name    *string         `json:"name,omitempty"`    // update_name
}

// NewPlayerMessage announces a session to others and replays existing
// sessions to a newcomer.
type NewPlayerMessage struct {
	Type   string  `json:"type"` // "new_player"
	ID     uint64  `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Sprite string  `json:"sprite"`
	Name   string  `json:"name"`
}

type MoveMessage struct {
	Type string  `json:"type"` // "move"
	ID   uint64  `json:"id"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// ChatMessage carries the sender's style payload through verbatim; an absent
// style goes out as an empty object.
type ChatMessage struct {
	Type    string          `json:"type"` // "chat"
	ID      uint64          `json:"id"`
	Name    string          `json:"name"`
	Message string          `json:"message"`
	Style   json.RawMessage `json:"style"`
}

type SpriteMessage struct {
	Type   string `json:"type"` // "update_sprite"
	ID     uint64 `json:"id"`
	Sprite string `json:"sprite"`
}

type NameMessage struct {
	Type string `json:"type"` // "update_name"
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// RosterMessage lists the display names of every connected session.
type RosterMessage struct {
	Type  string   `json:"type"` // "user_names"
	Users []string `json:"users"`
}

// ErrorMessage is sent only to the client whose frame could not be handled.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
	Raw     string `json:"raw,omitempty"`
}

type PingMessage struct {
	Type string `json:"type"` // "ping"
}

// Broadcaster fans messages out to the registry's sessions.
type Broadcaster struct {
	cfg *Config
	reg *Registry
}

func newBroadcaster(cfg *Config, reg *Registry) *Broadcaster {
	return &Broadcaster{
		cfg: cfg,
		reg: reg,
	}
}

// BroadcastAll delivers msg to every session, including the originator.
func (b *Broadcaster) BroadcastAll(msg any) {
	b.fanOut(0, msg)
}

// BroadcastExcept delivers msg to every session except originID.
func (b *Broadcaster) BroadcastExcept(originID uint64, msg any) {
	b.fanOut(originID, msg)
}

// fanOut serializes once, then attempts delivery to each recipient in a
// snapshot taken at call time. Session id 0 is never allocated, so passing
// 0 as originID excludes nobody.
func (b *Broadcaster) fanOut(originID uint64, msg any) {
	payload, err := json.Marshal(msg)
	if err != nil {
		logf(b.cfg, "RELAY: Failed to encode %T: %v", msg, err)

		return
	}

	for _, s := range b.reg.Snapshot() {
		if s.ID == originID {
			continue
		}
		if !s.client.trySend(payload) {
			deliveryFailures.Inc()
			logf(b.cfg, "RELAY: Dropped %s for session %d (%s): outbound buffer unavailable", messageType(payload), s.ID, s.Name)
		}
	}
}

// messageType pulls the "type" discriminator back out of an encoded frame,
// for log lines only.
func messageType(payload []byte) string {
	var frame struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &frame); err != nil || frame.Type == "" {
		return "message"
	}

	return frame.Type
}
