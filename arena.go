// Chatnmove arena
//
// One shared world per server process. Every visitor gets a session with a
// position, a sprite, and a sequential display name, and sees everyone else
// move, change sprites, rename themselves, and chat in real time.
//
// Features:
// - WebSocket endpoint at /ws, one persistent connection per player
// - New players are announced to the room, and the room is replayed to them
// - move / update_sprite / update_name fan out to everyone except the sender
// - chat fans out to everyone including the sender, style payload passed through
// - Malformed frames get an error reply; the session carries on
// - Disconnects (explicit, transport failure, or sweep eviction) all funnel
//   through one idempotent close path, followed by a user_names roster update
// - Read-only roster at /players, shareable QR code at /qr

package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const maxFrameSize = 64 * 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client owns the write side of one websocket connection. All outbound
// traffic goes through the buffered send channel; only writePump touches
// the connection for writes. The done channel, not a channel close, signals
// shutdown, so a sender waiting for buffer space can never hit a closed
// channel.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn, buffer int) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// trySend queues payload without blocking. It reports false if the client is
// already closed or its buffer is full; the caller decides what that means
// (a broadcast logs and moves on, the sweeper treats it as a dead peer).
func (c *Client) trySend(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// sendWait queues payload, waiting up to the write timeout for buffer space.
// Used for unicast traffic (world replay, error replies) where the writer is
// draining concurrently and dropping would lose required frames.
func (c *Client) sendWait(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- payload:
		return true
	case <-c.done:
		return false
	case <-time.After(timeout):
		return false
	}
}

// shutdown signals the client exactly once, which ends writePump and with it
// the connection. Safe to call from multiple goroutines.
func (c *Client) shutdown() {
	c.once.Do(func() {
		close(c.done)
	})
}

func (c *Client) writePump() {
	defer func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}()

	for {
		select {
		case <-c.done:
			// Flush whatever is already queued, then say goodbye.
			for {
				select {
				case payload := <-c.send:
					_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
					if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
						return
					}
				default:
					_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
					_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}

// Arena glues the registry, the broadcaster, and the per-connection
// lifecycle together.
type Arena struct {
	cfg   *Config
	reg   *Registry
	bcast *Broadcaster
}

func newArena(cfg *Config) *Arena {
	reg := newRegistry()

	return &Arena{
		cfg:   cfg,
		reg:   reg,
		bcast: newBroadcaster(cfg, reg),
	}
}

// sendTo encodes msg for a single recipient, outside any broadcast.
func (a *Arena) sendTo(c *Client, msg any) {
	payload, err := json.Marshal(msg)
	if err != nil {
		logf(a.cfg, "RELAY: Failed to encode %T: %v", msg, err)

		return
	}

	if !c.sendWait(payload) {
		deliveryFailures.Inc()
		logf(a.cfg, "RELAY: Dropped %s for a client with an unavailable outbound buffer", messageType(payload))
	}
}

func (a *Arena) sendError(c *Client, reason string, raw []byte) {
	a.sendTo(c, ErrorMessage{
		Type:    "error",
		Message: reason,
		Raw:     string(raw),
	})
}

// join registers the connection, announces it to the room, and replays the
// room back to the newcomer.
func (a *Arena) join(c *Client) Session {
	s := a.reg.Register(c)
	sessionsGauge.Set(float64(a.reg.Len()))
	logf(a.cfg, "JOIN: Session %d connected as %q", s.ID, s.Name)

	a.bcast.BroadcastExcept(s.ID, NewPlayerMessage{
		Type:   "new_player",
		ID:     s.ID,
		X:      s.X,
		Y:      s.Y,
		Sprite: s.Sprite,
		Name:   s.Name,
	})

	for _, other := range a.reg.Snapshot() {
		if other.ID == s.ID {
			continue
		}
		a.sendTo(c, NewPlayerMessage{
			Type:   "new_player",
			ID:     other.ID,
			X:      other.X,
			Y:      other.Y,
			Sprite: other.Sprite,
			Name:   other.Name,
		})
	}

	return s
}

// close drives Closing→Closed. The registry removal doubles as the
// idempotency guard: a receive-loop failure and a sweeper eviction can race
// here freely, but only the caller that wins the unregister broadcasts the
// shrunken roster.
func (a *Arena) close(c *Client, id uint64, reason string) {
	s, ok := a.reg.Get(id)
	if !ok || !a.reg.Unregister(id) {
		return
	}

	c.shutdown()
	sessionsGauge.Set(float64(a.reg.Len()))
	logf(a.cfg, "LEAVE: Session %d (%q) removed: %s", id, s.Name, reason)

	a.bcast.BroadcastAll(RosterMessage{
		Type:  "user_names",
		Users: a.reg.Names(),
	})
}

// readLoop blocks on the connection until it closes, dispatching each frame.
// Any read error means the transport is gone and the session closes; decode
// problems are handled inside handleFrame and never end the loop.
func (a *Arena) readLoop(c *Client, id uint64) {
	defer a.close(c, id, "connection closed")

	c.conn.SetReadLimit(maxFrameSize)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		a.handleFrame(c, id, raw)
	}
}

func (a *Arena) handleFrame(c *Client, id uint64, raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		a.sendError(c, "invalid JSON frame", raw)

		return
	}

	switch msg.Type {
	case "move":
		if msg.X == nil || msg.Y == nil {
			a.sendError(c, "move requires x and y", raw)

			return
		}
		if !a.reg.UpdatePosition(id, *msg.X, *msg.Y) {
			return
		}
		messagesTotal.WithLabelValues("move").Inc()
		a.bcast.BroadcastExcept(id, MoveMessage{
			Type: "move",
			ID:   id,
			X:    *msg.X,
			Y:    *msg.Y,
		})

	case "chat":
		if msg.Message == nil {
			a.sendError(c, "chat requires a message", raw)

			return
		}
		s, ok := a.reg.Get(id)
		if !ok {
			return
		}
		style := msg.Style
		if len(style) == 0 {
			style = json.RawMessage(`{}`)
		}
		messagesTotal.WithLabelValues("chat").Inc()
		a.bcast.BroadcastAll(ChatMessage{
			Type:    "chat",
			ID:      id,
			Name:    s.Name,
			Message: *msg.Message,
			Style:   style,
		})

	case "update_sprite":
		if msg.Sprite == nil {
			a.sendError(c, "update_sprite requires a sprite", raw)

			return
		}
		if !a.reg.UpdateSprite(id, *msg.Sprite) {
			return
		}
		messagesTotal.WithLabelValues("update_sprite").Inc()
		a.bcast.BroadcastExcept(id, SpriteMessage{
			Type:   "update_sprite",
			ID:     id,
			Sprite: *msg.Sprite,
		})

	case "update_name":
		if msg.Name == nil {
			a.sendError(c, "update_name requires a name", raw)

			return
		}
		old, ok := a.reg.UpdateName(id, *msg.Name)
		if !ok {
			return
		}
		messagesTotal.WithLabelValues("update_name").Inc()
		logf(a.cfg, "RELAY: Session %d renamed %q to %q", id, old, *msg.Name)
		a.bcast.BroadcastExcept(id, NameMessage{
			Type: "update_name",
			ID:   id,
			Name: *msg.Name,
		})

	default:
		a.sendError(c, "unknown message type", raw)
	}
}

// serveWS upgrades the request and runs the session to completion.
func (a *Arena) serveWS() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)

			return
		}

		client := newClient(conn, a.cfg.sendBuffer)

		// The writer must be draining before the world replay is queued,
		// or a world larger than the send buffer loses the tail.
		go client.writePump()

		session := a.join(client)
		a.readLoop(client, session.ID)
	}
}

// servePlayers exposes the current roster as JSON for the page to poll.
func (a *Arena) servePlayers(errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		data, err := json.Marshal(RosterMessage{
			Type:  "user_names",
			Users: a.reg.Names(),
		})
		if err != nil {
			errs <- err

			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		securityHeaders(a.cfg, w)

		written, err := w.Write(data)
		if err != nil {
			errs <- err

			return
		}

		logf(a.cfg, "SERVE: Roster (%s) to %s in %s",
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// qrHandler generates a PNG QR code pointing at the arena page.
func qrHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../qr; strip the trailing "/qr" to get the page URL.
	path := strings.TrimSuffix(r.URL.Path, "qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// registerArena sets up routes so that:
//   - /ws      → websocket session
//   - /players → read-only roster JSON
//   - /qr      → PNG QR code linking to the page
func registerArena(cfg *Config, mux *httprouter.Router, a *Arena, errs chan<- error) {
	mux.GET(cfg.prefix+"/ws", a.serveWS())
	mux.GET(cfg.prefix+"/players", a.servePlayers(errs))
	mux.GET(cfg.prefix+"/qr", qrHandler)
}
