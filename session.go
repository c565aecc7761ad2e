// Session bookkeeping for the presence relay.
//
// Every websocket connection gets exactly one Session holding its last-known
// state (position, sprite, display name) plus the Client used to write back
// to it. Sessions live in a Registry guarded by a single RWMutex; the lock is
// never held across network writes. Broadcast and sweep code iterate over
// Snapshot copies, so a concurrent join or leave can never tear an entry out
// from under them.

package main

import (
	"fmt"
	"sort"
	"sync"
)

const (
	defaultX      = 100
	defaultY      = 100
	defaultSprite = "new player"
)

// Session is the server-side record of one connected client.
type Session struct {
	ID     uint64
	X      float64
	Y      float64
	Sprite string
	Name   string

	client *Client
}

// Registry is the authoritative in-memory set of active sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uint64]*Session
	nextID   uint64
	nextName uint64
}

func newRegistry() *Registry {
	return &Registry{
		sessions: make(map[uint64]*Session),
	}
}

// Register allocates a fresh session id and sequential display name, inserts
// a session with default state, and returns a copy of the new entry.
// Display names are not guaranteed unique; a client can rename itself to
// anything, including a name the counter will hand out later.
func (r *Registry) Register(c *Client) Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	r.nextName++

	s := &Session{
		ID:     r.nextID,
		X:      defaultX,
		Y:      defaultY,
		Sprite: defaultSprite,
		Name:   fmt.Sprintf("Player%d", r.nextName),
		client: c,
	}
	r.sessions[s.ID] = s

	return *s
}

// Unregister removes the session and reports whether it was present.
// Removing an absent id is a no-op, which makes the close path idempotent:
// however many goroutines race to tear a session down, exactly one of them
// sees true here.
func (r *Registry) Unregister(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)

	return true
}

// Get returns a copy of the session, if present.
func (r *Registry) Get(id uint64) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}

	return *s, true
}

// UpdatePosition stores a client-reported position verbatim. Values are not
// bounds-checked; positions are trusted as reported.
func (r *Registry) UpdatePosition(id uint64, x, y float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	s.X, s.Y = x, y

	return true
}

func (r *Registry) UpdateSprite(id uint64, sprite string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	s.Sprite = sprite

	return true
}

// UpdateName replaces the display name and returns the previous one so the
// caller can log it. No uniqueness check.
func (r *Registry) UpdateName(id uint64, name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return "", false
	}
	old := s.Name
	s.Name = name

	return old, true
}

// Snapshot returns a point-in-time copy of every session, ordered by id.
func (r *Registry) Snapshot() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})

	return out
}

// Names returns the current roster of display names, ordered by session id.
func (r *Registry) Names() []string {
	snapshot := r.Snapshot()

	names := make([]string, 0, len(snapshot))
	for _, s := range snapshot {
		names = append(names, s.Name)
	}

	return names
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}
