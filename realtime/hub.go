package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/irisdrone/trafficguard/metrics"
	log "github.com/sirupsen/logrus"
)

// Hub tracks websocket sessions and their room memberships
type Hub struct {
	sessions   map[*Session]bool
	sessionsMu sync.RWMutex

	// room name -> members
	rooms   map[string]map[*Session]bool
	roomsMu sync.RWMutex

	register   chan *Session
	unregister chan *Session
	quit       chan struct{}
	stopOnce   sync.Once
}

// HubStats is a snapshot of the hub
type HubStats struct {
	Sessions int            `json:"sessions"`
	Rooms    map[string]int `json:"rooms"`
}

// NewHub creates a new hub. Call Run before registering sessions.
func NewHub() *Hub {
	return &Hub{
		sessions:   make(map[*Session]bool),
		rooms:      make(map[string]map[*Session]bool),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		quit:       make(chan struct{}),
	}
}

// Register adds a session to the hub and returns once it can receive events
func (h *Hub) Register(s *Session) {
	select {
	case h.register <- s:
	case <-h.quit:
		return
	}
	select {
	case <-s.registered:
	case <-h.quit:
	}
}

func (h *Hub) Unregister(s *Session) {
	select {
	case h.unregister <- s:
	case <-h.quit:
	}
}

// Run starts the hub's main loop and returns after Stop
func (h *Hub) Run() {
	log.Println("📡 Realtime hub started")

	for {
		select {
		case s := <-h.register:
			h.sessionsMu.Lock()
			h.sessions[s] = true
			h.sessionsMu.Unlock()
			close(s.registered)
			metrics.RealtimeSessions.Inc()
			log.Printf("✅ Client connected: %s (%s)", s.id, s.remoteAddr)

		case s := <-h.unregister:
			h.remove(s)

		case <-h.quit:
			h.sessionsMu.RLock()
			remaining := make([]*Session, 0, len(h.sessions))
			for s := range h.sessions {
				remaining = append(remaining, s)
			}
			h.sessionsMu.RUnlock()
			for _, s := range remaining {
				h.remove(s)
			}
			log.Println("📡 Realtime hub stopped")
			return
		}
	}
}

// Stop ends Run and closes every session
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

func (h *Hub) remove(s *Session) {
	h.sessionsMu.Lock()
	_, ok := h.sessions[s]
	if ok {
		delete(h.sessions, s)
		close(s.send)
	}
	h.sessionsMu.Unlock()
	if !ok {
		return
	}
	metrics.RealtimeSessions.Dec()

	for _, room := range s.joinedRooms() {
		h.Leave(s, room)
	}
	log.Printf("❌ Client disconnected: %s (%s)", s.id, s.remoteAddr)
}

// Join adds a session to a room. The registration check is held until the session
// has tracked the room, so a concurrent remove always sees it and leaves it again.
func (h *Hub) Join(s *Session, room string) {
	h.sessionsMu.RLock()
	defer h.sessionsMu.RUnlock()
	if !h.sessions[s] {
		return
	}

	h.roomsMu.Lock()
	members, exists := h.rooms[room]
	if !exists {
		members = make(map[*Session]bool)
		h.rooms[room] = members
	}
	members[s] = true
	h.roomsMu.Unlock()

	s.track(room, true)
}

// Leave removes a session from a room, dropping the room once empty
func (h *Hub) Leave(s *Session, room string) {
	h.roomsMu.Lock()
	if members, exists := h.rooms[room]; exists {
		delete(members, s)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.roomsMu.Unlock()

	s.track(room, false)
}

// Broadcast sends an event to the local sessions selected by rooms
func (h *Hub) Broadcast(ctx context.Context, event string, payload interface{}, rooms ...string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	return h.deliver(event, data, rooms)
}

func (h *Hub) deliver(event string, data json.RawMessage, rooms []string) error {
	frame, err := encodeFrame(event, data)
	if err != nil {
		return err
	}

	var targets []*Session
	if len(rooms) == 0 {
		h.sessionsMu.RLock()
		targets = make([]*Session, 0, len(h.sessions))
		for s := range h.sessions {
			targets = append(targets, s)
		}
		h.sessionsMu.RUnlock()
	} else {
		seen := make(map[*Session]bool)
		h.roomsMu.RLock()
		for _, room := range rooms {
			for s := range h.rooms[room] {
				if !seen[s] {
					seen[s] = true
					targets = append(targets, s)
				}
			}
		}
		h.roomsMu.RUnlock()
	}

	// Hold the read lock so remove cannot close a send channel mid-delivery
	h.sessionsMu.RLock()
	for _, s := range targets {
		if !h.sessions[s] {
			continue
		}
		select {
		case s.send <- frame:
		default:
			// Session buffer full, skip
			metrics.RealtimeDroppedTotal.Inc()
		}
	}
	h.sessionsMu.RUnlock()

	metrics.RealtimeEventsTotal.WithLabelValues(event).Inc()
	return nil
}

// Stats returns hub statistics
func (h *Hub) Stats() HubStats {
	h.sessionsMu.RLock()
	count := len(h.sessions)
	h.sessionsMu.RUnlock()

	h.roomsMu.RLock()
	rooms := make(map[string]int, len(h.rooms))
	for name, members := range h.rooms {
		rooms[name] = len(members)
	}
	h.roomsMu.RUnlock()

	return HubStats{Sessions: count, Rooms: rooms}
}

// RoomNames returns the active room names in sorted order
func (h *Hub) RoomNames() []string {
	h.roomsMu.RLock()
	names := make([]string, 0, len(h.rooms))
	for name := range h.rooms {
		names = append(names, name)
	}
	h.roomsMu.RUnlock()
	sort.Strings(names)
	return names
}
