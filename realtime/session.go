package realtime

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/irisdrone/trafficguard/models"
	log "github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	// Send buffer size
	sendBufferSize = 256
)

var knownRoles = map[string]bool{
	models.RolePublic:    true,
	models.RolePolice:    true,
	models.RoleAmbulance: true,
	models.RoleAdmin:     true,
}

// Session is one websocket connection registered with the hub
type Session struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	registered chan struct{}
	id         string
	remoteAddr string

	// authUserID is set when the upgrade request carried a valid token
	authUserID string

	mu           sync.Mutex
	rooms        map[string]bool
	roleRoom     string
	locationRoom string
}

type joinRoleData struct {
	Role   string          `json:"role"`
	UserID json.RawMessage `json:"userId"`
}

type joinLocationData struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// NewSession creates a session for an upgraded connection
func NewSession(hub *Hub, conn *websocket.Conn, authUserID, remoteAddr string) *Session {
	return &Session{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufferSize),
		registered: make(chan struct{}),
		id:         uuid.New().String(),
		remoteAddr: remoteAddr,
		authUserID: authUserID,
		rooms:      make(map[string]bool),
	}
}

func (s *Session) ID() string {
	return s.id
}

// ReadPump pumps client messages into the hub until the connection fails
func (s *Session) ReadPump() {
	defer func() {
		s.hub.Unregister(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("⚠️ WebSocket error: %v", err)
			}
			break
		}
		// any client traffic proves liveness
		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("⚠️ Invalid message from %s: %v", s.remoteAddr, err)
			continue
		}
		s.handle(msg)
	}
}

func (s *Session) handle(msg Message) {
	switch msg.Type {
	case MsgJoinRole:
		var data joinRoleData
		if err := json.Unmarshal(msg.Data, &data); err != nil || !knownRoles[data.Role] {
			s.sendError("join:role requires a known role")
			return
		}
		s.joinRole(data.Role, parseUserID(data.UserID))

	case MsgJoinLocation:
		var data joinLocationData
		if err := json.Unmarshal(msg.Data, &data); err != nil || data.Latitude == nil || data.Longitude == nil {
			s.sendError("join:location requires latitude and longitude")
			return
		}
		if *data.Latitude < -90 || *data.Latitude > 90 || *data.Longitude < -180 || *data.Longitude > 180 {
			s.sendError("join:location coordinates out of range")
			return
		}
		s.joinLocation(RoomKey(*data.Latitude, *data.Longitude))

	case MsgLeaveLocation:
		s.joinLocation("")

	case MsgPing:
		s.sendPong()

	default:
		log.Printf("⚠️ Unknown message type: %s", msg.Type)
	}
}

func (s *Session) joinRole(role, userID string) {
	if s.authUserID != "" {
		userID = s.authUserID
	}

	room := RoleRoom(role)
	s.mu.Lock()
	previous := s.roleRoom
	s.roleRoom = room
	s.mu.Unlock()

	if previous != "" && previous != room {
		s.hub.Leave(s, previous)
	}
	s.hub.Join(s, room)
	if userID != "" {
		s.hub.Join(s, "user:"+userID)
	}
	log.Printf("👮 Client %s joined room: %s", s.id, room)
}

// joinLocation moves the session to a new location room; "" just leaves the current one
func (s *Session) joinLocation(room string) {
	s.mu.Lock()
	previous := s.locationRoom
	s.locationRoom = room
	s.mu.Unlock()

	if previous != "" && previous != room {
		s.hub.Leave(s, previous)
	}
	if room != "" {
		s.hub.Join(s, room)
		log.Printf("📍 Client %s joined location room: %s", s.id, room)
	}
}

// WritePump pumps frames from the hub to the websocket connection
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Session) track(room string, joined bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if joined {
		s.rooms[room] = true
	} else {
		delete(s.rooms, room)
	}
}

func (s *Session) joinedRooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

func (s *Session) sendError(errMsg string) {
	s.sendDirect(EventError, map[string]string{"error": errMsg})
}

func (s *Session) sendPong() {
	s.sendDirect(EventPong, map[string]int64{"timestamp": time.Now().UnixMilli()})
}

// sendDirect queues a reply for this session only
func (s *Session) sendDirect(event string, payload interface{}) {
	data, _ := json.Marshal(payload)
	frame, _ := encodeFrame(event, data)

	s.hub.sessionsMu.RLock()
	defer s.hub.sessionsMu.RUnlock()
	if !s.hub.sessions[s] {
		return
	}
	select {
	case s.send <- frame:
	default:
	}
}

// parseUserID accepts a user id sent either as a JSON number or a string
func parseUserID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return strings.TrimSpace(str)
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		return num.String()
	}
	return ""
}
