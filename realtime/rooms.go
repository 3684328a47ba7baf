package realtime

import (
	"fmt"
	"math"
)

// Events pushed to clients
const (
	EventIncidentNew     = "incident:new"
	EventIncidentNearby  = "incident:nearby"
	EventEmergencyAuto   = "emergency:auto"
	EventNotificationNew = "notification:new"
	EventPong            = "pong"
	EventError           = "error"
)

// Messages accepted from clients
const (
	MsgJoinRole      = "join:role"
	MsgJoinLocation  = "join:location"
	MsgLeaveLocation = "leave:location"
	MsgPing          = "ping"
)

// RoomKey maps a coordinate onto its ~1km location room, e.g. loc_-195_3006
func RoomKey(lat, lon float64) string {
	return fmt.Sprintf("loc_%d_%d", roundHalfUp(lat*100), roundHalfUp(lon*100))
}

// RoleRoom is the room every session announcing role joins
func RoleRoom(role string) string {
	return "role:" + role
}

// UserRoom is the private room of a single user
func UserRoom(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

// roundHalfUp rounds halves toward positive infinity, so -2.5 becomes -2
func roundHalfUp(x float64) int64 {
	return int64(math.Floor(x + 0.5))
}
