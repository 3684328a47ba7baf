package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/irisdrone/trafficguard/realtime"
	log "github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboards are served from other origins
	},
}

// HandleWebSocket handles GET /ws
func (h *Handler) HandleWebSocket(c *gin.Context) {
	if h.Hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "Realtime hub not initialized"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("⚠️ WebSocket upgrade failed: %v", err)
		return
	}

	// Authenticated sessions always join their own user room
	authUserID := ""
	if userID, ok := currentUserID(c); ok {
		authUserID = strconv.FormatInt(userID, 10)
	}

	session := realtime.NewSession(h.Hub, conn, authUserID, c.ClientIP())
	h.Hub.Register(session)

	go session.WritePump()
	go session.ReadPump()
}

// GetRealtimeStats handles GET /api/realtime/stats
func (h *Handler) GetRealtimeStats(c *gin.Context) {
	if h.Hub == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}

	stats := h.Hub.Stats()
	resp := gin.H{
		"enabled":  true,
		"sessions": stats.Sessions,
		"rooms":    stats.Rooms,
	}
	if h.NATS != nil {
		resp["relay"] = h.NATS.GetStats()
	}
	c.JSON(http.StatusOK, resp)
}
