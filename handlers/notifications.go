package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/irisdrone/trafficguard/models"
	"github.com/irisdrone/trafficguard/store"
	log "github.com/sirupsen/logrus"
)

// GetNotifications handles GET /api/notifications for the authenticated user
func (h *Handler) GetNotifications(c *gin.Context) {
	userID, _ := currentUserID(c)
	unreadOnly := c.Query("unreadOnly") == "true"

	rows, err := h.Notifications.ListForUser(c.Request.Context(), userID, unreadOnly, pageFromQuery(c))
	if err != nil {
		log.WithError(err).Error("❌ Failed to list notifications")
		fail(c, http.StatusInternalServerError, "Failed to fetch notifications")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": rows, "count": len(rows)})
}

// MarkNotificationRead handles PATCH /api/notifications/:id/read
func (h *Handler) MarkNotificationRead(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	userID, _ := currentUserID(c)

	if err := h.Notifications.MarkRead(c.Request.Context(), id, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			fail(c, http.StatusNotFound, "Notification not found")
			return
		}
		log.WithError(err).Error("❌ Failed to mark notification read")
		fail(c, http.StatusInternalServerError, "Failed to update notification")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Notification marked as read"})
}

// GetEmergencies handles GET /api/emergencies?status=&incidentId=
func (h *Handler) GetEmergencies(c *gin.Context) {
	f := store.EmergencyFilter{
		Status: models.EmergencyStatus(c.Query("status")),
		Page:   pageFromQuery(c),
	}
	if raw := c.Query("incidentId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			fail(c, http.StatusBadRequest, "Invalid incidentId")
			return
		}
		f.IncidentID = &id
	}

	rows, err := h.Emergencies.List(c.Request.Context(), f)
	if err != nil {
		log.WithError(err).Error("❌ Failed to list emergencies")
		fail(c, http.StatusInternalServerError, "Failed to fetch emergencies")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": rows, "count": len(rows)})
}
