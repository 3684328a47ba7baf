// Package handlers exposes the incident pipeline, its read models and the realtime
// socket over HTTP.
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/irisdrone/trafficguard/analysis"
	"github.com/irisdrone/trafficguard/natsserver"
	"github.com/irisdrone/trafficguard/pipeline"
	"github.com/irisdrone/trafficguard/realtime"
	"github.com/irisdrone/trafficguard/store"
)

// Analyzer runs a video clip through the analysis service
type Analyzer interface {
	Analyze(ctx context.Context, filename string, video io.Reader) (*analysis.Result, error)
}

// Processor runs an analysis result through the incident pipeline
type Processor interface {
	Process(ctx context.Context, sub pipeline.Submission) (*pipeline.Outcome, error)
}

// Deps are the collaborators the HTTP layer needs
type Deps struct {
	Analyzer      Analyzer
	Pipeline      Processor
	Incidents     *store.IncidentStore
	Notifications *store.NotificationStore
	Emergencies   *store.EmergencyStore
	Hub           *realtime.Hub
	NATS          *natsserver.EmbeddedNATS // nil unless the embedded server carries the relay
	JWTSecret     []byte
}

// Handler serves the API routes
type Handler struct {
	Deps
}

func New(deps Deps) *Handler {
	return &Handler{Deps: deps}
}

// Register mounts every route on the router. intake is applied to the submission routes only.
func (h *Handler) Register(router gin.IRouter, intake ...gin.HandlerFunc) {
	router.GET("/ws", h.OptionalAuth(), h.HandleWebSocket)

	api := router.Group("/api")
	api.Use(h.OptionalAuth())
	{
		incidents := api.Group("/incidents")
		{
			submit := append(append([]gin.HandlerFunc{}, intake...), h.AnalyzeVideo)
			incidents.POST("/analyze-video", submit...)
			detect := append(append([]gin.HandlerFunc{}, intake...), h.TestDetection)
			incidents.POST("/test-detection", detect...)

			incidents.GET("", h.GetIncidents)
			incidents.GET("/nearby", h.GetNearbyIncidents)
			incidents.GET("/geojson", h.GetIncidentsGeoJSON)
			incidents.GET("/:id", h.GetIncident)
		}

		notifications := api.Group("/notifications")
		notifications.Use(RequireAuth())
		{
			notifications.GET("", h.GetNotifications)
			notifications.PATCH("/:id/read", h.MarkNotificationRead)
		}

		api.GET("/emergencies", h.GetEmergencies)
		api.GET("/realtime/stats", h.GetRealtimeStats)
	}
}

// statusFor maps pipeline failures to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message})
}

// pageFromQuery reads limit/offset; store.Page clamps them
func pageFromQuery(c *gin.Context) store.Page {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	return store.Page{Limit: limit, Offset: offset}
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, "Invalid id")
		return 0, false
	}
	return id, true
}
