package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/irisdrone/trafficguard/analysis"
	"github.com/irisdrone/trafficguard/models"
	"github.com/irisdrone/trafficguard/pipeline"
	"github.com/irisdrone/trafficguard/store"
	geojson "github.com/paulmach/go.geojson"
	log "github.com/sirupsen/logrus"
)

const defaultNearbyRadiusKm = 5.0

// detectionRequest is a pre-computed analysis submitted without a video
type detectionRequest struct {
	Detected        bool               `json:"incident_detected"`
	Type            string             `json:"type"`
	Confidence      *float64           `json:"confidence"`
	VehicleCount    int                `json:"vehicle_count"`
	MaxVehicleCount int                `json:"max_vehicle_count"`
	AvgSpeed        float64            `json:"avg_speed"`
	StationaryCount int                `json:"stationary_count"`
	FramesAnalyzed  int                `json:"frames_analyzed"`
	AnalysisTime    float64            `json:"analysis_time"`
	Location        *analysis.Location `json:"location"`
}

func (r detectionRequest) result() *analysis.Result {
	confidence := r.Confidence
	// simulators send percentages
	if confidence != nil && *confidence > 1 && *confidence <= 100 {
		c := *confidence / 100
		confidence = &c
	}
	return &analysis.Result{
		Detected:        r.Detected,
		Type:            r.Type,
		Confidence:      confidence,
		VehicleCount:    r.VehicleCount,
		MaxVehicleCount: r.MaxVehicleCount,
		AvgSpeed:        r.AvgSpeed,
		StationaryCount: r.StationaryCount,
		FramesAnalyzed:  r.FramesAnalyzed,
		AnalysisTime:    r.AnalysisTime,
	}
}

// AnalyzeVideo handles POST /api/incidents/analyze-video
func (h *Handler) AnalyzeVideo(c *gin.Context) {
	file, header, err := c.Request.FormFile("video")
	if err != nil {
		fail(c, http.StatusBadRequest, "No video file provided")
		return
	}
	defer file.Close()

	loc, err := locationFromForm(c)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	log.WithFields(log.Fields{
		"filename": header.Filename,
		"size":     header.Size,
	}).Info("🎥 Video received for analysis")

	result, err := h.Analyzer.Analyze(c.Request.Context(), header.Filename, file)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.process(c, result, loc)
}

// TestDetection handles POST /api/incidents/test-detection
func (h *Handler) TestDetection(c *gin.Context) {
	var req detectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.process(c, req.result(), req.Location)
}

func (h *Handler) process(c *gin.Context, result *analysis.Result, loc *analysis.Location) {
	sub := pipeline.Submission{Result: result, Location: loc}
	if userID, ok := currentUserID(c); ok {
		sub.ReporterID = &userID
	}

	out, err := h.Pipeline.Process(c.Request.Context(), sub)
	if err != nil {
		h.respondError(c, err)
		return
	}

	message := "No incident detected"
	if out.IncidentCreated() {
		message = "Incident detected and reported"
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    outcomeData(out),
		"message": message,
	})
}

func outcomeData(out *pipeline.Outcome) gin.H {
	r := out.Result
	data := gin.H{
		"incident_detected": r.Detected,
		"incident_type":     r.Type,
		"confidence":        r.Confidence,
		"vehicle_count":     r.VehicleCount,
		"max_vehicle_count": r.MaxVehicleCount,
		"avg_speed":         r.AvgSpeed,
		"stationary_count":  r.StationaryCount,
		"frames_analyzed":   r.FramesAnalyzed,
		"analysis_time":     r.AnalysisTime,
		"incident_created":  out.IncidentCreated(),
		"incident_id":       nil,
		"severity":          nil,
	}
	if out.IncidentCreated() {
		data["incident_id"] = out.Incident.ID
		data["severity"] = out.Incident.Severity
	}
	return data
}

func (h *Handler) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusBadRequest:
		fail(c, status, err.Error())
	case http.StatusServiceUnavailable:
		log.WithError(err).Warn("⚠️ Analysis service unavailable")
		c.JSON(status, gin.H{
			"success": false,
			"message": "AI analysis service is unavailable. Please try again later.",
			"error":   "AI_SERVICE_UNAVAILABLE",
		})
	default:
		log.WithError(err).Error("❌ Failed to process analysis")
		fail(c, status, "Failed to process video analysis")
	}
}

// locationFromForm reads the optional latitude/longitude/location_name fields
func locationFromForm(c *gin.Context) (*analysis.Location, error) {
	latRaw := strings.TrimSpace(c.PostForm("latitude"))
	lonRaw := strings.TrimSpace(c.PostForm("longitude"))
	if latRaw == "" && lonRaw == "" {
		return nil, nil
	}
	if latRaw == "" || lonRaw == "" {
		return nil, errors.New("latitude and longitude must be provided together")
	}

	lat, err := strconv.ParseFloat(latRaw, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid latitude %q", latRaw)
	}
	lon, err := strconv.ParseFloat(lonRaw, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid longitude %q", lonRaw)
	}
	return &analysis.Location{Lat: lat, Lon: lon, Name: strings.TrimSpace(c.PostForm("location_name"))}, nil
}

func incidentFilter(c *gin.Context) store.IncidentFilter {
	return store.IncidentFilter{
		Status:   models.IncidentStatus(c.Query("status")),
		Type:     models.IncidentType(c.Query("type")),
		Severity: models.Severity(c.Query("severity")),
		Page:     pageFromQuery(c),
	}
}

// GetIncidents handles GET /api/incidents
func (h *Handler) GetIncidents(c *gin.Context) {
	incidents, err := h.Incidents.List(c.Request.Context(), incidentFilter(c))
	if err != nil {
		log.WithError(err).Error("❌ Failed to list incidents")
		fail(c, http.StatusInternalServerError, "Failed to fetch incidents")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": incidents, "count": len(incidents)})
}

// GetNearbyIncidents handles GET /api/incidents/nearby?latitude=&longitude=&radius=
func (h *Handler) GetNearbyIncidents(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("latitude"), 64)
	lon, errLon := strconv.ParseFloat(c.Query("longitude"), 64)
	if errLat != nil || errLon != nil {
		fail(c, http.StatusBadRequest, "latitude and longitude are required")
		return
	}
	radius := defaultNearbyRadiusKm
	if raw := c.Query("radius"); raw != "" {
		r, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			fail(c, http.StatusBadRequest, "Invalid radius")
			return
		}
		radius = r
	}

	incidents, err := h.Incidents.Nearby(c.Request.Context(), lat, lon, radius, incidentFilter(c))
	if err != nil {
		if errors.Is(err, analysis.ErrValidation) {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		log.WithError(err).Error("❌ Failed to query nearby incidents")
		fail(c, http.StatusInternalServerError, "Failed to fetch nearby incidents")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": incidents, "count": len(incidents), "radiusKm": radius})
}

// GetIncidentsGeoJSON handles GET /api/incidents/geojson. Unlocated incidents are left out.
func (h *Handler) GetIncidentsGeoJSON(c *gin.Context) {
	incidents, err := h.Incidents.List(c.Request.Context(), incidentFilter(c))
	if err != nil {
		log.WithError(err).Error("❌ Failed to list incidents")
		fail(c, http.StatusInternalServerError, "Failed to fetch incidents")
		return
	}

	fc := geojson.NewFeatureCollection()
	for _, incident := range incidents {
		if incident.Lat == 0 && incident.Lon == 0 {
			continue
		}
		f := geojson.NewPointFeature([]float64{incident.Lon, incident.Lat})
		f.ID = incident.ID
		f.SetProperty("type", incident.Type)
		f.SetProperty("severity", incident.Severity)
		f.SetProperty("status", incident.Status)
		f.SetProperty("locationName", incident.LocationName)
		f.SetProperty("description", incident.Description)
		f.SetProperty("createdAt", incident.CreatedAt)
		if incident.Confidence != nil {
			f.SetProperty("aiConfidence", *incident.Confidence)
		}
		fc.AddFeature(f)
	}

	body, err := fc.MarshalJSON()
	if err != nil {
		fail(c, http.StatusInternalServerError, "Failed to encode incidents")
		return
	}
	c.Data(http.StatusOK, "application/geo+json", body)
}

// GetIncident handles GET /api/incidents/:id
func (h *Handler) GetIncident(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	incident, err := h.Incidents.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			fail(c, http.StatusNotFound, "Incident not found")
			return
		}
		log.WithError(err).Error("❌ Failed to fetch incident")
		fail(c, http.StatusInternalServerError, "Failed to fetch incident")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": incident})
}
