// Package escalation turns high severity incidents into pending emergencies
package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/irisdrone/trafficguard/analysis"
	"github.com/irisdrone/trafficguard/metrics"
	"github.com/irisdrone/trafficguard/models"
	"github.com/irisdrone/trafficguard/realtime"
	log "github.com/sirupsen/logrus"
)

// ErrEscalation marks a failed automatic escalation
var ErrEscalation = errors.New("escalation failed")

// Emergency types
const (
	TypeAccident     = "accident"
	TypeRoadBlockage = "road_blockage"
	TypeTraffic      = "traffic"
)

// Services an emergency can request
const (
	ServicePolice        = "police"
	ServiceAmbulance     = "ambulance"
	ServiceTrafficPolice = "traffic_police"
)

// Policy holds the contact details and fallback location stamped on automatic emergencies
type Policy struct {
	Hotline         string
	ContactName     string
	DefaultLocation analysis.Location
}

// EmergencyWriter persists emergencies
type EmergencyWriter interface {
	Create(ctx context.Context, e *models.Emergency) error
}

// Escalator applies the policy and announces the resulting emergency
type Escalator struct {
	policy      Policy
	writer      EmergencyWriter
	broadcaster realtime.Broadcaster
	roles       []string
}

// Payload is the emergency:auto event body
type Payload struct {
	ID             int64             `json:"id"`
	Type           string            `json:"type"`
	Severity       models.Severity   `json:"severity"`
	Location       realtime.Place    `json:"location"`
	Description    string            `json:"description"`
	ServicesNeeded models.StringList `json:"servicesNeeded"`
	IncidentID     *int64            `json:"incidentId"`
	AIConfidence   *float64          `json:"aiConfidence"`
	CreatedAt      time.Time         `json:"createdAt"`
	Automatic      bool              `json:"automatic"`
}

func New(policy Policy, writer EmergencyWriter, broadcaster realtime.Broadcaster, roles []string) *Escalator {
	return &Escalator{policy: policy, writer: writer, broadcaster: broadcaster, roles: roles}
}

// ShouldEscalate reports whether an incident of this severity becomes an emergency
func ShouldEscalate(severity models.Severity) bool {
	return severity == models.SeverityHigh || severity == models.SeverityCritical
}

// Build derives the emergency for an incident without persisting it.
// Coordinates come from the request, then the incident, then the policy default.
func (p Policy) Build(incident *models.Incident, result *analysis.Result, requested *analysis.Location) *models.Emergency {
	loc, source := p.resolveLocation(incident, requested)
	detail := fmt.Sprintf("AI-Detected %s. Confidence: %d%%. Vehicle count: %d.",
		incident.Type, analysis.ConfidencePercent(incident.Confidence), result.VehicleCount)

	e := &models.Emergency{
		IncidentID:          &incident.ID,
		Severity:            incident.Severity,
		Lat:                 loc.Lat,
		Lon:                 loc.Lon,
		LocationName:        loc.Name,
		LocationSource:      source,
		LocationDescription: detail,
		ContactPhone:        p.Hotline,
		ContactName:         p.ContactName,
		Status:              models.EmergencyPending,
	}

	switch result.Type {
	case analysis.RawAccident:
		e.EmergencyType = TypeAccident
		e.ServicesNeeded = models.StringList{ServicePolice, ServiceAmbulance}
		e.Description = fmt.Sprintf("🚨 AUTOMATIC ALERT: Traffic accident detected at %s. %d vehicles stationary. Immediate response needed.",
			loc.Name, result.StationaryCount)
	case analysis.RawRoadBlockage:
		e.EmergencyType = TypeRoadBlockage
		e.ServicesNeeded = models.StringList{ServicePolice}
		e.Description = fmt.Sprintf("🚧 AUTOMATIC ALERT: Road blockage detected at %s. %d vehicles affected. Traffic control needed.",
			loc.Name, result.VehicleCount)
	case analysis.RawCongestion:
		e.EmergencyType = TypeTraffic
		e.ServicesNeeded = models.StringList{ServiceTrafficPolice}
		e.Description = fmt.Sprintf("🚦 AUTOMATIC ALERT: Heavy traffic congestion detected at %s. %d vehicles in frame. Traffic management required.",
			loc.Name, result.MaxVehicleCount)
	default:
		e.EmergencyType = TypeTraffic
		e.ServicesNeeded = models.StringList{}
		e.Description = fmt.Sprintf("⚠️ AUTOMATIC ALERT: %s detected at %s (%d%% confidence).",
			incident.Type, loc.Name, analysis.ConfidencePercent(incident.Confidence))
	}
	return e
}

func (p Policy) resolveLocation(incident *models.Incident, requested *analysis.Location) (analysis.Location, models.LocationSource) {
	name := incident.LocationName
	if name == "" {
		name = p.DefaultLocation.Name
	}

	if requested != nil {
		if requested.Name != "" {
			name = requested.Name
		}
		return analysis.Location{Lat: requested.Lat, Lon: requested.Lon, Name: name}, models.LocationFromRequest
	}
	// incidents recorded without a location carry 0,0
	if incident.Lat != 0 || incident.Lon != 0 {
		return analysis.Location{Lat: incident.Lat, Lon: incident.Lon, Name: name}, models.LocationFromIncident
	}
	return p.DefaultLocation, models.LocationFromDefault
}

// Escalate creates and announces an emergency for incident when its severity calls for one.
// It returns nil, nil for incidents that do not escalate.
func (x *Escalator) Escalate(ctx context.Context, incident *models.Incident, result *analysis.Result, requested *analysis.Location) (*models.Emergency, error) {
	if !ShouldEscalate(incident.Severity) {
		return nil, nil
	}

	e := x.policy.Build(incident, result, requested)
	if e.LocationSource == models.LocationFromDefault {
		log.WithFields(log.Fields{
			"incident_id": incident.ID,
			"location":    e.LocationName,
		}).Warn("⚠️ No location for escalated incident, using default coordinates")
	}

	if err := x.writer.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEscalation, err)
	}
	metrics.EmergenciesCreatedTotal.WithLabelValues(e.EmergencyType).Inc()
	log.Printf("🚨 AUTOMATIC EMERGENCY CREATED: ID %d, Type: %s, Location: %s", e.ID, e.EmergencyType, e.LocationName)

	rooms := make([]string, 0, len(x.roles))
	for _, role := range x.roles {
		rooms = append(rooms, realtime.RoleRoom(role))
	}
	payload := Payload{
		ID:             e.ID,
		Type:           e.EmergencyType,
		Severity:       e.Severity,
		Location:       realtime.Place{Name: e.LocationName, Lat: e.Lat, Lon: e.Lon},
		Description:    e.Description,
		ServicesNeeded: e.ServicesNeeded,
		IncidentID:     e.IncidentID,
		AIConfidence:   incident.Confidence,
		CreatedAt:      e.CreatedAt,
		Automatic:      true,
	}
	// no roles configured means nobody is targeted, not everybody
	if len(rooms) > 0 {
		if err := x.broadcaster.Broadcast(ctx, realtime.EventEmergencyAuto, payload, rooms...); err != nil {
			metrics.StageFailuresTotal.WithLabelValues("broadcast").Inc()
			log.WithError(err).WithField("emergency_id", e.ID).Warn("⚠️ Failed to broadcast automatic emergency")
		}
	}
	return e, nil
}
