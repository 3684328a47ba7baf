// Package pipeline runs an analysis result through classification, persistence,
// notification fan-out, escalation and realtime broadcast.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/irisdrone/trafficguard/analysis"
	"github.com/irisdrone/trafficguard/metrics"
	"github.com/irisdrone/trafficguard/models"
	"github.com/irisdrone/trafficguard/realtime"
	"github.com/irisdrone/trafficguard/store"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// IncidentCreator persists classified incidents
type IncidentCreator interface {
	Create(ctx context.Context, in store.NewIncident) (*models.Incident, error)
}

// Notifier fans an incident out to privileged users
type Notifier interface {
	Notify(ctx context.Context, incident *models.Incident, result *analysis.Result) (int, error)
}

// Escalator turns an incident into an emergency when warranted
type Escalator interface {
	Escalate(ctx context.Context, incident *models.Incident, result *analysis.Result, requested *analysis.Location) (*models.Emergency, error)
}

// Submission is one analysis result entering the pipeline
type Submission struct {
	Result     *analysis.Result
	Location   *analysis.Location
	ReporterID *int64
}

// Outcome describes what the pipeline did with a submission
type Outcome struct {
	Result    *analysis.Result
	Incident  *models.Incident
	Emergency *models.Emergency
	Notified  int
}

// IncidentCreated reports whether a new incident was stored
func (o *Outcome) IncidentCreated() bool {
	return o != nil && o.Incident != nil
}

// IncidentPayload is the incident:new and incident:nearby event body
type IncidentPayload struct {
	ID           int64               `json:"id"`
	Type         models.IncidentType `json:"type"`
	Severity     models.Severity     `json:"severity"`
	Location     realtime.Place      `json:"location"`
	Description  string              `json:"description"`
	AIConfidence *float64            `json:"aiConfidence"`
	VehicleCount int                 `json:"vehicleCount"`
	AvgSpeed     float64             `json:"avgSpeed"`
	CreatedAt    time.Time           `json:"createdAt"`
}

// StageTimeout bounds the follow-up stages that run after an incident is stored
const StageTimeout = 30 * time.Second

// Pipeline wires the stages together. All dependencies are injected.
type Pipeline struct {
	incidents   IncidentCreator
	notifier    Notifier
	escalator   Escalator
	broadcaster realtime.Broadcaster
}

func New(incidents IncidentCreator, notifier Notifier, escalator Escalator, broadcaster realtime.Broadcaster) *Pipeline {
	return &Pipeline{
		incidents:   incidents,
		notifier:    notifier,
		escalator:   escalator,
		broadcaster: broadcaster,
	}
}

// Process runs one submission. An error means no incident was created; once the
// incident is stored, later stage failures are logged and counted but not returned.
func (p *Pipeline) Process(ctx context.Context, sub Submission) (*Outcome, error) {
	started := time.Now()
	defer func() {
		metrics.ProcessingDurationSeconds.Observe(time.Since(started).Seconds())
	}()

	result := sub.Result
	if result != nil && sub.Location != nil {
		result.Location = sub.Location
	}
	if err := analysis.Validate(result); err != nil {
		metrics.SubmissionsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	out := &Outcome{Result: result}
	if !result.Detected {
		metrics.SubmissionsTotal.WithLabelValues("no_incident").Inc()
		log.Println("🔍 No incident detected")
		return out, nil
	}

	cls := analysis.Classify(result.Type, result.Confidence)
	in := store.NewIncident{
		Classification: cls,
		Description:    analysis.Describe(result),
		Metadata:       result.Metadata(),
		ReporterID:     sub.ReporterID,
	}
	if loc := sub.Location; loc != nil {
		in.Lat, in.Lon, in.LocationName = loc.Lat, loc.Lon, loc.Name
		if in.LocationName == "" {
			in.LocationName = "AI Detected Location"
		}
	}

	incident, err := p.incidents.Create(ctx, in)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("persistence_error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	out.Incident = incident
	metrics.SubmissionsTotal.WithLabelValues("incident").Inc()
	metrics.IncidentsCreatedTotal.WithLabelValues(string(incident.Severity)).Inc()
	log.Printf("✅ Incident created: ID %d, %s (%s)", incident.ID, incident.Type, incident.Severity)

	// The caller may hang up once the incident is stored; the remaining stages
	// must still run to completion.
	stageCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), StageTimeout)
	defer cancel()

	p.announce(stageCtx, incident, result, sub.Location != nil)

	// Fan-out and escalation are independent; neither can fail the request
	var g errgroup.Group
	g.Go(func() error {
		n, err := p.notifier.Notify(stageCtx, incident, result)
		if err != nil {
			p.stageFailed("fanout", incident, err)
			return err
		}
		out.Notified = n
		return nil
	})
	g.Go(func() error {
		e, err := p.escalator.Escalate(stageCtx, incident, result, sub.Location)
		if err != nil {
			p.stageFailed("escalation", incident, err)
			return err
		}
		out.Emergency = e
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Warnf("⚠️ Incident %d stored with incomplete follow-up: %v", incident.ID, err)
	}

	return out, nil
}

// announce pushes incident:new to everyone and incident:nearby to the location room
func (p *Pipeline) announce(ctx context.Context, incident *models.Incident, result *analysis.Result, located bool) {
	payload := IncidentPayload{
		ID:           incident.ID,
		Type:         incident.Type,
		Severity:     incident.Severity,
		Location:     realtime.Place{Name: incident.LocationName, Lat: incident.Lat, Lon: incident.Lon},
		Description:  incident.Description,
		AIConfidence: incident.Confidence,
		VehicleCount: result.VehicleCount,
		AvgSpeed:     result.AvgSpeed,
		CreatedAt:    incident.CreatedAt,
	}

	if err := p.broadcaster.Broadcast(ctx, realtime.EventIncidentNew, payload); err != nil {
		p.stageFailed("broadcast", incident, err)
	}
	if located {
		room := realtime.RoomKey(incident.Lat, incident.Lon)
		if err := p.broadcaster.Broadcast(ctx, realtime.EventIncidentNearby, payload, room); err != nil {
			p.stageFailed("broadcast", incident, err)
		}
	}
}

func (p *Pipeline) stageFailed(stage string, incident *models.Incident, err error) {
	metrics.StageFailuresTotal.WithLabelValues(stage).Inc()
	log.WithFields(log.Fields{
		"stage":       stage,
		"incident_id": incident.ID,
	}).WithError(err).Error("❌ Pipeline stage failed")
}
