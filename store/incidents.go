package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/golang/geo/s2"
	"github.com/irisdrone/trafficguard/analysis"
	"github.com/irisdrone/trafficguard/models"
	"gorm.io/gorm"
)

// earthRadiusKm is the mean Earth radius used for great-circle distances
const earthRadiusKm = 6371.0088

// NewIncident carries everything needed to record a classified detection
type NewIncident struct {
	Classification analysis.Classification
	Description    string
	Lat            float64
	Lon            float64
	LocationName   string
	Metadata       map[string]interface{}
	ReporterID     *int64
}

// IncidentFilter narrows incident listings. Empty fields match everything.
type IncidentFilter struct {
	Status   models.IncidentStatus
	Type     models.IncidentType
	Severity models.Severity
	Page
}

// NearbyIncident is an incident annotated with its distance from the query point
type NearbyIncident struct {
	models.Incident
	DistanceKm float64 `json:"distanceKm"`
}

// IncidentStore reads and writes incidents
type IncidentStore struct {
	db *gorm.DB
}

func NewIncidentStore(db *gorm.DB) *IncidentStore {
	return &IncidentStore{db: db}
}

// Create always inserts a new active incident and returns the stored row
func (s *IncidentStore) Create(ctx context.Context, in NewIncident) (*models.Incident, error) {
	incident := &models.Incident{
		ReporterID:   in.ReporterID,
		Type:         in.Classification.Type,
		Severity:     in.Classification.Severity,
		Description:  in.Description,
		Lat:          in.Lat,
		Lon:          in.Lon,
		LocationName: in.LocationName,
		Status:       models.IncidentActive,
	}
	if c := in.Classification.Confidence; c != nil {
		rounded := math.Round(*c*100) / 100
		incident.Confidence = &rounded
	}
	if in.Metadata != nil {
		incident.Metadata = models.NewJSONB(in.Metadata)
	}

	if err := s.db.WithContext(ctx).Create(incident).Error; err != nil {
		return nil, fmt.Errorf("failed to create incident: %w", err)
	}
	return incident, nil
}

func (s *IncidentStore) Get(ctx context.Context, id int64) (*models.Incident, error) {
	var incident models.Incident
	if err := s.db.WithContext(ctx).First(&incident, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &incident, nil
}

// List returns incidents newest first
func (s *IncidentStore) List(ctx context.Context, f IncidentFilter) ([]models.Incident, error) {
	var incidents []models.Incident
	q := f.where(s.db.WithContext(ctx).Model(&models.Incident{}))
	if err := f.Page.apply(q.Order("created_at DESC, id DESC")).Find(&incidents).Error; err != nil {
		return nil, err
	}
	return incidents, nil
}

// Nearby returns incidents within radiusKm of (lat, lon), closest first
func (s *IncidentStore) Nearby(ctx context.Context, lat, lon, radiusKm float64, f IncidentFilter) ([]NearbyIncident, error) {
	if radiusKm <= 0 {
		return []NearbyIncident{}, nil
	}
	origin := s2.LatLngFromDegrees(lat, lon)
	if !origin.IsValid() {
		return nil, fmt.Errorf("%w: invalid coordinates (%v, %v)", analysis.ErrValidation, lat, lon)
	}

	// Bounding box prefilter, refined below with the exact distance
	latDelta := radiusKm / 111.0
	lonDelta := 180.0
	if cosLat := math.Cos(lat * math.Pi / 180); cosLat > 1e-6 {
		lonDelta = math.Min(180, radiusKm/(111.0*cosLat))
	}

	var candidates []models.Incident
	q := f.where(s.db.WithContext(ctx).Model(&models.Incident{})).
		Where("latitude BETWEEN ? AND ?", lat-latDelta, lat+latDelta)
	minLon, maxLon := lon-lonDelta, lon+lonDelta
	switch {
	case lonDelta >= 180:
	case minLon < -180:
		// the box wraps across the antimeridian
		q = q.Where("(longitude >= ? OR longitude <= ?)", minLon+360, maxLon)
	case maxLon > 180:
		q = q.Where("(longitude >= ? OR longitude <= ?)", minLon, maxLon-360)
	default:
		q = q.Where("longitude BETWEEN ? AND ?", minLon, maxLon)
	}
	if err := q.Find(&candidates).Error; err != nil {
		return nil, err
	}

	nearby := make([]NearbyIncident, 0, len(candidates))
	for _, incident := range candidates {
		d := origin.Distance(s2.LatLngFromDegrees(incident.Lat, incident.Lon)).Radians() * earthRadiusKm
		if d <= radiusKm {
			nearby = append(nearby, NearbyIncident{Incident: incident, DistanceKm: d})
		}
	}
	sort.SliceStable(nearby, func(i, j int) bool { return nearby[i].DistanceKm < nearby[j].DistanceKm })

	start := f.Page.offset()
	if start >= len(nearby) {
		return []NearbyIncident{}, nil
	}
	end := start + f.Page.limit()
	if end > len(nearby) {
		end = len(nearby)
	}
	return nearby[start:end], nil
}

func (s *IncidentStore) UpdateStatus(ctx context.Context, id int64, status models.IncidentStatus) error {
	res := s.db.WithContext(ctx).Model(&models.Incident{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeBefore deletes incidents in the given status created before cutoff.
// Emergencies that referenced them keep their own copy of the location and are detached.
func (s *IncidentStore) PurgeBefore(ctx context.Context, status models.IncidentStatus, cutoff time.Time) (int64, error) {
	var purged int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stale := tx.Model(&models.Incident{}).Select("id").Where("status = ? AND created_at < ?", status, cutoff)
		if err := tx.Model(&models.Emergency{}).Where("incident_id IN (?)", stale).Update("incident_id", nil).Error; err != nil {
			return err
		}
		res := tx.Where("status = ? AND created_at < ?", status, cutoff).Delete(&models.Incident{})
		purged = res.RowsAffected
		return res.Error
	})
	return purged, err
}

func (f IncidentFilter) where(q *gorm.DB) *gorm.DB {
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", f.Severity)
	}
	return q
}
