package store

import (
	"context"
	"fmt"

	"github.com/irisdrone/trafficguard/models"
	"gorm.io/gorm"
)

// EmergencyFilter narrows emergency listings
type EmergencyFilter struct {
	Status     models.EmergencyStatus
	IncidentID *int64
	Page
}

type EmergencyStore struct {
	db *gorm.DB
}

func NewEmergencyStore(db *gorm.DB) *EmergencyStore {
	return &EmergencyStore{db: db}
}

func (s *EmergencyStore) Create(ctx context.Context, e *models.Emergency) error {
	if e.Status == "" {
		e.Status = models.EmergencyPending
	}
	if err := s.db.WithContext(ctx).Omit("Incident").Create(e).Error; err != nil {
		return fmt.Errorf("failed to create emergency: %w", err)
	}
	return nil
}

// List returns emergencies newest first
func (s *EmergencyStore) List(ctx context.Context, f EmergencyFilter) ([]models.Emergency, error) {
	var rows []models.Emergency
	q := s.db.WithContext(ctx).Model(&models.Emergency{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.IncidentID != nil {
		q = q.Where("incident_id = ?", *f.IncidentID)
	}
	if err := f.Page.apply(q.Order("created_at DESC, id DESC")).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *EmergencyStore) UpdateStatus(ctx context.Context, id int64, status models.EmergencyStatus) error {
	res := s.db.WithContext(ctx).Model(&models.Emergency{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
