package store

import (
	"context"
	"fmt"
	"time"

	"github.com/irisdrone/trafficguard/models"
	"gorm.io/gorm"
)

// NotificationStore reads and writes per-recipient notifications
type NotificationStore struct {
	db *gorm.DB
}

func NewNotificationStore(db *gorm.DB) *NotificationStore {
	return &NotificationStore{db: db}
}

// CreateBatch inserts all rows in a single statement inside one transaction.
// Either every row is stored or none is.
func (s *NotificationStore) CreateBatch(ctx context.Context, rows []models.Notification) error {
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("failed to insert %d notifications: %w", len(rows), err)
		}
		return nil
	})
}

// ListForUser returns a user's notifications, newest first
func (s *NotificationStore) ListForUser(ctx context.Context, userID int64, unreadOnly bool, page Page) ([]models.Notification, error) {
	var rows []models.Notification
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		q = q.Where("is_read = ?", false)
	}
	if err := page.apply(q.Order("created_at DESC, id DESC")).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkRead flags a notification as read. It only touches rows owned by userID.
func (s *NotificationStore) MarkRead(ctx context.Context, id, userID int64) error {
	res := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_read", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeReadBefore deletes read notifications created before cutoff
func (s *NotificationStore) PurgeReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("is_read = ? AND created_at < ?", true, cutoff).Delete(&models.Notification{})
	return res.RowsAffected, res.Error
}
