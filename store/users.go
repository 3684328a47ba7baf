package store

import (
	"context"

	"github.com/irisdrone/trafficguard/models"
	"gorm.io/gorm"
)

// UserDirectory resolves users by role
type UserDirectory struct {
	db *gorm.DB
}

func NewUserDirectory(db *gorm.DB) *UserDirectory {
	return &UserDirectory{db: db}
}

// UsersWithRoles returns every user holding one of roles, ordered by id
func (d *UserDirectory) UsersWithRoles(ctx context.Context, roles []string) ([]models.User, error) {
	if len(roles) == 0 {
		return []models.User{}, nil
	}
	var users []models.User
	if err := d.db.WithContext(ctx).Where("role IN ?", roles).Order("id").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}
