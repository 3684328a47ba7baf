package models

import (
	"time"
)

// Known user roles
const (
	RolePublic    = "public"
	RolePolice    = "police"
	RoleAmbulance = "ambulance"
	RoleAdmin     = "admin"
)

// User model - read by the pipeline to resolve notification recipients
type User struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Role         string    `gorm:"default:public;index" json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (User) TableName() string {
	return "users"
}
