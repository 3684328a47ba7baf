// Package store persists incidents, notifications and emergencies through gorm
package store

import (
	"errors"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

const (
	defaultLimit = 20
	maxLimit     = 200
)

// Page bounds a listing
type Page struct {
	Limit  int
	Offset int
}

func (p Page) limit() int {
	switch {
	case p.Limit <= 0:
		return defaultLimit
	case p.Limit > maxLimit:
		return maxLimit
	}
	return p.Limit
}

func (p Page) offset() int {
	if p.Offset < 0 {
		return 0
	}
	return p.Offset
}

func (p Page) apply(q *gorm.DB) *gorm.DB {
	return q.Limit(p.limit()).Offset(p.offset())
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
