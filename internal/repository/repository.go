package repository

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrDuplicate     = errors.New("record already exists")
	ErrInvalidCursor = errors.New("invalid cursor")
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// ListFilter narrows evidence listings. Pages are ordered by id and the
// cursor is the last id of the previous page.
type ListFilter struct {
	Status        string
	Unmatched     bool
	MinConfidence *float64
	Cursor        string
	Limit         int
}

func (f ListFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultPageSize
	case f.Limit > maxPageSize:
		return maxPageSize
	}
	return f.Limit
}

func (f ListFilter) apply(q *gorm.DB) (*gorm.DB, error) {
	q = q.Order("id ASC").Limit(f.limit() + 1)

	if f.Status != "" && f.Status != "all" {
		q = q.Where("status = ?", f.Status)
	}
	if f.MinConfidence != nil {
		q = q.Where("confidence >= ?", *f.MinConfidence)
	}
	if f.Cursor != "" {
		cursor, err := uuid.Parse(f.Cursor)
		if err != nil {
			return nil, ErrInvalidCursor
		}
		q = q.Where("id > ?", cursor)
	}
	return q, nil
}

// page trims the extra probe row and returns the next cursor.
func page[T any](items []T, limit int, id func(T) uuid.UUID) ([]T, string, bool) {
	if len(items) <= limit {
		return items, "", false
	}
	items = items[:limit]
	return items, id(items[limit-1]).String(), true
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
