package repository

import (
	"cyberrange_backend/internal/model"

	"gorm.io/gorm"
)

type ActivityEventRepository struct {
	DB *gorm.DB
}

func NewActivityEventRepository(db *gorm.DB) *ActivityEventRepository {
	return &ActivityEventRepository{DB: db}
}

func (r *ActivityEventRepository) Append(event *model.ActivityEvent) error {
	return r.DB.Create(event).Error
}

func (r *ActivityEventRepository) ListBySession(sessionID string) ([]model.ActivityEvent, error) {
	var events []model.ActivityEvent
	err := r.DB.Where("session_id = ?", sessionID).
		Order("occurred_at ASC, id ASC").Find(&events).Error
	return events, err
}

func (r *ActivityEventRepository) ListRecent(limit int) ([]model.ActivityEvent, error) {
	var events []model.ActivityEvent
	err := r.DB.Order("id DESC").Limit(limit).Find(&events).Error
	return events, err
}
