package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"medsage/internal/model"
)

type TimelineRepository struct {
	db *gorm.DB
}

// TimelineFilter narrows a timeline listing; zero values mean no filter.
// Owner scoping is not part of the filter: every query carries the user id
// explicitly.
type TimelineFilter struct {
	Category string
	From     time.Time
	To       time.Time
	Limit    int
}

func NewTimelineRepository(db *gorm.DB) *TimelineRepository {
	return &TimelineRepository{db: db}
}

func (r *TimelineRepository) Create(event *model.TimelineEvent) error {
	if err := r.db.Create(event).Error; err != nil {
		return fmt.Errorf("create timeline event failed: %w", err)
	}
	return nil
}

func (r *TimelineRepository) GetByIDAndUserID(id, userID uint) (*model.TimelineEvent, error) {
	var event model.TimelineEvent
	if err := r.db.Where("id = ? AND user_id = ?", id, userID).First(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get timeline event failed: %w", err)
	}
	return &event, nil
}

func (r *TimelineRepository) ListByUserID(userID uint, filter TimelineFilter) ([]model.TimelineEvent, error) {
	q := r.db.Where("user_id = ?", userID)
	if filter.Category != "" {
		q = q.Where("category = ?", filter.Category)
	}
	if !filter.From.IsZero() {
		q = q.Where("occurred_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		q = q.Where("occurred_at <= ?", filter.To)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var events []model.TimelineEvent
	if err := q.Order("occurred_at DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("list timeline events failed: %w", err)
	}
	return events, nil
}

func (r *TimelineRepository) Update(event *model.TimelineEvent) error {
	if err := r.db.Save(event).Error; err != nil {
		return fmt.Errorf("update timeline event failed: %w", err)
	}
	return nil
}

func (r *TimelineRepository) DeleteByIDAndUserID(id, userID uint) error {
	if err := r.db.Where("id = ? AND user_id = ?", id, userID).Delete(&model.TimelineEvent{}).Error; err != nil {
		return fmt.Errorf("delete timeline event failed: %w", err)
	}
	return nil
}
