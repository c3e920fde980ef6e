package repository

import (
	"fmt"

	"gorm.io/gorm"

	"medsage/internal/model"
)

type TurnRepository struct {
	db *gorm.DB
}

func NewTurnRepository(db *gorm.DB) *TurnRepository {
	return &TurnRepository{db: db}
}

func (r *TurnRepository) Create(turn *model.ConversationTurn) error {
	if err := r.db.Create(turn).Error; err != nil {
		return fmt.Errorf("create turn failed: %w", err)
	}
	return nil
}

// ListBySession returns turns in append order, owner-scoped.
func (r *TurnRepository) ListBySession(userID, sessionID uint, limit int) ([]model.ConversationTurn, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var turns []model.ConversationTurn
	err := r.db.Where("user_id = ? AND session_id = ?", userID, sessionID).
		Order("id ASC").
		Limit(limit).
		Find(&turns).Error
	if err != nil {
		return nil, fmt.Errorf("list turns failed: %w", err)
	}
	return turns, nil
}

// ListRecentBySession returns the newest turns, still in append order.
func (r *TurnRepository) ListRecentBySession(userID, sessionID uint, limit int) ([]model.ConversationTurn, error) {
	if limit <= 0 {
		limit = 20
	}
	var turns []model.ConversationTurn
	err := r.db.Where("user_id = ? AND session_id = ?", userID, sessionID).
		Order("id DESC").
		Limit(limit).
		Find(&turns).Error
	if err != nil {
		return nil, fmt.Errorf("list recent turns failed: %w", err)
	}
	// reverse into chronological order
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (r *TurnRepository) DeleteBySession(userID, sessionID uint) error {
	if err := r.db.Where("user_id = ? AND session_id = ?", userID, sessionID).Delete(&model.ConversationTurn{}).Error; err != nil {
		return fmt.Errorf("delete turns failed: %w", err)
	}
	return nil
}
