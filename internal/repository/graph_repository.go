package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"medsage/internal/model"
)

// GraphRepository persists the owner-scoped medical entity graph: entity
// nodes deduplicated by (owner, name, category) and directed relations
// between them.
type GraphRepository struct {
	db *gorm.DB
}

func NewGraphRepository(db *gorm.DB) *GraphRepository {
	return &GraphRepository{db: db}
}

// UpsertEntity creates the entity or refreshes severity/source on the
// existing node. The returned entity always carries its row id.
func (r *GraphRepository) UpsertEntity(entity *model.MedicalEntity) error {
	var existing model.MedicalEntity
	err := r.db.Where("user_id = ? AND name = ? AND category = ?",
		entity.UserID, entity.Name, entity.Category).First(&existing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if createErr := r.db.Create(entity).Error; createErr != nil {
				return fmt.Errorf("create entity failed: %w", createErr)
			}
			return nil
		}
		return fmt.Errorf("lookup entity failed: %w", err)
	}

	existing.Severity = entity.Severity
	existing.Source = entity.Source
	if err := r.db.Save(&existing).Error; err != nil {
		return fmt.Errorf("update entity failed: %w", err)
	}
	*entity = existing
	return nil
}

func (r *GraphRepository) UpsertRelation(rel *model.EntityRelation) error {
	var existing model.EntityRelation
	err := r.db.Where("user_id = ? AND from_id = ? AND to_id = ? AND relation = ?",
		rel.UserID, rel.FromID, rel.ToID, rel.Relation).First(&existing).Error
	if err == nil {
		*rel = existing
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("lookup relation failed: %w", err)
	}
	if err := r.db.Create(rel).Error; err != nil {
		return fmt.Errorf("create relation failed: %w", err)
	}
	return nil
}

func (r *GraphRepository) ListEntitiesByUserID(userID uint, category string) ([]model.MedicalEntity, error) {
	q := r.db.Where("user_id = ?", userID)
	if category != "" {
		q = q.Where("category = ?", category)
	}
	var entities []model.MedicalEntity
	if err := q.Order("updated_at DESC").Find(&entities).Error; err != nil {
		return nil, fmt.Errorf("list entities failed: %w", err)
	}
	return entities, nil
}

// Neighbors returns entities connected to the given node, either direction.
func (r *GraphRepository) Neighbors(userID, entityID uint) ([]model.MedicalEntity, error) {
	var rels []model.EntityRelation
	err := r.db.Where("user_id = ? AND (from_id = ? OR to_id = ?)", userID, entityID, entityID).
		Find(&rels).Error
	if err != nil {
		return nil, fmt.Errorf("list relations failed: %w", err)
	}
	if len(rels) == 0 {
		return nil, nil
	}

	ids := make([]uint, 0, len(rels))
	for _, rel := range rels {
		other := rel.FromID
		if other == entityID {
			other = rel.ToID
		}
		ids = append(ids, other)
	}

	var entities []model.MedicalEntity
	if err := r.db.Where("user_id = ? AND id IN ?", userID, ids).Find(&entities).Error; err != nil {
		return nil, fmt.Errorf("list neighbor entities failed: %w", err)
	}
	return entities, nil
}
