package model

import "time"

// Medical entity categories used by the graph store.
const (
	EntityCondition  = "condition"
	EntityMedication = "medication"
	EntityBodyRegion = "body_region"
	EntityProcedure  = "procedure"
)

// MedicalEntity is a node in the owner-scoped medical graph. Entities are
// deduplicated per owner by (name, category).
type MedicalEntity struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_owner_entity" json:"user_id"`
	Name      string    `gorm:"size:256;not null;uniqueIndex:idx_owner_entity" json:"name"`
	Category  string    `gorm:"size:32;not null;uniqueIndex:idx_owner_entity" json:"category"`
	Severity  string    `gorm:"size:16" json:"severity"`
	Source    string    `gorm:"size:128" json:"source"` // task id or "manual"
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EntityRelation is a directed edge between two medical entities of the
// same owner.
type EntityRelation struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	FromID    uint      `gorm:"not null;index" json:"from_id"`
	ToID      uint      `gorm:"not null;index" json:"to_id"`
	Relation  string    `gorm:"size:64;not null" json:"relation"` // e.g. affects, treated_by
	CreatedAt time.Time `json:"created_at"`
}
