package model

import (
	"encoding/json"
	"time"
)

// Timeline event categories.
const (
	EventCategoryCondition  = "condition"
	EventCategoryMedication = "medication"
	EventCategoryProcedure  = "procedure"
	EventCategoryVisit      = "visit"
	EventCategoryOther      = "other"
)

// Severity levels, ordered.
const (
	SeverityNormal   = "normal"
	SeverityMild     = "mild"
	SeverityModerate = "moderate"
	SeveritySevere   = "severe"
	SeverityCritical = "critical"
)

// TimelineEvent is one entry in an owner's medical timeline. Events come
// from direct API calls or are derived automatically by document ingestion,
// in which case Provenance carries the originating task id.
type TimelineEvent struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"not null;index" json:"user_id"`
	Category    string    `gorm:"size:32;not null;index" json:"category"`
	Title       string    `gorm:"size:256;not null" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	OccurredAt  time.Time `gorm:"index" json:"occurred_at"`
	Severity    string    `gorm:"size:16;not null" json:"severity"`
	BodyRegions string    `gorm:"type:text" json:"-"` // JSON array of tags
	Provenance  string    `gorm:"size:128" json:"provenance"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (e *TimelineEvent) BodyRegionTags() []string {
	if e.BodyRegions == "" {
		return nil
	}
	var tags []string
	_ = json.Unmarshal([]byte(e.BodyRegions), &tags)
	return tags
}

func (e *TimelineEvent) SetBodyRegionTags(tags []string) {
	if len(tags) == 0 {
		e.BodyRegions = "[]"
		return
	}
	b, _ := json.Marshal(tags)
	e.BodyRegions = string(b)
}

// SeverityRank maps severity labels to an ordinal for comparisons; unknown
// labels rank lowest.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityNormal:
		return 0
	case SeverityMild:
		return 1
	case SeverityModerate:
		return 2
	case SeveritySevere:
		return 3
	case SeverityCritical:
		return 4
	default:
		return -1
	}
}
