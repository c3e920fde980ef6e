package model

import "time"

// Document is the durable record of one uploaded artifact: metadata, the
// extracted plain text once the ingestion pipeline has produced it, and
// the terminal outcome of the ingestion task. The outcome columns outlive
// the ephemeral status record, so a task's end state stays queryable
// after the record expires.
type Document struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"not null;index" json:"user_id"`
	TaskID         string    `gorm:"size:64;index" json:"task_id"`
	Name           string    `gorm:"size:256;not null" json:"name"`
	FileType       string    `gorm:"size:16;not null" json:"file_type"`
	SizeBytes      int64     `gorm:"not null" json:"size_bytes"`
	Text           string    `gorm:"type:longtext" json:"-"`
	IngestState    string    `gorm:"size:32" json:"ingest_state,omitempty"`
	IngestProgress int       `json:"ingest_progress,omitempty"`
	FailedStage    string    `gorm:"size:32" json:"failed_stage,omitempty"`
	IngestError    string    `gorm:"size:512" json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}
