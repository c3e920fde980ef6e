package model

import (
	"encoding/json"
	"time"
)

// AnswerMeta records which reasoners contributed to an assistant turn.
type AnswerMeta struct {
	Reasoners  []string `json:"reasoners,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
	Urgency    string   `json:"urgency,omitempty"`
}

// ConversationTurn is one append-only entry in a consultation session.
// Ordering is by insertion; turns are never updated, only purged with
// their session.
type ConversationTurn struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID uint      `gorm:"not null;index" json:"session_id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Role      string    `gorm:"size:16;not null" json:"role"` // user | assistant
	Content   string    `gorm:"type:text;not null" json:"content"`
	Meta      string    `gorm:"type:text" json:"-"` // JSON AnswerMeta, empty for user turns
	CreatedAt time.Time `json:"created_at"`
}

func (t *ConversationTurn) AnswerMeta() *AnswerMeta {
	if t.Meta == "" {
		return nil
	}
	var m AnswerMeta
	if err := json.Unmarshal([]byte(t.Meta), &m); err != nil {
		return nil
	}
	return &m
}

func (t *ConversationTurn) SetAnswerMeta(m AnswerMeta) {
	b, _ := json.Marshal(m)
	t.Meta = string(b)
}
