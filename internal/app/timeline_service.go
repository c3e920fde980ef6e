package app

import (
	"errors"
	"strings"
	"time"

	"medsage/internal/model"
	"medsage/internal/repository"
	"medsage/internal/store"
)

var ErrEventNotFound = errors.New("timeline event not found")

// TimelineService owns the caller-facing medical timeline. Ingestion
// writes derived events through the fact store directly; this service
// covers manual entries and reads.
type TimelineService struct {
	facts *store.Facts
}

type TimelineEventInput struct {
	Category    string
	Title       string
	Description string
	OccurredAt  time.Time
	Severity    string
	BodyRegions []string
}

type TimelineQuery struct {
	Category string
	From     time.Time
	To       time.Time
	Limit    int
}

func NewTimelineService(facts *store.Facts) *TimelineService {
	return &TimelineService{facts: facts}
}

func (s *TimelineService) CreateEvent(userID uint, input TimelineEventInput) (*model.TimelineEvent, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	title := strings.TrimSpace(input.Title)
	if title == "" || !validCategory(input.Category) {
		return nil, ErrInvalidInput
	}
	occurred := input.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	severity := input.Severity
	if model.SeverityRank(severity) < 0 {
		severity = model.SeverityNormal
	}

	event := &model.TimelineEvent{
		UserID:      userID,
		Category:    input.Category,
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		OccurredAt:  occurred,
		Severity:    severity,
		Provenance:  "manual",
	}
	event.SetBodyRegionTags(input.BodyRegions)
	if err := s.facts.CreateTimelineEvent(event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *TimelineService) GetEvent(userID, eventID uint) (*model.TimelineEvent, error) {
	if userID == 0 || eventID == 0 {
		return nil, ErrInvalidInput
	}
	event, err := s.facts.GetTimelineEvent(userID, eventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, ErrEventNotFound
	}
	return event, nil
}

func (s *TimelineService) ListEvents(userID uint, query TimelineQuery) ([]model.TimelineEvent, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.facts.ListTimeline(userID, repository.TimelineFilter{
		Category: query.Category,
		From:     query.From,
		To:       query.To,
		Limit:    query.Limit,
	})
}

func (s *TimelineService) UpdateEvent(userID, eventID uint, input TimelineEventInput) (*model.TimelineEvent, error) {
	event, err := s.GetEvent(userID, eventID)
	if err != nil {
		return nil, err
	}

	if title := strings.TrimSpace(input.Title); title != "" {
		event.Title = title
	}
	if input.Category != "" {
		if !validCategory(input.Category) {
			return nil, ErrInvalidInput
		}
		event.Category = input.Category
	}
	if desc := strings.TrimSpace(input.Description); desc != "" {
		event.Description = desc
	}
	if !input.OccurredAt.IsZero() {
		event.OccurredAt = input.OccurredAt
	}
	if input.Severity != "" {
		if model.SeverityRank(input.Severity) < 0 {
			return nil, ErrInvalidInput
		}
		event.Severity = input.Severity
	}
	if input.BodyRegions != nil {
		event.SetBodyRegionTags(input.BodyRegions)
	}

	if err := s.facts.UpdateTimelineEvent(event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *TimelineService) DeleteEvent(userID, eventID uint) error {
	if _, err := s.GetEvent(userID, eventID); err != nil {
		return err
	}
	return s.facts.DeleteTimelineEvent(userID, eventID)
}

func validCategory(category string) bool {
	switch category {
	case model.EventCategoryCondition,
		model.EventCategoryMedication,
		model.EventCategoryProcedure,
		model.EventCategoryVisit,
		model.EventCategoryOther:
		return true
	}
	return false
}
