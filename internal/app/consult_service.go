package app

import (
	"context"
	"errors"
	"strings"

	"medsage/internal/consult"
	"medsage/internal/model"
	"medsage/internal/session"
)

var ErrQueryEmpty = errors.New("query text is empty")

// ConsultService glues the session manager and the orchestrator together:
// load context, consult, record both turns.
type ConsultService struct {
	sessions     *session.Manager
	orchestrator *consult.Orchestrator
}

type ConsultInput struct {
	UserID    uint
	SessionID uint
	Text      string
	Symptoms  []string
	Duration  string
}

type ConsultResult struct {
	Answer consult.Answer `json:"answer"`
	TurnID uint           `json:"turn_id"`
}

func NewConsultService(sessions *session.Manager, orchestrator *consult.Orchestrator) *ConsultService {
	return &ConsultService{sessions: sessions, orchestrator: orchestrator}
}

func (s *ConsultService) Consult(ctx context.Context, input ConsultInput) (*ConsultResult, error) {
	return s.consult(ctx, input, nil)
}

// ConsultStream is the same flow observed through the sink; events arrive
// in order and the final answer is still recorded as a turn.
func (s *ConsultService) ConsultStream(ctx context.Context, input ConsultInput, sink consult.EventSink) (*ConsultResult, error) {
	return s.consult(ctx, input, sink)
}

func (s *ConsultService) consult(ctx context.Context, input ConsultInput, sink consult.EventSink) (*ConsultResult, error) {
	if input.UserID == 0 || input.SessionID == 0 {
		return nil, ErrInvalidInput
	}
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return nil, ErrQueryEmpty
	}

	convCtx, err := s.sessions.GetContext(ctx, input.UserID, input.SessionID)
	if err != nil {
		return nil, err
	}

	query := consult.Query{
		OwnerID:   input.UserID,
		SessionID: input.SessionID,
		Text:      text,
		Symptoms:  input.Symptoms,
		Duration:  input.Duration,
	}

	userTurn := &model.ConversationTurn{Role: "user", Content: text}
	if err := s.sessions.AppendTurn(ctx, input.UserID, input.SessionID, userTurn); err != nil {
		return nil, err
	}

	answer, err := s.orchestrator.ConsultStream(ctx, query, convCtx, sink)
	if err != nil {
		return nil, err
	}

	assistantTurn := &model.ConversationTurn{Role: "assistant", Content: answer.Narrative}
	assistantTurn.SetAnswerMeta(model.AnswerMeta{
		Reasoners:  answer.Reasoners,
		Confidence: answer.Confidence,
		Urgency:    string(answer.Urgency),
	})
	if err := s.sessions.AppendTurn(ctx, input.UserID, input.SessionID, assistantTurn); err != nil {
		return nil, err
	}

	return &ConsultResult{Answer: *answer, TurnID: assistantTurn.ID}, nil
}

func (s *ConsultService) CreateSession(userID uint, title string) (*model.ConsultSession, error) {
	return s.sessions.CreateSession(userID, title)
}

func (s *ConsultService) ListSessions(userID uint) ([]model.ConsultSession, error) {
	return s.sessions.ListSessions(userID)
}

func (s *ConsultService) History(ctx context.Context, userID, sessionID uint, limit int) ([]model.ConversationTurn, error) {
	return s.sessions.History(ctx, userID, sessionID, limit)
}

func (s *ConsultService) DeleteSession(ctx context.Context, userID, sessionID uint) error {
	return s.sessions.PurgeSession(ctx, userID, sessionID)
}
