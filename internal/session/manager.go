// Package session supplies the orchestrator with conversation context and
// records new turns. Every read and write is owner-scoped server-side,
// independent of anything the caller passes along.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"medsage/internal/consult"
	"medsage/internal/model"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrSessionNotFound = errors.New("session not found")
)

// Cache is the ephemeral-store slice the manager needs; nil disables
// caching entirely.
type Cache interface {
	GetTurns(ctx context.Context, userID, sessionID uint) ([]model.ConversationTurn, bool, error)
	SetTurns(ctx context.Context, userID, sessionID uint, turns []model.ConversationTurn) error
	Delete(ctx context.Context, userID, sessionID uint) error
	MarkDirty(ctx context.Context, userID, sessionID uint) error
	IsDirty(ctx context.Context, userID, sessionID uint) (bool, error)
}

// SessionStore and TurnStore are the repository slices the manager
// needs. The turn store's Create must be an atomic append: the assigned
// id decides turn ordering, which is what lets concurrent appends
// serialize without lost updates.
type SessionStore interface {
	Create(s *model.ConsultSession) error
	ListByUserID(userID uint) ([]model.ConsultSession, error)
	GetByIDAndUserID(sessionID, userID uint) (*model.ConsultSession, error)
	DeleteByIDAndUserID(sessionID, userID uint) error
}

type TurnStore interface {
	Create(turn *model.ConversationTurn) error
	ListBySession(userID, sessionID uint, limit int) ([]model.ConversationTurn, error)
	ListRecentBySession(userID, sessionID uint, limit int) ([]model.ConversationTurn, error)
	DeleteBySession(userID, sessionID uint) error
}

type Manager struct {
	sessions      SessionStore
	turns         TurnStore
	cache         Cache
	maxTurns      int
	recencyCutoff time.Duration
}

func NewManager(
	sessions SessionStore,
	turns TurnStore,
	cache Cache,
	maxTurns int,
	recencyCutoff time.Duration,
) *Manager {
	if maxTurns <= 0 {
		maxTurns = 20
	}
	if recencyCutoff <= 0 {
		recencyCutoff = 24 * time.Hour
	}
	return &Manager{
		sessions:      sessions,
		turns:         turns,
		cache:         cache,
		maxTurns:      maxTurns,
		recencyCutoff: recencyCutoff,
	}
}

func (m *Manager) CreateSession(userID uint, title string) (*model.ConsultSession, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New Consultation"
	}
	s := &model.ConsultSession{UserID: userID, Title: title}
	if err := m.sessions.Create(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Manager) ListSessions(userID uint) ([]model.ConsultSession, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return m.sessions.ListByUserID(userID)
}

// GetContext returns the bounded conversation window for the orchestrator.
// Turns inside the recency cutoff form the short-term slice; older ones in
// the same window land in History. The cutoff is configuration, not a
// different storage mechanism.
func (m *Manager) GetContext(ctx context.Context, userID, sessionID uint) (consult.Context, error) {
	if userID == 0 || sessionID == 0 {
		return consult.Context{}, ErrInvalidInput
	}
	if err := m.requireSession(userID, sessionID); err != nil {
		return consult.Context{}, err
	}

	turns, err := m.recentTurns(ctx, userID, sessionID)
	if err != nil {
		return consult.Context{}, err
	}

	cutoff := time.Now().Add(-m.recencyCutoff)
	out := consult.Context{}
	for _, t := range turns {
		turn := consult.Turn{Role: t.Role, Content: t.Content}
		if t.CreatedAt.Before(cutoff) {
			out.History = append(out.History, turn)
		} else {
			out.Recent = append(out.Recent, turn)
		}
	}
	return out, nil
}

// AppendTurn records one turn. Ordering is decided by the store's atomic
// append (autoincrement id), not by client timestamps, so concurrent
// appends serialize without lost updates.
func (m *Manager) AppendTurn(ctx context.Context, userID, sessionID uint, turn *model.ConversationTurn) error {
	if userID == 0 || sessionID == 0 || turn == nil {
		return ErrInvalidInput
	}
	if strings.TrimSpace(turn.Content) == "" {
		return ErrInvalidInput
	}
	if err := m.requireSession(userID, sessionID); err != nil {
		return err
	}

	turn.UserID = userID
	turn.SessionID = sessionID
	turn.CreatedAt = time.Now()

	if m.cache != nil {
		_ = m.cache.MarkDirty(ctx, userID, sessionID)
		_ = m.cache.Delete(ctx, userID, sessionID)
	}
	return m.turns.Create(turn)
}

// History returns up to limit turns in append order for the caller-facing
// history endpoint.
func (m *Manager) History(ctx context.Context, userID, sessionID uint, limit int) ([]model.ConversationTurn, error) {
	if userID == 0 || sessionID == 0 {
		return nil, ErrInvalidInput
	}
	if err := m.requireSession(userID, sessionID); err != nil {
		return nil, err
	}
	return m.turns.ListBySession(userID, sessionID, limit)
}

// PurgeSession is the only way turns are ever deleted.
func (m *Manager) PurgeSession(ctx context.Context, userID, sessionID uint) error {
	if userID == 0 || sessionID == 0 {
		return ErrInvalidInput
	}
	if err := m.requireSession(userID, sessionID); err != nil {
		return err
	}
	if err := m.turns.DeleteBySession(userID, sessionID); err != nil {
		return err
	}
	if err := m.sessions.DeleteByIDAndUserID(sessionID, userID); err != nil {
		return err
	}
	if m.cache != nil {
		_ = m.cache.Delete(ctx, userID, sessionID)
	}
	return nil
}

func (m *Manager) requireSession(userID, sessionID uint) error {
	s, err := m.sessions.GetByIDAndUserID(sessionID, userID)
	if err != nil {
		return err
	}
	if s == nil {
		return ErrSessionNotFound
	}
	return nil
}

func (m *Manager) recentTurns(ctx context.Context, userID, sessionID uint) ([]model.ConversationTurn, error) {
	if m.cache != nil {
		if dirty, err := m.cache.IsDirty(ctx, userID, sessionID); err == nil && !dirty {
			if cached, hit, cacheErr := m.cache.GetTurns(ctx, userID, sessionID); cacheErr == nil && hit {
				return cached, nil
			}
		}
	}

	turns, err := m.turns.ListRecentBySession(userID, sessionID, m.maxTurns)
	if err != nil {
		return nil, err
	}
	if m.cache != nil {
		if dirty, err := m.cache.IsDirty(ctx, userID, sessionID); err == nil && !dirty {
			_ = m.cache.SetTurns(ctx, userID, sessionID, turns)
		}
	}
	return turns, nil
}
