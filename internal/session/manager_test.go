package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medsage/internal/model"
)

type memSessionStore struct {
	mu       sync.Mutex
	sessions map[uint]*model.ConsultSession
	nextID   uint
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: map[uint]*model.ConsultSession{}}
}

func (s *memSessionStore) Create(session *model.ConsultSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	session.ID = s.nextID
	s.sessions[session.ID] = session
	return nil
}

func (s *memSessionStore) ListByUserID(userID uint) ([]model.ConsultSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ConsultSession
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			out = append(out, *sess)
		}
	}
	return out, nil
}

func (s *memSessionStore) GetByIDAndUserID(sessionID, userID uint) (*model.ConsultSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.UserID != userID {
		return nil, nil
	}
	return sess, nil
}

func (s *memSessionStore) DeleteByIDAndUserID(sessionID, userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// memTurnStore appends under a lock and assigns monotone ids, matching
// the autoincrement append the manager relies on for ordering.
type memTurnStore struct {
	mu     sync.Mutex
	turns  []model.ConversationTurn
	nextID uint
}

func (s *memTurnStore) Create(turn *model.ConversationTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	turn.ID = s.nextID
	s.turns = append(s.turns, *turn)
	return nil
}

func (s *memTurnStore) ListBySession(userID, sessionID uint, limit int) ([]model.ConversationTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ConversationTurn
	for _, t := range s.turns {
		if t.UserID == userID && t.SessionID == sessionID {
			out = append(out, t)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memTurnStore) ListRecentBySession(userID, sessionID uint, limit int) ([]model.ConversationTurn, error) {
	all, err := s.ListBySession(userID, sessionID, 0)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (s *memTurnStore) DeleteBySession(userID, sessionID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.turns[:0]
	for _, t := range s.turns {
		if t.UserID != userID || t.SessionID != sessionID {
			kept = append(kept, t)
		}
	}
	s.turns = kept
	return nil
}

type spyCache struct {
	mu         sync.Mutex
	dirtyCalls int
	deletes    int
}

func (c *spyCache) GetTurns(ctx context.Context, userID, sessionID uint) ([]model.ConversationTurn, bool, error) {
	return nil, false, nil
}

func (c *spyCache) SetTurns(ctx context.Context, userID, sessionID uint, turns []model.ConversationTurn) error {
	return nil
}

func (c *spyCache) Delete(ctx context.Context, userID, sessionID uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	return nil
}

func (c *spyCache) MarkDirty(ctx context.Context, userID, sessionID uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirtyCalls++
	return nil
}

func (c *spyCache) IsDirty(ctx context.Context, userID, sessionID uint) (bool, error) {
	return true, nil
}

func newTestManager(t *testing.T) (*Manager, *memTurnStore, *spyCache, uint) {
	t.Helper()
	sessions := newMemSessionStore()
	turns := &memTurnStore{}
	cache := &spyCache{}
	m := NewManager(sessions, turns, cache, 20, 24*time.Hour)

	s, err := m.CreateSession(7, "checkup")
	require.NoError(t, err)
	return m, turns, cache, s.ID
}

func TestAppendTurnConcurrentNoLostUpdates(t *testing.T) {
	m, turns, cache, sessionID := newTestManager(t)

	const writers = 25
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := m.AppendTurn(context.Background(), 7, sessionID, &model.ConversationTurn{
				Role:    "user",
				Content: fmt.Sprintf("message %d", i),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	history, err := m.History(context.Background(), 7, sessionID, 100)
	require.NoError(t, err)
	require.Len(t, history, writers)

	// the store's append assigned every turn a distinct, monotone id
	seen := make(map[uint]bool, writers)
	var last uint
	for _, turn := range history {
		assert.False(t, seen[turn.ID], "duplicate id %d", turn.ID)
		seen[turn.ID] = true
		assert.Greater(t, turn.ID, last)
		last = turn.ID
	}

	// every append invalidated the cached window before writing
	assert.Equal(t, writers, cache.dirtyCalls)
	assert.Equal(t, len(turns.turns), writers)
}

func TestGetContextSplitsRecencyWindow(t *testing.T) {
	sessions := newMemSessionStore()
	turns := &memTurnStore{}
	m := NewManager(sessions, turns, nil, 20, time.Hour)

	s, err := m.CreateSession(7, "checkup")
	require.NoError(t, err)

	old := model.ConversationTurn{UserID: 7, SessionID: s.ID, Role: "user", Content: "older complaint", CreatedAt: time.Now().Add(-2 * time.Hour)}
	require.NoError(t, turns.Create(&old))
	require.NoError(t, m.AppendTurn(context.Background(), 7, s.ID, &model.ConversationTurn{Role: "user", Content: "fresh complaint"}))

	convCtx, err := m.GetContext(context.Background(), 7, s.ID)
	require.NoError(t, err)
	require.Len(t, convCtx.History, 1)
	require.Len(t, convCtx.Recent, 1)
	assert.Equal(t, "older complaint", convCtx.History[0].Content)
	assert.Equal(t, "fresh complaint", convCtx.Recent[0].Content)
}

func TestAppendTurnUnknownSession(t *testing.T) {
	m, _, _, _ := newTestManager(t)

	err := m.AppendTurn(context.Background(), 7, 999, &model.ConversationTurn{Role: "user", Content: "hello"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestPurgeSessionRemovesTurnsAndCache(t *testing.T) {
	m, turns, cache, sessionID := newTestManager(t)
	require.NoError(t, m.AppendTurn(context.Background(), 7, sessionID, &model.ConversationTurn{Role: "user", Content: "hello"}))

	require.NoError(t, m.PurgeSession(context.Background(), 7, sessionID))

	assert.Empty(t, turns.turns)
	assert.GreaterOrEqual(t, cache.deletes, 2) // append + purge
	_, err := m.History(context.Background(), 7, sessionID, 10)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
