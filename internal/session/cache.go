package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"medsage/internal/model"
)

// ContextCache keeps the recent-turn window per (owner, session) in redis.
// A short-lived dirty marker suppresses cache fills while an append is in
// flight, so a concurrent reader never pins a stale window.
type ContextCache struct {
	client         *redisv9.Client
	contextTTL     time.Duration
	dirtyMarkerTTL time.Duration
}

func NewContextCache(client *redisv9.Client, contextTTL, dirtyMarkerTTL time.Duration) *ContextCache {
	if contextTTL <= 0 {
		contextTTL = 60 * time.Second
	}
	if dirtyMarkerTTL <= 0 {
		dirtyMarkerTTL = 5 * time.Second
	}
	return &ContextCache{
		client:         client,
		contextTTL:     contextTTL,
		dirtyMarkerTTL: dirtyMarkerTTL,
	}
}

func (c *ContextCache) GetTurns(ctx context.Context, userID, sessionID uint) ([]model.ConversationTurn, bool, error) {
	raw, err := c.client.Get(ctx, c.contextKey(userID, sessionID)).Result()
	if err == redisv9.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get context failed: %w", err)
	}

	var turns []model.ConversationTurn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached context failed: %w", err)
	}
	return turns, true, nil
}

func (c *ContextCache) SetTurns(ctx context.Context, userID, sessionID uint, turns []model.ConversationTurn) error {
	payload, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("marshal context cache failed: %w", err)
	}
	if err := c.client.Set(ctx, c.contextKey(userID, sessionID), payload, c.contextTTL).Err(); err != nil {
		return fmt.Errorf("redis set context failed: %w", err)
	}
	return nil
}

func (c *ContextCache) Delete(ctx context.Context, userID, sessionID uint) error {
	if err := c.client.Del(ctx, c.contextKey(userID, sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete context failed: %w", err)
	}
	return nil
}

func (c *ContextCache) MarkDirty(ctx context.Context, userID, sessionID uint) error {
	if err := c.client.Set(ctx, c.dirtyKey(userID, sessionID), "1", c.dirtyMarkerTTL).Err(); err != nil {
		return fmt.Errorf("redis set dirty marker failed: %w", err)
	}
	return nil
}

func (c *ContextCache) IsDirty(ctx context.Context, userID, sessionID uint) (bool, error) {
	exists, err := c.client.Exists(ctx, c.dirtyKey(userID, sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis check dirty marker failed: %w", err)
	}
	return exists > 0, nil
}

func (c *ContextCache) contextKey(userID, sessionID uint) string {
	return fmt.Sprintf("consult:context:%d:%d", userID, sessionID)
}

func (c *ContextCache) dirtyKey(userID, sessionID uint) string {
	return fmt.Sprintf("consult:context:dirty:%d:%d", userID, sessionID)
}
