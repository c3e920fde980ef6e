package store

import (
	"context"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
)

// Ephemeral is the fast key-value side of the fact store: task status,
// cached context, short-lived markers.
type Ephemeral struct {
	client *redisv9.Client
}

func NewEphemeral(client *redisv9.Client) *Ephemeral {
	return &Ephemeral{client: client}
}

func (e *Ephemeral) Get(ctx context.Context, key string) (string, bool, error) {
	raw, err := e.client.Get(ctx, key).Result()
	if err == redisv9.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get failed: %w", err)
	}
	return raw, true, nil
}

func (e *Ephemeral) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := e.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

