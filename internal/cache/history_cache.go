package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"fiqh-rag/internal/rag/schema"
)

// HistoryCache keeps the full turn list of a conversation. A dirty marker is
// set whenever a write is in flight so that a stale read is never stored back.
type HistoryCache struct {
	client         *redisv9.Client
	historyTTL     time.Duration
	dirtyMarkerTTL time.Duration
}

func NewHistoryCache(client *redisv9.Client, historyTTL, dirtyMarkerTTL time.Duration) *HistoryCache {
	if historyTTL <= 0 {
		historyTTL = 60 * time.Second
	}
	if dirtyMarkerTTL <= 0 {
		dirtyMarkerTTL = 5 * time.Second
	}
	return &HistoryCache{
		client:         client,
		historyTTL:     historyTTL,
		dirtyMarkerTTL: dirtyMarkerTTL,
	}
}

func (c *HistoryCache) GetHistory(ctx context.Context, conversationUID string) ([]schema.Turn, bool, error) {
	raw, err := c.client.Get(ctx, historyKey(conversationUID)).Bytes()
	if errors.Is(err, redisv9.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get history failed: %w", err)
	}

	turns, err := decodeTurns(raw)
	if err != nil {
		return nil, false, err
	}
	return turns, true, nil
}

func (c *HistoryCache) SetHistory(ctx context.Context, conversationUID string, turns []schema.Turn) error {
	payload, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("marshal history cache failed: %w", err)
	}
	if err := c.client.Set(ctx, historyKey(conversationUID), payload, c.historyTTL).Err(); err != nil {
		return fmt.Errorf("redis set history failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) DeleteHistory(ctx context.Context, conversationUID string) error {
	if err := c.client.Del(ctx, historyKey(conversationUID)).Err(); err != nil {
		return fmt.Errorf("redis delete history failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) MarkDirty(ctx context.Context, conversationUID string) error {
	if err := c.client.Set(ctx, dirtyKey(conversationUID), "1", c.dirtyMarkerTTL).Err(); err != nil {
		return fmt.Errorf("redis set dirty marker failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) IsDirty(ctx context.Context, conversationUID string) (bool, error) {
	exists, err := c.client.Exists(ctx, dirtyKey(conversationUID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis check dirty marker failed: %w", err)
	}
	return exists > 0, nil
}

func decodeTurns(raw []byte) ([]schema.Turn, error) {
	var turns []schema.Turn
	if err := json.Unmarshal(raw, &turns); err != nil {
		return nil, fmt.Errorf("unmarshal cached history failed: %w", err)
	}
	return turns, nil
}

func historyKey(conversationUID string) string {
	return "chat:history:" + conversationUID
}

func dirtyKey(conversationUID string) string {
	return "chat:history:dirty:" + conversationUID
}
