package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/policy-rag/internal/core/domain"
)

const keyPrefix = "policy_rag:answer:"

// AnswerCache stores answered results as JSON.
type AnswerCache struct {
	client *redis.Client
}

func NewAnswerCache(ctx context.Context, addr, password string, db int) (*AnswerCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &AnswerCache{client: client}, nil
}

func newWithClient(client *redis.Client) *AnswerCache {
	return &AnswerCache{client: client}
}

func (c *AnswerCache) Close() error {
	return c.client.Close()
}

func (c *AnswerCache) Get(ctx context.Context, key string) (*domain.AnswerResult, bool, error) {
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get answer cache: %w", err)
	}
	var result domain.AnswerResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, false, fmt.Errorf("decode answer cache: %w", err)
	}
	return &result, true, nil
}

func (c *AnswerCache) Set(ctx context.Context, key string, result *domain.AnswerResult, ttl time.Duration) error {
	if result == nil || result.Answer == nil {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode answer cache: %w", err)
	}
	if err := c.client.Set(ctx, keyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("set answer cache: %w", err)
	}
	return nil
}
