// Package docsession keeps each editing session's recently generated
// documents in Redis: a recency-ordered list with a TTL, never persisted
// beyond the session.
package docsession

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"attest/api/internal/docgen"
)

// maxDocuments bounds each session's list; older entries fall off.
const maxDocuments = 50

type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client, prefix: "gendocs:", ttl: ttl}, nil
}

// NewRedisStoreWithClient creates a store from an existing client.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: "gendocs:", ttl: ttl}
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + sessionID
}

// Append records a generated document at the head of the session's list
// and refreshes the session TTL.
func (s *RedisStore) Append(ctx context.Context, sessionID string, doc docgen.Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	key := s.key(sessionID)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, maxDocuments-1)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append document: %w", err)
	}
	return nil
}

// Recent returns up to limit documents, newest first.
func (s *RedisStore) Recent(ctx context.Context, sessionID string, limit int) ([]docgen.Document, error) {
	if limit <= 0 || limit > maxDocuments {
		limit = maxDocuments
	}
	raw, err := s.client.LRange(ctx, s.key(sessionID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	docs := make([]docgen.Document, 0, len(raw))
	for _, item := range raw {
		var doc docgen.Document
		if err := json.Unmarshal([]byte(item), &doc); err != nil {
			return nil, fmt.Errorf("unmarshal document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Clear drops the session's list; used on workflow teardown.
func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("clear documents: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
