package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateStore maps OAuth state tokens to the pending app they were issued for.
// Take consumes the token.
type StateStore interface {
	Put(ctx context.Context, token, appID string, ttl time.Duration) error
	Take(ctx context.Context, token string) (string, bool, error)
}

func newStateToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// RedisStateStore keeps tokens under oauth_state:<token> with a TTL.
type RedisStateStore struct {
	redis *redis.Client
}

func NewRedisStateStore(client *redis.Client) *RedisStateStore {
	return &RedisStateStore{redis: client}
}

func (s *RedisStateStore) key(token string) string {
	return fmt.Sprintf("oauth_state:%s", token)
}

func (s *RedisStateStore) Put(ctx context.Context, token, appID string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.key(token), appID, ttl).Err(); err != nil {
		return fmt.Errorf("gateway: store state: %w", err)
	}
	return nil
}

func (s *RedisStateStore) Take(ctx context.Context, token string) (string, bool, error) {
	appID, err := s.redis.GetDel(ctx, s.key(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("gateway: take state: %w", err)
	}
	return appID, true, nil
}

type stateEntry struct {
	appID     string
	expiresAt time.Time
}

// MemoryStateStore is the single-process fallback when Redis is not configured.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]stateEntry
	now     func() time.Time
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{entries: make(map[string]stateEntry), now: time.Now}
}

func (s *MemoryStateStore) Put(ctx context.Context, token, appID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
		}
	}
	s.entries[token] = stateEntry{appID: appID, expiresAt: now.Add(ttl)}
	return nil
}

func (s *MemoryStateStore) Take(ctx context.Context, token string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[token]
	if !ok {
		return "", false, nil
	}
	delete(s.entries, token)
	if s.now().After(e.expiresAt) {
		return "", false, nil
	}
	return e.appID, true, nil
}
