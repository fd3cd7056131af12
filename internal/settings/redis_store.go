package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each section as a JSON document under settings:<section>.
type RedisStore struct {
	redis *redis.Client
}

var (
	_ Provider = (*RedisStore)(nil)
	_ Writer   = (*RedisStore)(nil)
)

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{redis: client}
}

func (s *RedisStore) key(section string) string {
	return fmt.Sprintf("settings:%s", section)
}

// Get returns the stored section, or its defaults when nothing was saved.
func (s *RedisStore) Get(ctx context.Context, section string) (json.RawMessage, error) {
	def, err := defaultSection(section)
	if err != nil {
		return nil, err
	}
	data, err := s.redis.Get(ctx, s.key(section)).Bytes()
	if errors.Is(err, redis.Nil) {
		return json.Marshal(def)
	}
	if err != nil {
		return nil, fmt.Errorf("settings: get %s: %w", section, err)
	}
	return normalize(section, data)
}

func (s *RedisStore) Set(ctx context.Context, section string, raw json.RawMessage) error {
	data, err := normalize(section, raw)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(section), []byte(data), 0).Err(); err != nil {
		return fmt.Errorf("settings: set %s: %w", section, err)
	}
	return nil
}

func (s *RedisStore) General(ctx context.Context) (General, error) {
	return decodeSection[General](ctx, s, SectionGeneral)
}

func (s *RedisStore) Booking(ctx context.Context) (Booking, error) {
	return decodeSection[Booking](ctx, s, SectionBooking)
}

func (s *RedisStore) Communications(ctx context.Context) (Communications, error) {
	return decodeSection[Communications](ctx, s, SectionCommunications)
}
